package mutation

import (
	"context"
	"sync"

	"github.com/syssam/persist"
	"github.com/syssam/persist/entity"
)

// ChangeEvent describes one row written by a save. Entity rows carry ID
// and Draft. Middle table rows carry Source and Target.
type ChangeEvent struct {
	Op     persist.Op
	Type   string
	Table  string
	ID     any
	Source any
	Target any
	Draft  *entity.Draft
}

// Trigger receives the changes of a save once the save succeeded, after
// the commit when the save ran in a transaction. Events of a failed save
// are discarded.
type Trigger interface {
	Submit(ctx context.Context, events []ChangeEvent) error
}

// TriggerFunc adapts a function to a Trigger.
type TriggerFunc func(ctx context.Context, events []ChangeEvent) error

// Submit calls f(ctx, events).
func (f TriggerFunc) Submit(ctx context.Context, events []ChangeEvent) error {
	return f(ctx, events)
}

// Collector is a Trigger keeping every submitted event in memory.
type Collector struct {
	mu     sync.Mutex
	events []ChangeEvent
}

// Submit records the events.
func (c *Collector) Submit(_ context.Context, events []ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

// Events returns the recorded events.
func (c *Collector) Events() []ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChangeEvent(nil), c.events...)
}

// Reset drops the recorded events.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// prepared buffers the events of one save until it is submitted.
type prepared struct {
	events []ChangeEvent
}

func (p *prepared) prepare(events ...ChangeEvent) {
	if p != nil {
		p.events = append(p.events, events...)
	}
}

func (p *prepared) list() []ChangeEvent {
	if p == nil {
		return nil
	}
	return p.events
}
