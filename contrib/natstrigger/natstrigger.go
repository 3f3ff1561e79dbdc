// Package natstrigger publishes the changes of successful saves to NATS.
//
// Every change event becomes one JSON message on the subject
// "<prefix><Type>.<op>", such as "persist.BookStore.insert":
//
//	tr, err := natstrigger.New(natstrigger.Config{URL: nats.DefaultURL})
//	if err != nil {
//		return err
//	}
//	defer tr.Close()
//	saver, err := mutation.NewSaver(drv, reg, mutation.WithTrigger(tr))
package natstrigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/mutation"
)

// Publisher sends one message. *nats.Conn implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// JetStream adapts a JetStream context to a Publisher. Messages are
// acknowledged by the stream before Publish returns.
func JetStream(js nats.JetStreamContext) Publisher {
	return jetStream{js: js}
}

type jetStream struct {
	js nats.JetStreamContext
}

func (p jetStream) Publish(subject string, data []byte) error {
	_, err := p.js.Publish(subject, data)
	return err
}

// Config configures the trigger.
type Config struct {
	// Conn is used when set, otherwise a connection to URL is opened and
	// closed by Close.
	Conn *nats.Conn
	URL  string
	// SubjectPrefix is "persist." by default.
	SubjectPrefix string
	// JetStream publishes through JetStream instead of core NATS.
	JetStream bool
	// FlushTimeout bounds the flush following a core NATS submission,
	// 5s by default.
	FlushTimeout time.Duration
	Logger       *zap.Logger
}

// Trigger is a mutation.Trigger publishing to NATS.
type Trigger struct {
	pub      Publisher
	conn     *nats.Conn
	ownsConn bool
	// flushConn is flushed after every submission published through
	// core NATS.
	flushConn *nats.Conn
	prefix    string
	flush     time.Duration
	log       *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ mutation.Trigger = (*Trigger)(nil)

// New connects to NATS and returns a trigger.
func New(cfg Config) (*Trigger, error) {
	t := newTrigger(cfg)
	conn := cfg.Conn
	if conn == nil {
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		c, err := nats.Connect(url, nats.Name("persist-trigger"))
		if err != nil {
			return nil, fmt.Errorf("natstrigger: connect %s: %w", url, err)
		}
		conn, t.ownsConn = c, true
	}
	t.conn = conn
	t.pub, t.flushConn = conn, conn
	if cfg.JetStream {
		js, err := conn.JetStream()
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("natstrigger: jetstream: %w", err)
		}
		t.pub, t.flushConn = JetStream(js), nil
	}
	return t, nil
}

// NewWithPublisher returns a trigger sending through p.
func NewWithPublisher(p Publisher, cfg Config) *Trigger {
	t := newTrigger(cfg)
	t.pub = p
	return t
}

func newTrigger(cfg Config) *Trigger {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "persist."
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Trigger{
		prefix: cfg.SubjectPrefix,
		flush:  cfg.FlushTimeout,
		log:    cfg.Logger.With(zap.String("component", "trigger.nats")),
	}
}

// Message is the JSON form of a change event.
type Message struct {
	Op     string         `json:"op"`
	Type   string         `json:"type"`
	Table  string         `json:"table"`
	ID     any            `json:"id,omitempty"`
	Source any            `json:"source,omitempty"`
	Target any            `json:"target,omitempty"`
	Values map[string]any `json:"values,omitempty"`
}

// Subject returns the subject of an event.
func (t *Trigger) Subject(e mutation.ChangeEvent) string {
	return t.prefix + e.Type + "." + opName(e)
}

func opName(e mutation.ChangeEvent) string {
	return strings.ToLower(strings.TrimPrefix(e.Op.String(), "Op"))
}

// Submit publishes the events in order and stops at the first failure.
func (t *Trigger) Submit(ctx context.Context, events []mutation.ChangeEvent) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.New("natstrigger: trigger closed")
	}
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(newMessage(e))
		if err != nil {
			return fmt.Errorf("natstrigger: encode %s event: %w", e.Type, err)
		}
		subject := t.Subject(e)
		if err := t.pub.Publish(subject, data); err != nil {
			return fmt.Errorf("natstrigger: publish %s: %w", subject, err)
		}
		t.log.Debug("change published", zap.String("subject", subject), zap.Any("id", e.ID))
	}
	if t.flushConn != nil {
		fctx, cancel := context.WithTimeout(ctx, t.flush)
		defer cancel()
		if err := t.flushConn.FlushWithContext(fctx); err != nil {
			return fmt.Errorf("natstrigger: flush: %w", err)
		}
	}
	return nil
}

func newMessage(e mutation.ChangeEvent) Message {
	m := Message{
		Op:     opName(e),
		Type:   e.Type,
		Table:  e.Table,
		ID:     e.ID,
		Source: e.Source,
		Target: e.Target,
	}
	if e.Draft != nil {
		m.Values = columnValues(e.Draft)
	}
	return m
}

// columnValues returns the loaded scalars of d. References contribute the
// id of their target and lists are left out.
func columnValues(d *entity.Draft) map[string]any {
	values := make(map[string]any)
	for _, name := range d.LoadedProps() {
		p := d.Type().Prop(name)
		switch {
		case p.IsReferenceList():
		case p.IsReference():
			if ref := d.Ref(name); ref != nil {
				values[name], _ = ref.ID()
			} else {
				values[name] = nil
			}
		default:
			values[name] = d.Value(name)
		}
	}
	return values
}

// Close closes the connection opened by New.
func (t *Trigger) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
}
