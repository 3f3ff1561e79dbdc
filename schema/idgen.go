package schema

import "github.com/google/uuid"

// Strategy is the id generation strategy of a type.
type Strategy uint8

// Strategies.
const (
	// StrategyAssigned expects the caller to set the id.
	StrategyAssigned Strategy = iota
	// StrategyIdentity lets the database generate the id on insert.
	StrategyIdentity
	// StrategySequence reads the id from a database sequence before insert.
	StrategySequence
	// StrategyUser generates the id in process before insert.
	StrategyUser
)

func (s Strategy) String() string {
	switch s {
	case StrategyAssigned:
		return "assigned"
	case StrategyIdentity:
		return "identity"
	case StrategySequence:
		return "sequence"
	case StrategyUser:
		return "user"
	}
	return "unknown"
}

// IDGenerator generates the ids of new rows. The zero value expects
// assigned ids.
type IDGenerator struct {
	strategy Strategy
	sequence string
	fn       func() any
}

// Identity returns a generator backed by an identity/auto-increment column.
func Identity() IDGenerator {
	return IDGenerator{strategy: StrategyIdentity}
}

// Sequence returns a generator reading the named database sequence.
func Sequence(name string) IDGenerator {
	return IDGenerator{strategy: StrategySequence, sequence: name}
}

// Func returns a generator calling fn for every new row.
func Func(fn func() any) IDGenerator {
	return IDGenerator{strategy: StrategyUser, fn: fn}
}

// UUID returns a generator of random version 4 UUIDs.
func UUID() IDGenerator {
	return Func(func() any { return uuid.New() })
}

// Strategy returns the generation strategy.
func (g IDGenerator) Strategy() Strategy { return g.strategy }

// SequenceName returns the sequence of a StrategySequence generator.
func (g IDGenerator) SequenceName() string { return g.sequence }

// IsIdentity reports whether ids are only known after insert.
func (g IDGenerator) IsIdentity() bool { return g.strategy == StrategyIdentity }

// Generate returns a new id of a StrategyUser generator.
func (g IDGenerator) Generate() any {
	if g.fn == nil {
		return nil
	}
	return g.fn()
}
