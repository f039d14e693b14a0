package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "20060102"

var (
	// ErrUnknownKind indicates an order kind without a prefix.
	ErrUnknownKind = errors.New("numbering: unknown order kind")
	// ErrMalformed indicates a string that is not an order number.
	ErrMalformed = errors.New("numbering: malformed order number")
)

// Store hands out the next counter value for a date-scoped prefix such as
// "SO-20240501". Implementations must be atomic.
type Store interface {
	Next(ctx context.Context, scope string) (int64, error)
}

// Allocator formats numbers as PREFIX-YYYYMMDD-NNNN.
type Allocator struct {
	store Store
}

// NewAllocator constructs an Allocator over store.
func NewAllocator(store Store) *Allocator {
	return &Allocator{store: store}
}

// Next allocates the next number of kind for date.
func (a *Allocator) Next(ctx context.Context, kind Kind, date time.Time) (string, error) {
	prefix := kind.Prefix()
	if prefix == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	scope := Scope(kind, date)
	seq, err := a.store.Next(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("allocate %s number: %w", scope, err)
	}
	return Format(scope, seq), nil
}

// Scope returns the date-scoped prefix numbers of kind share on date.
func Scope(kind Kind, date time.Time) string {
	return kind.Prefix() + "-" + date.Format(dateLayout)
}

// Format joins scope and sequence, zero-padded to four digits.
func Format(scope string, seq int64) string {
	return fmt.Sprintf("%s-%04d", scope, seq)
}

// Number is a parsed order number.
type Number struct {
	Kind     Kind
	Date     time.Time
	Sequence int64
}

// Parse splits an order number into its parts.
func Parse(s string) (Number, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Number{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	kind, ok := kindForPrefix(parts[0])
	if !ok {
		return Number{}, fmt.Errorf("%w: %q", ErrUnknownKind, parts[0])
	}
	date, err := time.Parse(dateLayout, parts[1])
	if err != nil {
		return Number{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if len(parts[2]) < 4 {
		return Number{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 1 {
		return Number{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Number{Kind: kind, Date: date, Sequence: seq}, nil
}
