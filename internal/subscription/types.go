package subscription

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/devicesync/internal/store"
)

// Mode selects how Update combines the new subscriptions with the active set.
type Mode int

const (
	// Replace discards the active set.
	Replace Mode = iota
	// Augment keeps the active set, replacing subscriptions with the same label.
	Augment
)

// String returns the lowercase name of the mode.
func (m Mode) String() string {
	if m == Augment {
		return "augment"
	}
	return "replace"
}

// Subscription declares a subset of remote records to mirror.
type Subscription struct {
	Label  string           `json:"label"`
	Type   store.RecordType `json:"type"`
	Filter store.Filter     `json:"filter"`
}

// Validate checks the label, type and filter.
func (s Subscription) Validate() error {
	if s.Label == "" {
		return fmt.Errorf("%w: label is required", ErrInvalidSubscription)
	}
	if !s.Type.Valid() || s.Type.Asymmetric() {
		return fmt.Errorf("%w: %q cannot be subscribed to", ErrInvalidSubscription, s.Type)
	}
	if err := s.Filter.Validate(s.Type); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSubscription, s.Label, err)
	}
	return nil
}

// Matches reports whether r is covered by the subscription, ignoring owner.
func (s Subscription) Matches(r store.Record) bool {
	return r != nil && r.Type() == s.Type && s.Filter.Matches(r)
}

// Applier pushes a subscription set to the sync backend. It is called from
// a background goroutine, one call at a time.
type Applier interface {
	ApplySubscriptions(ctx context.Context, owner string, subs []Subscription) error
}

// Evicter removes local records that are no longer subscribed.
type Evicter interface {
	Evict(ctx context.Context, keep func(store.Record) bool) (int, error)
}

// Pending tracks one asynchronous update.
type Pending struct {
	version uint64
	done    chan struct{}
	once    sync.Once
	err     error
}

func newPending(version uint64) *Pending {
	return &Pending{version: version, done: make(chan struct{})}
}

// completedPending returns a Pending that has already finished with err.
func completedPending(err error) *Pending {
	p := newPending(0)
	p.complete(err)
	return p
}

func (p *Pending) complete(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed when the update completes, fails or is superseded.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the update completes or ctx is done.
// It returns ErrSuperseded if a newer update replaced this one.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
