// Package session stores per-caller state outside the pipeline. The only
// state kept today is the last search term, so a client can resume it.
package session

import (
	"context"
	"errors"
)

// ErrEmptyID is returned when a store is asked to save without a session id.
var ErrEmptyID = errors.New("session id is empty")

type Store interface {
	// LastQuery returns the last saved term for id. ok is false when
	// nothing is stored or the entry expired.
	LastQuery(ctx context.Context, id string) (query string, ok bool, err error)
	SaveQuery(ctx context.Context, id, query string) error
}

// Sweeper is implemented by stores that can drop expired entries on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// NopStore remembers nothing.
type NopStore struct{}

func (NopStore) LastQuery(context.Context, string) (string, bool, error) { return "", false, nil }
func (NopStore) SaveQuery(context.Context, string, string) error         { return nil }
