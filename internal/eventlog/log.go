// Package eventlog provides the durable backing stores for the event bus.
//
// A Log holds the ordered, append-only record of domain events. The bus is
// responsible for serializing writers; implementations only need local
// durability and stable ordering of what they are given.
package eventlog

import (
	"context"

	"github.com/petrijr/steward/pkg/api"
)

// Log is an ordered, append-only event store.
type Log interface {
	// Append adds one event to the end of the log.
	Append(ctx context.Context, ev api.Event) error

	// List returns every event in append order.
	List(ctx context.Context) ([]api.Event, error)

	// Clear truncates the log to empty. Test/reset use only; workflow
	// logic never calls it.
	Clear(ctx context.Context) error
}
