// Package warehouse submits bulk-load statements to an analytic warehouse and
// reports their progress. Statements run asynchronously: Submit returns an id
// immediately and Describe reports the current status.
package warehouse

import (
	"context"
	"errors"

	"isspipe/internal/domain"
)

var (
	// ErrUnknownStatement is returned by Describe for an id the warehouse
	// never issued.
	ErrUnknownStatement = errors.New("unknown statement")

	// ErrUnsupportedStatement is returned by Submit when the SQL is not a
	// bulk load the executor understands.
	ErrUnsupportedStatement = errors.New("unsupported statement")
)

// Statement is the warehouse's view of a submitted statement.
type Statement struct {
	ID     string
	Status domain.JobStatus
	// Detail carries the warehouse error for failed or aborted statements.
	Detail string
}

// Executor is implemented by every warehouse backend.
type Executor interface {
	// Submit queues sql for asynchronous execution and returns its id.
	Submit(ctx context.Context, sql string) (string, error)

	// Describe returns the current status of a submitted statement.
	Describe(ctx context.Context, id string) (Statement, error)
}
