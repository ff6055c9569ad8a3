package repo

import (
	"context"

	"github.com/orionwa/dispatch/internal/model"
)

// QueueStats is the aggregate view the status surface exposes.
type QueueStats struct {
	TotalSent int64
	Pending   int64
}

// MessageRepository is the store contract the dispatcher and the HTTP layer
// consume. Fetching never claims rows: the dispatcher is single-threaded and
// marks every fetched row before the next fetch can happen.
type MessageRepository interface {
	// FetchPending returns up to limit pending rows, oldest queued first.
	FetchPending(ctx context.Context, limit int) ([]model.Message, error)
	// MarkSent records a delivered row and stamps its sent time.
	MarkSent(ctx context.Context, id int64) error
	// MarkFailed records a row the dispatcher has given up on.
	MarkFailed(ctx context.Context, id int64) error

	ListSent(ctx context.Context, limit, offset int) ([]model.Message, error)
	ListPending(ctx context.Context, limit, offset int) ([]model.Message, error)
	Stats(ctx context.Context) (QueueStats, error)
}
