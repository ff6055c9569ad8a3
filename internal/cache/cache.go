package cache

import (
	"context"
	"time"
)

// MessageCache keeps a short-lived record of delivered messages so external
// consumers can check delivery without hitting the queue table.
type MessageCache interface {
	StoreSent(ctx context.Context, id int64, sentAt time.Time) error
}
