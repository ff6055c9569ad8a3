package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/orionwa/dispatch/internal/model"
)

// PostgresMessageRepo reads and updates the shared outbound queue table.
// Status values are the numeric schema contract (0 sent, 1 pending, 2 failed).
type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

func (r *PostgresMessageRepo) FetchPending(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient, COALESCE(body, ''), COALESCE(attachment, ''), status, queued_at, sent_at
		FROM messages
		WHERE status = $1
		ORDER BY queued_at ASC
		LIMIT $2
	`, int(model.Pending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *PostgresMessageRepo) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $2, sent_at = now()
		WHERE id = $1
	`, id, int(model.Sent))
	return err
}

func (r *PostgresMessageRepo) MarkFailed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $2
		WHERE id = $1
	`, id, int(model.Failed))
	return err
}

func (r *PostgresMessageRepo) ListSent(ctx context.Context, limit, offset int) ([]model.Message, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient, COALESCE(body, ''), COALESCE(attachment, ''), status, queued_at, sent_at
		FROM messages
		WHERE status = $1
		ORDER BY sent_at DESC
		LIMIT $2 OFFSET $3
	`, int(model.Sent), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *PostgresMessageRepo) ListPending(ctx context.Context, limit, offset int) ([]model.Message, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient, COALESCE(body, ''), COALESCE(attachment, ''), status, queued_at, sent_at
		FROM messages
		WHERE status = $1
		ORDER BY queued_at ASC
		LIMIT $2 OFFSET $3
	`, int(model.Pending), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *PostgresMessageRepo) Stats(ctx context.Context) (QueueStats, error) {
	var st QueueStats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = $1),
		       COUNT(*) FILTER (WHERE status = $2)
		FROM messages
	`, int(model.Sent), int(model.Pending)).Scan(&st.TotalSent, &st.Pending)
	return st, err
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var out []model.Message
	for rows.Next() {
		var m model.Message
		var status int
		var sentAt sql.NullTime

		if err := rows.Scan(
			&m.ID,
			&m.Recipient,
			&m.Body,
			&m.Attachment,
			&status,
			&m.QueuedAt,
			&sentAt,
		); err != nil {
			return nil, err
		}

		m.Status = model.Status(status)
		if sentAt.Valid {
			t := sentAt.Time
			m.SentAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
