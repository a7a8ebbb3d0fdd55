// Package database records per-request audit rows. The audit log is optional;
// a nil *sql.DB disables it.
package database

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

type RequestRecord struct {
	RequestID string
	Endpoint  string
	Agent     string
	IndexName string
	Status    int
	Duration  time.Duration
	CreatedAt time.Time
}

// SaveRequest inserts one audit row. Callers run it off the request path; an
// audit failure never fails the request.
func SaveRequest(ctx context.Context, db *sql.DB, rec RequestRecord, log *zap.SugaredLogger) {
	if db == nil {
		return
	}
	_, err := db.ExecContext(ctx, `INSERT INTO request (
			request_id, endpoint, agent, index_name,
			status, total_time, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Endpoint, rec.Agent, rec.IndexName,
		rec.Status, rec.Duration.Milliseconds(), rec.CreatedAt,
	)
	if err != nil {
		log.Errorw("Failed to save request audit row", "error", err, "request_id", rec.RequestID)
	}
}
