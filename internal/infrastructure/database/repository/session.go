package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tracelink-lab/internal/domain/models"
)

// ErrNotFound is returned when no session row matches
var ErrNotFound = errors.New("session not found")

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// SessionRepository stores the audit summary of search sessions
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `session_id, query_hash, intent, criteria_count, pages_fetched,
	records_fetched, unique_records, exact_matches, graph_nodes, graph_edges,
	early_stopped, error_count, cached, duration_ms, started_at, completed_at`

// RecordSession inserts one audit row. Re-recording a session id is a no-op.
func (r *SessionRepository) RecordSession(ctx context.Context, s models.SessionSummary) error {
	id, err := uuid.Parse(s.SessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", s.SessionID, err)
	}

	query := `
		INSERT INTO search_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (session_id) DO NOTHING`

	_, err = r.db.Exec(ctx, query,
		id, s.QueryHash, s.Intent, s.CriteriaCount, s.PagesFetched,
		s.RecordsFetched, s.UniqueRecords, s.ExactMatches, s.GraphNodes, s.GraphEdges,
		s.EarlyStopped, s.ErrorCount, s.Cached, s.DurationMs, s.StartedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// GetByID retrieves a session summary
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	query := `SELECT ` + sessionColumns + ` FROM search_sessions WHERE session_id = $1`

	s, err := scanSession(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListRecent returns the most recent sessions, newest first
func (r *SessionRepository) ListRecent(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + ` FROM search_sessions ORDER BY started_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.SessionSummary{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// CountByQueryHash tells how often the same normalized query was run
func (r *SessionRepository) CountByQueryHash(ctx context.Context, queryHash string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM search_sessions WHERE query_hash = $1`, queryHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func scanSession(row pgx.Row) (*models.SessionSummary, error) {
	var s models.SessionSummary
	var id uuid.UUID
	err := row.Scan(
		&id, &s.QueryHash, &s.Intent, &s.CriteriaCount, &s.PagesFetched,
		&s.RecordsFetched, &s.UniqueRecords, &s.ExactMatches, &s.GraphNodes, &s.GraphEdges,
		&s.EarlyStopped, &s.ErrorCount, &s.Cached, &s.DurationMs, &s.StartedAt, &s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	s.SessionID = id.String()
	return &s, nil
}
