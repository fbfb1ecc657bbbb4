// Package postgres persists call records with pgx. The hub treats the sink
// as fire-and-forget, so a lost write degrades history, never a live call.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsechat/pulse/internal/core/domain"
	"github.com/pulsechat/pulse/internal/core/port"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	call_id     UUID PRIMARY KEY,
	caller_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	call_type   TEXT NOT NULL,
	status      TEXT NOT NULL,
	start_time  TIMESTAMPTZ NOT NULL,
	connected_at TIMESTAMPTZ,
	end_time    TIMESTAMPTZ,
	duration    INT NOT NULL DEFAULT 0,
	end_reason  TEXT NOT NULL DEFAULT '',
	connection_stats JSONB,
	quality     JSONB
);
CREATE INDEX IF NOT EXISTS calls_caller_idx ON calls (caller_id, start_time DESC);
CREATE INDEX IF NOT EXISTS calls_receiver_idx ON calls (receiver_id, start_time DESC);
`

type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository connects, pings and ensures the schema.
func NewCallRepository(ctx context.Context, dsn string) (*CallRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &CallRepository{pool: pool}, nil
}

func (r *CallRepository) Close() {
	r.pool.Close()
}

func (r *CallRepository) Create(ctx context.Context, s domain.CallSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO calls (call_id, caller_id, receiver_id, call_type, status, start_time, connected_at, end_time, duration, end_reason, connection_stats, quality)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (call_id) DO NOTHING`,
		s.CallID.String(), s.CallerID.String(), s.ReceiverID.String(), string(s.CallType), string(s.Status),
		s.StartTime, nullableTime(s.ConnectedAt), nullableTime(s.EndTime), s.Duration, string(s.EndReason),
		nullableJSON(s.ConnectionStats), nullableJSON(s.Quality))
	return err
}

func (r *CallRepository) Update(ctx context.Context, s domain.CallSession) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE calls
		SET status = $2, connected_at = $3, end_time = $4, duration = $5, end_reason = $6,
		    connection_stats = COALESCE($7, connection_stats), quality = COALESCE($8, quality)
		WHERE call_id = $1`,
		s.CallID.String(), string(s.Status), nullableTime(s.ConnectedAt), nullableTime(s.EndTime),
		s.Duration, string(s.EndReason), nullableJSON(s.ConnectionStats), nullableJSON(s.Quality))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Update raced ahead of its create; land the full snapshot instead.
		return r.Create(ctx, s)
	}
	return nil
}

const callColumns = `call_id, caller_id, receiver_id, call_type, status, start_time, connected_at, end_time, duration, end_reason`

func scanCall(row pgx.Row) (domain.CallSession, error) {
	var (
		s                    domain.CallSession
		callID               string
		caller, receiver     string
		callType, status     string
		reason               string
		connectedAt, endTime *time.Time
	)
	err := row.Scan(&callID, &caller, &receiver, &callType, &status, &s.StartTime, &connectedAt, &endTime, &s.Duration, &reason)
	if err != nil {
		return domain.CallSession{}, err
	}
	id, err := domain.ParseCallID(callID)
	if err != nil {
		return domain.CallSession{}, err
	}
	s.CallID = id
	s.CallerID = domain.UserID(caller)
	s.ReceiverID = domain.UserID(receiver)
	s.CallType = domain.CallType(callType)
	s.Status = domain.CallStatus(status)
	s.EndReason = domain.EndReason(reason)
	if connectedAt != nil {
		s.ConnectedAt = *connectedAt
	}
	if endTime != nil {
		s.EndTime = *endTime
	}
	return s, nil
}

func (r *CallRepository) ListByUser(ctx context.Context, userID domain.UserID, callType domain.CallType, page, limit int) ([]domain.CallSession, int, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	filter := `(caller_id = $1 OR receiver_id = $1)`
	args := []any{userID.String()}
	if callType != "" {
		filter += ` AND call_type = $2`
		args = append(args, string(callType))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM calls WHERE `+filter, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM calls WHERE %s ORDER BY start_time DESC LIMIT %d OFFSET %d`,
		callColumns, filter, limit, (page-1)*limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.CallSession
	for rows.Next() {
		s, err := scanCall(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *CallRepository) Stats(ctx context.Context, userID domain.UserID, since time.Time) (port.CallStats, error) {
	var stats port.CallStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE call_type = 'voice'),
			count(*) FILTER (WHERE call_type = 'video'),
			count(*) FILTER (WHERE status = 'missed'),
			count(*) FILTER (WHERE connected_at IS NOT NULL),
			COALESCE(sum(duration) FILTER (WHERE connected_at IS NOT NULL), 0)
		FROM calls
		WHERE (caller_id = $1 OR receiver_id = $1) AND start_time >= $2`,
		userID.String(), since).
		Scan(&stats.TotalCalls, &stats.VoiceCalls, &stats.VideoCalls, &stats.MissedCalls, &stats.AnsweredCalls, &stats.TotalDuration)
	if err != nil {
		return port.CallStats{}, err
	}
	if stats.AnsweredCalls > 0 {
		stats.AvgDuration = stats.TotalDuration / stats.AnsweredCalls
	}
	if stats.TotalCalls > 0 {
		stats.AnswerRate = float64(stats.AnsweredCalls) / float64(stats.TotalCalls) * 100
	}
	return stats, nil
}

func (r *CallRepository) Active(ctx context.Context, userID domain.UserID) ([]domain.CallSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE (caller_id = $1 OR receiver_id = $1)
		  AND status IN ('initiated', 'ringing', 'answered')
		ORDER BY start_time DESC`,
		userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CallSession
	for rows.Next() {
		s, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *CallRepository) Delete(ctx context.Context, callID domain.CallID, userID domain.UserID) error {
	var caller, receiver string
	err := r.pool.QueryRow(ctx, `SELECT caller_id, receiver_id FROM calls WHERE call_id = $1`, callID.String()).
		Scan(&caller, &receiver)
	if errors.Is(err, pgx.ErrNoRows) {
		return port.ErrRecordNotFound
	}
	if err != nil {
		return err
	}
	if caller != userID.String() && receiver != userID.String() {
		return port.ErrForbidden
	}
	_, err = r.pool.Exec(ctx, `DELETE FROM calls WHERE call_id = $1`, callID.String())
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
