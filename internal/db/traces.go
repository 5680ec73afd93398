package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/bisheshkhanal/ragebaiter/internal/decision"
	"github.com/bisheshkhanal/ragebaiter/internal/pipeline"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultListLimit = 50

const schema = `
	CREATE TABLE IF NOT EXISTS decision_traces (
		id         VARCHAR PRIMARY KEY,
		run_id     VARCHAR NOT NULL,
		viewer_id  VARCHAR NOT NULL,
		post_id    VARCHAR NOT NULL,
		stage      VARCHAR NOT NULL,
		level      VARCHAR NOT NULL,
		action     VARCHAR NOT NULL,
		distance   DOUBLE,
		severity   VARCHAR,
		error      VARCHAR,
		trace      VARCHAR,
		created_at TIMESTAMP NOT NULL
	)
`

// TraceRecord is one persisted pipeline outcome. Trace is nil when the post
// never reached the decision stage.
type TraceRecord struct {
	ID        string          `json:"id"`
	RunID     string          `json:"runId"`
	ViewerID  string          `json:"viewerId"`
	PostID    string          `json:"postId"`
	Stage     pipeline.Stage  `json:"stage"`
	Level     stance.Level    `json:"level"`
	Action    string          `json:"action"`
	Distance  float64         `json:"distance"`
	Severity  stance.Severity `json:"severity,omitempty"`
	Err       string          `json:"error,omitempty"`
	Trace     *decision.Trace `json:"trace,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// FromOutcome builds the record stored for out.
func FromOutcome(runID, viewerID string, out pipeline.Outcome, at time.Time) TraceRecord {
	rec := TraceRecord{
		ID:        uuid.NewString(),
		RunID:     runID,
		ViewerID:  viewerID,
		PostID:    out.PostID,
		Stage:     out.Stage,
		Level:     stance.LevelNone,
		Action:    decision.ActionNone,
		Err:       out.Err,
		CreatedAt: at.UTC(),
	}
	if v := out.Verdict; v != nil {
		trace := v.Trace
		rec.Level = v.Level
		rec.Action = v.Action
		rec.Distance = v.Distance
		rec.Severity = v.Severity
		rec.Trace = &trace
	}
	return rec
}

type TraceFilter struct {
	ViewerID string
	Level    stance.Level
	Limit    int
}

type TraceStore struct {
	db *sql.DB
}

func NewTraceStore(db *sql.DB) *TraceStore {
	return &TraceStore{db: db}
}

func (s *TraceStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create trace table: %w", err)
	}
	return nil
}

// Insert writes records in a single transaction.
func (s *TraceStore) Insert(ctx context.Context, records []TraceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO decision_traces
			(id, run_id, viewer_id, post_id, stage, level, action, distance, severity, error, trace, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var traceJSON sql.NullString
		if rec.Trace != nil {
			b, err := json.Marshal(rec.Trace)
			if err != nil {
				return fmt.Errorf("failed to encode trace for %s: %w", rec.PostID, err)
			}
			traceJSON = sql.NullString{String: string(b), Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.RunID, rec.ViewerID, rec.PostID,
			string(rec.Stage), string(rec.Level), rec.Action,
			rec.Distance, string(rec.Severity), rec.Err,
			traceJSON, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trace for %s: %w", rec.PostID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit traces: %w", err)
	}
	return nil
}

// List returns the most recent records matching f, newest first.
func (s *TraceStore) List(ctx context.Context, f TraceFilter) ([]TraceRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ViewerID != "" {
		args = append(args, f.ViewerID)
		where = append(where, fmt.Sprintf("viewer_id = $%d", len(args)))
	}
	if f.Level != "" {
		args = append(args, string(f.Level))
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, run_id, viewer_id, post_id, stage, level, action,
			COALESCE(distance, 0), COALESCE(severity, ''), COALESCE(error, ''),
			trace, created_at
		FROM decision_traces`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf("\n\t\tORDER BY created_at DESC, id\n\t\tLIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var records []TraceRecord
	for rows.Next() {
		var (
			rec       TraceRecord
			stage     string
			level     string
			severity  string
			traceJSON sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.ViewerID, &rec.PostID, &stage, &level,
			&rec.Action, &rec.Distance, &severity, &rec.Err, &traceJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		rec.Stage = pipeline.Stage(stage)
		rec.Level = stance.Level(level)
		rec.Severity = stance.Severity(severity)

		if traceJSON.Valid {
			var trace decision.Trace
			if err := json.Unmarshal([]byte(traceJSON.String), &trace); err != nil {
				return nil, fmt.Errorf("failed to decode trace %s: %w", rec.ID, err)
			}
			rec.Trace = &trace
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}
