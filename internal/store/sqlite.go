package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/validation-cli/internal/model"
	"github.com/sells-group/validation-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'in_progress',
	iteration   INTEGER NOT NULL DEFAULT 1,
	snapshot    TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS disagreements (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	node_id     TEXT NOT NULL,
	type        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	severity    TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS learning_events (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	category   TEXT NOT NULL,
	data       TEXT,
	impact     REAL NOT NULL DEFAULT 0,
	processed  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS insights (
	id                 TEXT PRIMARY KEY,
	source_type        TEXT NOT NULL,
	category           TEXT NOT NULL,
	event_count        INTEGER NOT NULL,
	avg_impact         REAL NOT NULL,
	confidence         REAL NOT NULL,
	recommended_action TEXT NOT NULL,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS retraining_requests (
	id               TEXT PRIMARY KEY,
	target_model     TEXT NOT NULL,
	priority         TEXT NOT NULL,
	validation_split REAL NOT NULL,
	max_epochs       INTEGER NOT NULL,
	insight_ids      TEXT,
	requested_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id              TEXT PRIMARY KEY,
	disagreement_id TEXT NOT NULL,
	payload         TEXT NOT NULL,
	error           TEXT NOT NULL,
	error_type      TEXT NOT NULL DEFAULT 'transient',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 3,
	next_retry_at   DATETIME NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
CREATE INDEX IF NOT EXISTS idx_workflows_artifact ON workflows(artifact_id);
CREATE INDEX IF NOT EXISTS idx_disagreements_workflow ON disagreements(workflow_id);
CREATE INDEX IF NOT EXISTS idx_disagreements_status ON disagreements(status);
CREATE INDEX IF NOT EXISTS idx_learning_events_processed ON learning_events(processed);
CREATE INDEX IF NOT EXISTS idx_learning_events_source ON learning_events(source_id);
CREATE INDEX IF NOT EXISTS idx_insights_category ON insights(category);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Workflows. The full workflow is one JSON snapshot; the single-row write is
// what makes an iteration publish atomic to readers.

func (s *SQLiteStore) CreateWorkflow(ctx context.Context, wf *model.ValidationWorkflow) error {
	snapshot, err := json.Marshal(wf)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal workflow")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, artifact_id, status, iteration, snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.ArtifactID, string(wf.Status), wf.Iteration, string(snapshot), wf.CreatedAt, wf.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert workflow")
}

func (s *SQLiteStore) UpdateWorkflow(ctx context.Context, wf *model.ValidationWorkflow) error {
	snapshot, err := json.Marshal(wf)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal workflow")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET status = ?, iteration = ?, snapshot = ?, updated_at = ? WHERE id = ?`,
		string(wf.Status), wf.Iteration, string(snapshot), wf.UpdatedAt, wf.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update workflow %s", wf.ID)
	}
	return checkRowsAffected(res, "workflow", wf.ID)
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*model.ValidationWorkflow, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM workflows WHERE id = ?`, id,
	).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "workflow %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get workflow %s", id)
	}

	var wf model.ValidationWorkflow
	if err := json.Unmarshal([]byte(snapshot), &wf); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal workflow")
	}
	return &wf, nil
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context, filter model.WorkflowFilter) ([]model.ValidationWorkflow, error) {
	query := `SELECT snapshot FROM workflows WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ArtifactID != "" {
		query += ` AND artifact_id = ?`
		args = append(args, filter.ArtifactID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.CreatedBefore)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list workflows")
	}
	defer rows.Close()

	var workflows []model.ValidationWorkflow
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan workflow")
		}
		var wf model.ValidationWorkflow
		if err := json.Unmarshal([]byte(snapshot), &wf); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal workflow")
		}
		workflows = append(workflows, wf)
	}
	return workflows, eris.Wrap(rows.Err(), "sqlite: list workflows iterate")
}

// Disagreements

func (s *SQLiteStore) CreateDisagreement(ctx context.Context, d *model.Disagreement) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal disagreement")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO disagreements (id, workflow_id, node_id, type, status, severity, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WorkflowID, d.NodeID, string(d.Type), string(d.Status), string(d.Severity),
		string(payload), d.CreatedAt, d.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert disagreement")
}

func (s *SQLiteStore) UpdateDisagreement(ctx context.Context, d *model.Disagreement) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal disagreement")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE disagreements SET status = ?, severity = ?, payload = ?, updated_at = ? WHERE id = ?`,
		string(d.Status), string(d.Severity), string(payload), d.UpdatedAt, d.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update disagreement %s", d.ID)
	}
	return checkRowsAffected(res, "disagreement", d.ID)
}

func (s *SQLiteStore) GetDisagreement(ctx context.Context, id string) (*model.Disagreement, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM disagreements WHERE id = ?`, id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "disagreement %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get disagreement %s", id)
	}

	var d model.Disagreement
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal disagreement")
	}
	return &d, nil
}

func (s *SQLiteStore) ListDisagreements(ctx context.Context, filter model.DisagreementFilter) ([]model.Disagreement, error) {
	query := `SELECT payload FROM disagreements WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.CreatedBefore)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list disagreements")
	}
	defer rows.Close()

	var disagreements []model.Disagreement
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan disagreement")
		}
		var d model.Disagreement
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal disagreement")
		}
		// Minimum-severity filtering happens here; rank order is not
		// lexicographic so it cannot be a SQL comparison.
		if filter.Severity != "" && !d.Severity.AtLeast(filter.Severity) {
			continue
		}
		disagreements = append(disagreements, d)
	}
	return disagreements, eris.Wrap(rows.Err(), "sqlite: list disagreements iterate")
}

// Learning events

func (s *SQLiteStore) CreateLearningEvent(ctx context.Context, event model.LearningEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal event data")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learning_events (id, type, source_id, category, data, impact, processed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.SourceID, event.Category,
		string(dataJSON), event.Impact, boolToInt(event.Processed), event.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert learning event")
}

func (s *SQLiteStore) ListLearningEvents(ctx context.Context, filter model.LearningEventFilter) ([]model.LearningEvent, error) {
	query := `SELECT id, type, source_id, category, data, impact, processed, created_at
	          FROM learning_events WHERE 1=1`
	var args []any

	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.Unprocessed {
		query += ` AND processed = 0`
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.CreatedBefore)
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list learning events")
	}
	defer rows.Close()

	var events []model.LearningEvent
	for rows.Next() {
		var e model.LearningEvent
		var dataJSON sql.NullString
		var processed int
		if err := rows.Scan(&e.ID, &e.Type, &e.SourceID, &e.Category, &dataJSON, &e.Impact, &processed, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan learning event")
		}
		e.Processed = processed != 0
		if dataJSON.Valid && dataJSON.String != "null" {
			if err := json.Unmarshal([]byte(dataJSON.String), &e.Data); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal event data")
			}
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list learning events iterate")
}

func (s *SQLiteStore) MarkEventsProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin mark processed")
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE learning_events SET processed = 1 WHERE id = ?`, id,
		); err != nil {
			return eris.Wrapf(err, "sqlite: mark event %s", id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit mark processed")
}

// Insights and retraining

func (s *SQLiteStore) CreateInsight(ctx context.Context, insight *model.Insight) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insights (id, source_type, category, event_count, avg_impact, confidence, recommended_action, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		insight.ID, insight.SourceType, insight.Category, insight.EventCount,
		insight.AvgImpact, insight.Confidence, insight.RecommendedAction, insight.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert insight")
}

func (s *SQLiteStore) ListInsights(ctx context.Context, limit int) ([]model.Insight, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_type, category, event_count, avg_impact, confidence, recommended_action, created_at
		 FROM insights ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list insights")
	}
	defer rows.Close()

	var insights []model.Insight
	for rows.Next() {
		var in model.Insight
		if err := rows.Scan(&in.ID, &in.SourceType, &in.Category, &in.EventCount,
			&in.AvgImpact, &in.Confidence, &in.RecommendedAction, &in.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan insight")
		}
		insights = append(insights, in)
	}
	return insights, eris.Wrap(rows.Err(), "sqlite: list insights iterate")
}

func (s *SQLiteStore) CreateRetrainingRequest(ctx context.Context, req *model.RetrainingRequest) error {
	idsJSON, err := json.Marshal(req.InsightIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal insight ids")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO retraining_requests (id, target_model, priority, validation_split, max_epochs, insight_ids, requested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.TargetModel, string(req.Priority), req.ValidationSplit,
		req.MaxEpochs, string(idsJSON), req.RequestedAt,
	)
	return eris.Wrap(err, "sqlite: insert retraining request")
}

func (s *SQLiteStore) ListRetrainingRequests(ctx context.Context, limit int) ([]model.RetrainingRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_model, priority, validation_split, max_epochs, insight_ids, requested_at
		 FROM retraining_requests ORDER BY requested_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list retraining requests")
	}
	defer rows.Close()

	var reqs []model.RetrainingRequest
	for rows.Next() {
		var r model.RetrainingRequest
		var idsJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.TargetModel, &r.Priority, &r.ValidationSplit,
			&r.MaxEpochs, &idsJSON, &r.RequestedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan retraining request")
		}
		if idsJSON.Valid && idsJSON.String != "null" {
			if err := json.Unmarshal([]byte(idsJSON.String), &r.InsightIDs); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal insight ids")
			}
		}
		reqs = append(reqs, r)
	}
	return reqs, eris.Wrap(rows.Err(), "sqlite: list retraining requests iterate")
}

// Dead letter queue

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO dead_letter_queue
		 (id, disagreement_id, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DisagreementID, string(entry.Payload), entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, disagreement_id, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= datetime('now') AND retry_count < max_retries`
	var args []any

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var payload string
		if err := rows.Scan(&e.ID, &e.DisagreementID, &payload, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = datetime('now')
		 WHERE id = ?`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
