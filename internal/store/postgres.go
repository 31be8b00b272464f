package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/validation-cli/internal/db"
	"github.com/sells-group/validation-cli/internal/model"
	"github.com/sells-group/validation-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"insert_workflow":     `INSERT INTO workflows (id, artifact_id, status, iteration, snapshot, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"update_workflow":     `UPDATE workflows SET status = $1, iteration = $2, snapshot = $3, updated_at = $4 WHERE id = $5`,
	"get_workflow":        `SELECT snapshot FROM workflows WHERE id = $1`,
	"insert_disagreement": `INSERT INTO disagreements (id, workflow_id, node_id, type, status, severity, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_disagreement":    `SELECT payload FROM disagreements WHERE id = $1`,
	"insert_event":        `INSERT INTO learning_events (id, type, source_id, category, data, impact, processed, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'in_progress',
	iteration   INTEGER NOT NULL DEFAULT 1,
	snapshot    JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS disagreements (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	node_id     TEXT NOT NULL,
	type        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	severity    TEXT NOT NULL,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS learning_events (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	category   TEXT NOT NULL,
	data       JSONB,
	impact     DOUBLE PRECISION NOT NULL DEFAULT 0,
	processed  BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS insights (
	id                 TEXT PRIMARY KEY,
	source_type        TEXT NOT NULL,
	category           TEXT NOT NULL,
	event_count        INTEGER NOT NULL,
	avg_impact         DOUBLE PRECISION NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	recommended_action TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS retraining_requests (
	id               TEXT PRIMARY KEY,
	target_model     TEXT NOT NULL,
	priority         TEXT NOT NULL,
	validation_split DOUBLE PRECISION NOT NULL,
	max_epochs       INTEGER NOT NULL,
	insight_ids      JSONB,
	requested_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id              TEXT PRIMARY KEY,
	disagreement_id TEXT NOT NULL,
	payload         JSONB NOT NULL,
	error           TEXT NOT NULL,
	error_type      TEXT NOT NULL DEFAULT 'transient',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 3,
	next_retry_at   TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
CREATE INDEX IF NOT EXISTS idx_workflows_artifact ON workflows(artifact_id);
CREATE INDEX IF NOT EXISTS idx_disagreements_workflow ON disagreements(workflow_id);
CREATE INDEX IF NOT EXISTS idx_disagreements_status ON disagreements(status);
CREATE INDEX IF NOT EXISTS idx_learning_events_processed ON learning_events(processed) WHERE NOT processed;
CREATE INDEX IF NOT EXISTS idx_learning_events_source ON learning_events(source_id);
CREATE INDEX IF NOT EXISTS idx_insights_category ON insights(category);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Workflows

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *model.ValidationWorkflow) error {
	snapshot, err := json.Marshal(wf)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal workflow")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflows (id, artifact_id, status, iteration, snapshot, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		wf.ID, wf.ArtifactID, string(wf.Status), wf.Iteration, snapshot, wf.CreatedAt, wf.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert workflow")
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, wf *model.ValidationWorkflow) error {
	snapshot, err := json.Marshal(wf)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal workflow")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows SET status = $1, iteration = $2, snapshot = $3, updated_at = $4 WHERE id = $5`,
		string(wf.Status), wf.Iteration, snapshot, wf.UpdatedAt, wf.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update workflow %s", wf.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "workflow %s", wf.ID)
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*model.ValidationWorkflow, error) {
	var snapshot []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM workflows WHERE id = $1`, id,
	).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "workflow %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get workflow %s", id)
	}

	var wf model.ValidationWorkflow
	if err := json.Unmarshal(snapshot, &wf); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal workflow")
	}
	return &wf, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, filter model.WorkflowFilter) ([]model.ValidationWorkflow, error) {
	query := `SELECT snapshot FROM workflows WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ArtifactID != "" {
		query += fmt.Sprintf(` AND artifact_id = $%d`, argIdx)
		args = append(args, filter.ArtifactID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	if !filter.CreatedBefore.IsZero() {
		query += fmt.Sprintf(` AND created_at < $%d`, argIdx)
		args = append(args, filter.CreatedBefore)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list workflows")
	}
	defer rows.Close()

	var workflows []model.ValidationWorkflow
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, eris.Wrap(err, "postgres: scan workflow")
		}
		var wf model.ValidationWorkflow
		if err := json.Unmarshal(snapshot, &wf); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal workflow")
		}
		workflows = append(workflows, wf)
	}
	return workflows, eris.Wrap(rows.Err(), "postgres: list workflows iterate")
}

// Disagreements

func (s *PostgresStore) CreateDisagreement(ctx context.Context, d *model.Disagreement) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal disagreement")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO disagreements (id, workflow_id, node_id, type, status, severity, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.WorkflowID, d.NodeID, string(d.Type), string(d.Status), string(d.Severity),
		payload, d.CreatedAt, d.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert disagreement")
}

func (s *PostgresStore) UpdateDisagreement(ctx context.Context, d *model.Disagreement) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal disagreement")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE disagreements SET status = $1, severity = $2, payload = $3, updated_at = $4 WHERE id = $5`,
		string(d.Status), string(d.Severity), payload, d.UpdatedAt, d.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update disagreement %s", d.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "disagreement %s", d.ID)
	}
	return nil
}

func (s *PostgresStore) GetDisagreement(ctx context.Context, id string) (*model.Disagreement, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM disagreements WHERE id = $1`, id,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "disagreement %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get disagreement %s", id)
	}

	var d model.Disagreement
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal disagreement")
	}
	return &d, nil
}

func (s *PostgresStore) ListDisagreements(ctx context.Context, filter model.DisagreementFilter) ([]model.Disagreement, error) {
	query := `SELECT payload FROM disagreements WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.WorkflowID != "" {
		query += fmt.Sprintf(` AND workflow_id = $%d`, argIdx)
		args = append(args, filter.WorkflowID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	if !filter.CreatedBefore.IsZero() {
		query += fmt.Sprintf(` AND created_at < $%d`, argIdx)
		args = append(args, filter.CreatedBefore)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list disagreements")
	}
	defer rows.Close()

	var disagreements []model.Disagreement
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan disagreement")
		}
		var d model.Disagreement
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal disagreement")
		}
		if filter.Severity != "" && !d.Severity.AtLeast(filter.Severity) {
			continue
		}
		disagreements = append(disagreements, d)
	}
	return disagreements, eris.Wrap(rows.Err(), "postgres: list disagreements iterate")
}

// Learning events

func (s *PostgresStore) CreateLearningEvent(ctx context.Context, event model.LearningEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal event data")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO learning_events (id, type, source_id, category, data, impact, processed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, string(event.Type), event.SourceID, event.Category,
		dataJSON, event.Impact, event.Processed, event.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert learning event")
}

// ImportLearningEvents bulk-loads historical events, idempotent on event id.
// Backs the operator import surface for seeding a fresh deployment.
func (s *PostgresStore) ImportLearningEvents(ctx context.Context, events []model.LearningEvent) (int64, error) {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		dataJSON, err := json.Marshal(e.Data)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal event %s data", e.ID)
		}
		rows = append(rows, []any{
			e.ID, string(e.Type), e.SourceID, e.Category, dataJSON, e.Impact, e.Processed, e.CreatedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "learning_events",
		Columns:      []string{"id", "type", "source_id", "category", "data", "impact", "processed", "created_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import learning events")
}

func (s *PostgresStore) ListLearningEvents(ctx context.Context, filter model.LearningEventFilter) ([]model.LearningEvent, error) {
	query := `SELECT id, type, source_id, category, data, impact, processed, created_at
	          FROM learning_events WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.SourceID != "" {
		query += fmt.Sprintf(` AND source_id = $%d`, argIdx)
		args = append(args, filter.SourceID)
		argIdx++
	}
	if filter.Unprocessed {
		query += ` AND NOT processed`
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	if !filter.CreatedBefore.IsZero() {
		query += fmt.Sprintf(` AND created_at < $%d`, argIdx)
		args = append(args, filter.CreatedBefore)
		argIdx++
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list learning events")
	}
	defer rows.Close()

	var events []model.LearningEvent
	for rows.Next() {
		var e model.LearningEvent
		var dataJSON []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.SourceID, &e.Category, &dataJSON, &e.Impact, &e.Processed, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan learning event")
		}
		if len(dataJSON) > 0 && string(dataJSON) != "null" {
			if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal event data")
			}
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list learning events iterate")
}

func (s *PostgresStore) MarkEventsProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE learning_events SET processed = true WHERE id = ANY($1)`, ids,
	)
	return eris.Wrap(err, "postgres: mark events processed")
}

// Insights and retraining

func (s *PostgresStore) CreateInsight(ctx context.Context, insight *model.Insight) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO insights (id, source_type, category, event_count, avg_impact, confidence, recommended_action, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		insight.ID, insight.SourceType, insight.Category, insight.EventCount,
		insight.AvgImpact, insight.Confidence, insight.RecommendedAction, insight.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert insight")
}

func (s *PostgresStore) ListInsights(ctx context.Context, limit int) ([]model.Insight, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_type, category, event_count, avg_impact, confidence, recommended_action, created_at
		 FROM insights ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list insights")
	}
	defer rows.Close()

	var insights []model.Insight
	for rows.Next() {
		var in model.Insight
		if err := rows.Scan(&in.ID, &in.SourceType, &in.Category, &in.EventCount,
			&in.AvgImpact, &in.Confidence, &in.RecommendedAction, &in.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan insight")
		}
		insights = append(insights, in)
	}
	return insights, eris.Wrap(rows.Err(), "postgres: list insights iterate")
}

func (s *PostgresStore) CreateRetrainingRequest(ctx context.Context, req *model.RetrainingRequest) error {
	idsJSON, err := json.Marshal(req.InsightIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal insight ids")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO retraining_requests (id, target_model, priority, validation_split, max_epochs, insight_ids, requested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, req.TargetModel, string(req.Priority), req.ValidationSplit,
		req.MaxEpochs, idsJSON, req.RequestedAt,
	)
	return eris.Wrap(err, "postgres: insert retraining request")
}

// Dead letter queue

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, disagreement_id, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $4, error_type = $5, retry_count = $6, next_retry_at = $8, last_failed_at = $10`,
		entry.ID, entry.DisagreementID, []byte(entry.Payload), entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, disagreement_id, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.DisagreementID, &payload, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dlq_entry %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

func (s *PostgresStore) ListRetrainingRequests(ctx context.Context, limit int) ([]model.RetrainingRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, target_model, priority, validation_split, max_epochs, insight_ids, requested_at
		 FROM retraining_requests ORDER BY requested_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list retraining requests")
	}
	defer rows.Close()

	var reqs []model.RetrainingRequest
	for rows.Next() {
		var r model.RetrainingRequest
		var idsJSON []byte
		if err := rows.Scan(&r.ID, &r.TargetModel, &r.Priority, &r.ValidationSplit,
			&r.MaxEpochs, &idsJSON, &r.RequestedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan retraining request")
		}
		if len(idsJSON) > 0 && string(idsJSON) != "null" {
			if err := json.Unmarshal(idsJSON, &r.InsightIDs); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal insight ids")
			}
		}
		reqs = append(reqs, r)
	}
	return reqs, eris.Wrap(rows.Err(), "postgres: list retraining requests iterate")
}
