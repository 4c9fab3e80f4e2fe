package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/orbas1/gigvora-automatch/db/migrations"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if !hasSQLDriver("pgx") {
		return nil, errors.New("pgx SQL driver is not linked; import github.com/jackc/pgx/v5/stdlib")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func hasSQLDriver(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		applied, err := p.isMigrationApplied(ctx, file)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) isMigrationApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const entryColumns = `id, build_id, work_item_id, worker_id, rank, score, confidence, status, notified_at, expires_at, resolved_at, resolved_by, reason_code, reason_label, notes, metadata_json, created_at, updated_at`

func (p *PostgresStore) CreateBuildWithEntries(ctx context.Context, build QueueBuildRecord, entries []QueueEntryRecord, event AssignmentEventRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := createBuildWithEntries(ctx, tx, build, entries, event); err != nil {
		return err
	}
	return tx.Commit()
}

func createBuildWithEntries(ctx context.Context, q querier, build QueueBuildRecord, entries []QueueEntryRecord, event AssignmentEventRecord) error {
	now := time.Now().UTC()
	if build.CreatedAt.IsZero() {
		build.CreatedAt = now
	}
	build.UpdatedAt = now
	if _, err := q.ExecContext(ctx,
		`INSERT INTO queue_builds (id, work_item_id, work_item_value, category, status, generation, entry_count, message, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		build.ID, build.WorkItemID, build.WorkItemValue, build.Category, build.Status, build.Generation, build.EntryCount, build.Message, build.CreatedAt, build.UpdatedAt,
	); err != nil {
		return err
	}
	for _, e := range entries {
		metadata, err := json.Marshal(metadataOrEmpty(e.Metadata))
		if err != nil {
			return err
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO queue_entries (`+entryColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			e.ID, e.BuildID, e.WorkItemID, e.WorkerID, e.Rank, e.Score, e.Confidence, e.Status,
			nullTime(e.NotifiedAt), nullTime(e.ExpiresAt), nullTime(e.ResolvedAt), e.ResolvedBy,
			e.ReasonCode, e.ReasonLabel, e.Notes, string(metadata), createdAt, now,
		); err != nil {
			return err
		}
	}
	return appendEventTx(ctx, q, event)
}

func (p *PostgresStore) GetBuild(ctx context.Context, buildID string) (QueueBuildRecord, bool, error) {
	return getBuild(ctx, p.db, buildID)
}

func getBuild(ctx context.Context, q querier, buildID string) (QueueBuildRecord, bool, error) {
	var b QueueBuildRecord
	err := q.QueryRowContext(ctx,
		`SELECT id, work_item_id, work_item_value, category, status, generation, entry_count, message, created_at, updated_at
		 FROM queue_builds WHERE id=$1`, buildID,
	).Scan(&b.ID, &b.WorkItemID, &b.WorkItemValue, &b.Category, &b.Status, &b.Generation, &b.EntryCount, &b.Message, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueBuildRecord{}, false, nil
	}
	if err != nil {
		return QueueBuildRecord{}, false, err
	}
	return b, true, nil
}

func (p *PostgresStore) GetLatestBuildByWorkItem(ctx context.Context, workItemID string) (QueueBuildRecord, bool, error) {
	return getLatestBuildByWorkItem(ctx, p.db, workItemID)
}

func getLatestBuildByWorkItem(ctx context.Context, q querier, workItemID string) (QueueBuildRecord, bool, error) {
	var b QueueBuildRecord
	err := q.QueryRowContext(ctx,
		`SELECT id, work_item_id, work_item_value, category, status, generation, entry_count, message, created_at, updated_at
		 FROM queue_builds WHERE work_item_id=$1 ORDER BY generation DESC LIMIT 1`, workItemID,
	).Scan(&b.ID, &b.WorkItemID, &b.WorkItemValue, &b.Category, &b.Status, &b.Generation, &b.EntryCount, &b.Message, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueBuildRecord{}, false, nil
	}
	if err != nil {
		return QueueBuildRecord{}, false, err
	}
	return b, true, nil
}

func (p *PostgresStore) GetEntry(ctx context.Context, entryID string) (QueueEntryRecord, bool, error) {
	return getEntry(ctx, p.db, entryID)
}

func getEntry(ctx context.Context, q querier, entryID string) (QueueEntryRecord, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id=$1`, entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueEntryRecord{}, false, nil
	}
	if err != nil {
		return QueueEntryRecord{}, false, err
	}
	return e, true, nil
}

func (p *PostgresStore) ListEntriesByWorkItem(ctx context.Context, workItemID string) ([]QueueEntryRecord, error) {
	return listEntriesByWorkItem(ctx, p.db, workItemID)
}

func listEntriesByWorkItem(ctx context.Context, q querier, workItemID string) ([]QueueEntryRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE work_item_id=$1 ORDER BY created_at ASC, rank ASC`, workItemID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]QueueEntryRecord, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListEntriesByWorker(ctx context.Context, workerID string, statuses []string, offset, limit int) ([]QueueEntryRecord, int, error) {
	where := `worker_id=$1`
	args := []any{workerID}
	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, s := range statuses {
			args = append(args, s)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM queue_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE ` + where + ` ORDER BY created_at DESC, id DESC`
	args = append(args, offset)
	query += fmt.Sprintf(` OFFSET $%d`, len(args))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]QueueEntryRecord, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (p *PostgresStore) CountEntriesByWorkerStatus(ctx context.Context, workerID string, statuses []string) (int, error) {
	where := `worker_id=$1`
	args := []any{workerID}
	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, s := range statuses {
			args = append(args, s)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM queue_entries WHERE `+where, args...).Scan(&n)
	return n, err
}

func (p *PostgresStore) ListExpiredNotifiedEntries(ctx context.Context, now time.Time) ([]QueueEntryRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		 WHERE status=$1 AND expires_at IS NOT NULL AND expires_at < $2
		 ORDER BY expires_at ASC`, EntryNotified, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]QueueEntryRecord, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetMetric(ctx context.Context, workerID string) (WorkerMetricRecord, bool, error) {
	return getMetric(ctx, p.db, workerID)
}

func getMetric(ctx context.Context, q querier, workerID string) (WorkerMetricRecord, bool, error) {
	var m WorkerMetricRecord
	var lastAssigned, lastCompleted, tenureStart sql.NullTime
	err := q.QueryRowContext(ctx,
		`SELECT worker_id, last_assigned_at, last_completed_at, total_assigned, total_completed, rating, completion_rate, avg_assigned_value, tenure_start, updated_at
		 FROM worker_metrics WHERE worker_id=$1`, workerID,
	).Scan(&m.WorkerID, &lastAssigned, &lastCompleted, &m.TotalAssigned, &m.TotalCompleted, &m.Rating, &m.CompletionRate, &m.AvgAssignedValue, &tenureStart, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkerMetricRecord{}, false, nil
	}
	if err != nil {
		return WorkerMetricRecord{}, false, err
	}
	if lastAssigned.Valid {
		m.LastAssignedAt = lastAssigned.Time
	}
	if lastCompleted.Valid {
		m.LastCompletedAt = lastCompleted.Time
	}
	if tenureStart.Valid {
		m.TenureStart = tenureStart.Time
	}
	return m, true, nil
}

func (p *PostgresStore) UpsertMetric(ctx context.Context, metric WorkerMetricRecord) error {
	return upsertMetric(ctx, p.db, metric)
}

func upsertMetric(ctx context.Context, q querier, metric WorkerMetricRecord) error {
	metric.UpdatedAt = time.Now().UTC()
	_, err := q.ExecContext(ctx,
		`INSERT INTO worker_metrics (worker_id, last_assigned_at, last_completed_at, total_assigned, total_completed, rating, completion_rate, avg_assigned_value, tenure_start, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (worker_id) DO UPDATE SET
		 last_assigned_at=EXCLUDED.last_assigned_at,
		 last_completed_at=EXCLUDED.last_completed_at,
		 total_assigned=EXCLUDED.total_assigned,
		 total_completed=EXCLUDED.total_completed,
		 rating=EXCLUDED.rating,
		 completion_rate=EXCLUDED.completion_rate,
		 avg_assigned_value=EXCLUDED.avg_assigned_value,
		 tenure_start=EXCLUDED.tenure_start,
		 updated_at=EXCLUDED.updated_at`,
		metric.WorkerID, nullTime(metric.LastAssignedAt), nullTime(metric.LastCompletedAt),
		metric.TotalAssigned, metric.TotalCompleted, metric.Rating, metric.CompletionRate,
		metric.AvgAssignedValue, nullTime(metric.TenureStart), metric.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetPreference(ctx context.Context, workerID string) (WorkerPreferenceRecord, bool, error) {
	var pref WorkerPreferenceRecord
	var excludedJSON string
	err := p.db.QueryRowContext(ctx,
		`SELECT worker_id, enabled, min_budget, max_budget, concurrency_cap, excluded_categories_json, updated_by, created_at, updated_at
		 FROM worker_preferences WHERE worker_id=$1`, workerID,
	).Scan(&pref.WorkerID, &pref.Enabled, &pref.MinBudget, &pref.MaxBudget, &pref.ConcurrencyCap, &excludedJSON, &pref.UpdatedBy, &pref.CreatedAt, &pref.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkerPreferenceRecord{}, false, nil
	}
	if err != nil {
		return WorkerPreferenceRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(excludedJSON), &pref.ExcludedCategories); err != nil {
		return WorkerPreferenceRecord{}, false, err
	}
	return pref, true, nil
}

func (p *PostgresStore) UpsertPreference(ctx context.Context, pref WorkerPreferenceRecord) error {
	excluded, err := json.Marshal(pref.ExcludedCategories)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO worker_preferences (worker_id, enabled, min_budget, max_budget, concurrency_cap, excluded_categories_json, updated_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (worker_id) DO UPDATE SET
		 enabled=EXCLUDED.enabled,
		 min_budget=EXCLUDED.min_budget,
		 max_budget=EXCLUDED.max_budget,
		 concurrency_cap=EXCLUDED.concurrency_cap,
		 excluded_categories_json=EXCLUDED.excluded_categories_json,
		 updated_by=EXCLUDED.updated_by,
		 updated_at=EXCLUDED.updated_at`,
		pref.WorkerID, pref.Enabled, pref.MinBudget, pref.MaxBudget, pref.ConcurrencyCap, string(excluded), pref.UpdatedBy, pref.CreatedAt, now,
	)
	return err
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event AssignmentEventRecord) error {
	return appendEventTx(ctx, p.db, event)
}

func appendEventTx(ctx context.Context, q querier, event AssignmentEventRecord) error {
	if event.EventType == "" {
		return nil
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	prevHash := ""
	_ = q.QueryRowContext(ctx, `SELECT event_hash FROM assignment_events ORDER BY id DESC LIMIT 1`).Scan(&prevHash)
	event.PrevHash = prevHash
	event.EventHash = computeEventHash(event)
	_, err := q.ExecContext(ctx,
		`INSERT INTO assignment_events (event_type, actor, worker_id, work_item_id, entry_id, prev_hash, event_hash, details, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.EventType, event.Actor, event.WorkerID, event.WorkItemID, event.EntryID, event.PrevHash, event.EventHash, event.Details, event.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, query EventQuery) ([]AssignmentEventRecord, error) {
	limit := query.Limit
	offset := query.Offset
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	where := []string{"1=1"}
	args := make([]any, 0, 8)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if query.EventType != "" {
		add("event_type=$%d", query.EventType)
	}
	if query.Actor != "" {
		add("actor=$%d", query.Actor)
	}
	if query.WorkerID != "" {
		add("worker_id=$%d", query.WorkerID)
	}
	if query.WorkItemID != "" {
		add("work_item_id=$%d", query.WorkItemID)
	}
	if !query.From.IsZero() {
		add("created_at >= $%d", query.From)
	}
	if !query.To.IsZero() {
		add("created_at <= $%d", query.To)
	}
	args = append(args, limit, offset)
	sqlQuery := fmt.Sprintf(
		`SELECT id, event_type, actor, worker_id, work_item_id, entry_id, prev_hash, event_hash, details, created_at
		 FROM assignment_events WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), len(args)-1, len(args),
	)
	rows, err := p.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]AssignmentEventRecord, 0, limit)
	for rows.Next() {
		var e AssignmentEventRecord
		if err := rows.Scan(&e.ID, &e.EventType, &e.Actor, &e.WorkerID, &e.WorkItemID, &e.EntryID, &e.PrevHash, &e.EventHash, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InWorkItemTx serializes conflicting builds and resolutions for the
// same work item while leaving other items fully parallel. The
// transaction-scoped advisory lock covers items that have no entry rows
// yet; SELECT FOR UPDATE pins the existing rows.
func (p *PostgresStore) InWorkItemTx(ctx context.Context, workItemID string, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1)::bigint)`, workItemID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT id FROM queue_entries WHERE work_item_id=$1 FOR UPDATE`, workItemID); err != nil {
		return err
	}
	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) GetEntry(ctx context.Context, entryID string) (QueueEntryRecord, bool, error) {
	return getEntry(ctx, t.tx, entryID)
}

func (t *postgresTx) ListEntriesByWorkItem(ctx context.Context, workItemID string) ([]QueueEntryRecord, error) {
	return listEntriesByWorkItem(ctx, t.tx, workItemID)
}

func (t *postgresTx) UpdateEntry(ctx context.Context, entry QueueEntryRecord) error {
	metadata, err := json.Marshal(metadataOrEmpty(entry.Metadata))
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE queue_entries SET status=$2, notified_at=$3, expires_at=$4, resolved_at=$5, resolved_by=$6, reason_code=$7, reason_label=$8, notes=$9, metadata_json=$10, updated_at=$11
		 WHERE id=$1`,
		entry.ID, entry.Status, nullTime(entry.NotifiedAt), nullTime(entry.ExpiresAt), nullTime(entry.ResolvedAt),
		entry.ResolvedBy, entry.ReasonCode, entry.ReasonLabel, entry.Notes, string(metadata), time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("entry %s not found", entry.ID)
	}
	return nil
}

func (t *postgresTx) CreateBuildWithEntries(ctx context.Context, build QueueBuildRecord, entries []QueueEntryRecord, event AssignmentEventRecord) error {
	return createBuildWithEntries(ctx, t.tx, build, entries, event)
}

func (t *postgresTx) GetBuild(ctx context.Context, buildID string) (QueueBuildRecord, bool, error) {
	return getBuild(ctx, t.tx, buildID)
}

func (t *postgresTx) GetLatestBuildByWorkItem(ctx context.Context, workItemID string) (QueueBuildRecord, bool, error) {
	return getLatestBuildByWorkItem(ctx, t.tx, workItemID)
}

func (t *postgresTx) UpdateBuild(ctx context.Context, build QueueBuildRecord) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE queue_builds SET status=$2, entry_count=$3, message=$4, updated_at=$5 WHERE id=$1`,
		build.ID, build.Status, build.EntryCount, build.Message, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("build %s not found", build.ID)
	}
	return nil
}

func (t *postgresTx) GetMetric(ctx context.Context, workerID string) (WorkerMetricRecord, bool, error) {
	return getMetric(ctx, t.tx, workerID)
}

func (t *postgresTx) UpsertMetric(ctx context.Context, metric WorkerMetricRecord) error {
	return upsertMetric(ctx, t.tx, metric)
}

func (t *postgresTx) AppendEvent(ctx context.Context, event AssignmentEventRecord) error {
	return appendEventTx(ctx, t.tx, event)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (QueueEntryRecord, error) {
	var e QueueEntryRecord
	var notifiedAt, expiresAt, resolvedAt sql.NullTime
	var metadataJSON string
	if err := s.Scan(&e.ID, &e.BuildID, &e.WorkItemID, &e.WorkerID, &e.Rank, &e.Score, &e.Confidence, &e.Status,
		&notifiedAt, &expiresAt, &resolvedAt, &e.ResolvedBy, &e.ReasonCode, &e.ReasonLabel, &e.Notes,
		&metadataJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return QueueEntryRecord{}, err
	}
	if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
		return QueueEntryRecord{}, err
	}
	if notifiedAt.Valid {
		e.NotifiedAt = notifiedAt.Time
	}
	if expiresAt.Valid {
		e.ExpiresAt = expiresAt.Time
	}
	if resolvedAt.Valid {
		e.ResolvedAt = resolvedAt.Time
	}
	return e, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
