package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/ragless-mcp/pkg/types"
)

const (
	lockStripes = 64

	// RecordReuse tuning. The boost saturates hotness after ~10 reuses;
	// the nudge moves confidence a quarter of the way toward the new
	// corroborating weight per reuse.
	reuseHotnessBoost = 0.1
	confidenceNudge   = 0.25

	DefaultSimilarityThreshold = 0.82
	DefaultReuseTieBand        = 0.03
	DefaultCorroborationN      = 3
)

// Options tunes the reuse behavior of the store.
type Options struct {
	// SimilarityThreshold is the minimum similarity for a reuse candidate.
	SimilarityThreshold float64
	// ReuseTieBand is the within-threshold band that makes reuse ambiguous
	// when more than one candidate falls inside it.
	ReuseTieBand float64
	// CorroborationN is the number of corroborating searches that promote
	// an EMERGING cluster to STABLE.
	CorroborationN int
}

func (o *Options) withDefaults() {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.ReuseTieBand <= 0 {
		o.ReuseTieBand = DefaultReuseTieBand
	}
	if o.CorroborationN <= 0 {
		o.CorroborationN = DefaultCorroborationN
	}
}

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	opts  Options
	locks [lockStripes]sync.Mutex
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens (creating if needed) the cluster database at dbPath.
func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	opts.withDefaults()

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db, opts: opts}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, store: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// lock returns the stripe mutex for a cluster id.
func (s *SQLiteStore) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

// Insert persists a new cluster with its evidence and FTS row.
func (s *SQLiteStore) Insert(ctx context.Context, cluster *types.KnowledgeCluster) error {
	if err := cluster.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertWithQuerier(ctx, tx, cluster); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) insertWithQuerier(ctx context.Context, q querier, cluster *types.KnowledgeCluster) error {
	now := time.Now()
	if cluster.CreatedAt.IsZero() {
		cluster.CreatedAt = now
	}
	cluster.UpdatedAt = now

	query := `
		INSERT INTO clusters (
			id, name, description, content, patterns, constraints,
			confidence, abstraction, lifecycle, hotness, corroborations, query_refs,
			scan_source_files, scan_missing_files, scan_total_bytes, scan_last_scanned_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		cluster.ID, cluster.Name,
		mustJSON(cluster.Description), mustJSON(cluster.Content),
		mustJSON(cluster.Patterns), mustJSON(cluster.Constraints),
		cluster.Confidence, cluster.Abstraction.String(), string(cluster.Lifecycle),
		cluster.Hotness, cluster.Corroborations, mustJSON(cluster.QueryRefs),
		mustJSON(cluster.Scan.SourceFiles), mustJSON(cluster.Scan.MissingFiles),
		cluster.Scan.TotalBytes, nullTime(cluster.Scan.LastScannedAt),
		cluster.CreatedAt, cluster.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cluster: %w", err)
	}

	if err := s.writeEvidenceWithQuerier(ctx, q, cluster.ID, cluster.Evidence); err != nil {
		return err
	}
	return s.syncFTSWithQuerier(ctx, q, cluster)
}

// Get returns a deep copy of the stored cluster.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.KnowledgeCluster, error) {
	return s.getWithQuerier(ctx, s.db, id)
}

const clusterColumns = `
	id, name, description, content, patterns, constraints,
	confidence, abstraction, lifecycle, hotness, corroborations, query_refs,
	scan_source_files, scan_missing_files, scan_total_bytes, scan_last_scanned_at,
	created_at, updated_at
`

func (s *SQLiteStore) getWithQuerier(ctx context.Context, q querier, id string) (*types.KnowledgeCluster, error) {
	row := q.QueryRowContext(ctx, "SELECT "+clusterColumns+" FROM clusters WHERE id = ?", id)
	cluster, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: cluster %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster: %w", err)
	}

	cluster.Evidence, err = s.loadEvidenceWithQuerier(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return cluster, nil
}

// rowScanner lets scanCluster work on both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCluster(row rowScanner) (*types.KnowledgeCluster, error) {
	var (
		cluster                          types.KnowledgeCluster
		description, content             string
		patterns, constraints, queryRefs string
		sourceFiles, missingFiles        string
		abstraction, lifecycle           string
		lastScanned                      sql.NullTime
	)
	err := row.Scan(
		&cluster.ID, &cluster.Name, &description, &content, &patterns, &constraints,
		&cluster.Confidence, &abstraction, &lifecycle, &cluster.Hotness,
		&cluster.Corroborations, &queryRefs,
		&sourceFiles, &missingFiles, &cluster.Scan.TotalBytes, &lastScanned,
		&cluster.CreatedAt, &cluster.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(description), &cluster.Description); err != nil {
		return nil, fmt.Errorf("corrupt description for %s: %w", cluster.ID, err)
	}
	if err := json.Unmarshal([]byte(content), &cluster.Content); err != nil {
		return nil, fmt.Errorf("corrupt content for %s: %w", cluster.ID, err)
	}
	if err := json.Unmarshal([]byte(patterns), &cluster.Patterns); err != nil {
		return nil, fmt.Errorf("corrupt patterns for %s: %w", cluster.ID, err)
	}
	if err := json.Unmarshal([]byte(constraints), &cluster.Constraints); err != nil {
		return nil, fmt.Errorf("corrupt constraints for %s: %w", cluster.ID, err)
	}
	if err := json.Unmarshal([]byte(queryRefs), &cluster.QueryRefs); err != nil {
		return nil, fmt.Errorf("corrupt query refs for %s: %w", cluster.ID, err)
	}
	if err := json.Unmarshal([]byte(sourceFiles), &cluster.Scan.SourceFiles); err != nil {
		return nil, fmt.Errorf("corrupt source files for %s: %w", cluster.ID, err)
	}
	if err := json.Unmarshal([]byte(missingFiles), &cluster.Scan.MissingFiles); err != nil {
		return nil, fmt.Errorf("corrupt missing files for %s: %w", cluster.ID, err)
	}

	level, err := types.ParseAbstractionLevel(abstraction)
	if err != nil {
		return nil, fmt.Errorf("cluster %s: %w", cluster.ID, err)
	}
	cluster.Abstraction = level
	cluster.Lifecycle = types.Lifecycle(lifecycle)
	if lastScanned.Valid {
		cluster.Scan.LastScannedAt = lastScanned.Time
	}
	return &cluster, nil
}

// Update rewrites the curated fields and scalar scores. The lifecycle column
// and the scan_* columns are deliberately not in the statement: lifecycle
// changes go through Transition, scan metadata through UpdateScanMeta.
func (s *SQLiteStore) Update(ctx context.Context, cluster *types.KnowledgeCluster) error {
	if err := cluster.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}

	mu := s.lock(cluster.ID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.updateWithQuerier(ctx, tx, cluster); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) updateWithQuerier(ctx context.Context, q querier, cluster *types.KnowledgeCluster) error {
	cluster.UpdatedAt = time.Now()
	query := `
		UPDATE clusters SET
			name = ?, description = ?, content = ?, patterns = ?, constraints = ?,
			confidence = ?, abstraction = ?, hotness = ?, corroborations = ?,
			query_refs = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := q.ExecContext(ctx, query,
		cluster.Name, mustJSON(cluster.Description), mustJSON(cluster.Content),
		mustJSON(cluster.Patterns), mustJSON(cluster.Constraints),
		cluster.Confidence, cluster.Abstraction.String(), cluster.Hotness,
		cluster.Corroborations, mustJSON(cluster.QueryRefs), cluster.UpdatedAt,
		cluster.ID)
	if err != nil {
		return fmt.Errorf("failed to update cluster: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: cluster %s", types.ErrNotFound, cluster.ID)
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM evidence WHERE cluster_id = ?", cluster.ID); err != nil {
		return fmt.Errorf("failed to clear evidence: %w", err)
	}
	if err := s.writeEvidenceWithQuerier(ctx, q, cluster.ID, cluster.Evidence); err != nil {
		return err
	}
	return s.syncFTSWithQuerier(ctx, q, cluster)
}

// UpdateScanMeta rewrites only the scan-derived columns.
func (s *SQLiteStore) UpdateScanMeta(ctx context.Context, id string, scan types.ScanMeta) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()
	return s.updateScanMetaWithQuerier(ctx, s.db, id, scan)
}

func (s *SQLiteStore) updateScanMetaWithQuerier(ctx context.Context, q querier, id string, scan types.ScanMeta) error {
	query := `
		UPDATE clusters SET
			scan_source_files = ?, scan_missing_files = ?,
			scan_total_bytes = ?, scan_last_scanned_at = ?
		WHERE id = ?
	`
	result, err := q.ExecContext(ctx, query,
		mustJSON(scan.SourceFiles), mustJSON(scan.MissingFiles),
		scan.TotalBytes, nullTime(scan.LastScannedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update scan metadata: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: cluster %s", types.ErrNotFound, id)
	}
	return nil
}

// Delete removes the cluster, its evidence, and its FTS row.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.deleteWithQuerier(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) deleteWithQuerier(ctx context.Context, q querier, id string) error {
	result, err := q.ExecContext(ctx, "DELETE FROM clusters WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: cluster %s", types.ErrNotFound, id)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM clusters_fts WHERE cluster_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete search row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) writeEvidenceWithQuerier(ctx context.Context, q querier, clusterID string, evidence []types.EvidenceUnit) error {
	query := `
		INSERT INTO evidence (cluster_id, position, path, start_offset, end_offset, text, score, justification, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, e := range evidence {
		if _, err := q.ExecContext(ctx, query,
			clusterID, i, e.Path, e.Start, e.End, e.Text, e.Score, e.Justification, e.Degraded); err != nil {
			return fmt.Errorf("failed to insert evidence %d: %w", i, err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadEvidenceWithQuerier(ctx context.Context, q querier, clusterID string) ([]types.EvidenceUnit, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT path, start_offset, end_offset, text, score, justification, degraded
		FROM evidence WHERE cluster_id = ? ORDER BY position
	`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence: %w", err)
	}
	defer rows.Close()

	var evidence []types.EvidenceUnit
	for rows.Next() {
		var e types.EvidenceUnit
		var justification sql.NullString
		if err := rows.Scan(&e.Path, &e.Start, &e.End, &e.Text, &e.Score, &justification, &e.Degraded); err != nil {
			return nil, err
		}
		e.Justification = justification.String
		evidence = append(evidence, e)
	}
	return evidence, rows.Err()
}

// syncFTSWithQuerier replaces the cluster's FTS row.
func (s *SQLiteStore) syncFTSWithQuerier(ctx context.Context, q querier, cluster *types.KnowledgeCluster) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM clusters_fts WHERE cluster_id = ?", cluster.ID); err != nil {
		return fmt.Errorf("failed to clear search row: %w", err)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO clusters_fts (cluster_id, name, description, content, query_refs)
		VALUES (?, ?, ?, ?, ?)
	`, cluster.ID, cluster.Name, cluster.Description.String(), cluster.Content.String(),
		joinRefs(cluster.QueryRefs))
	if err != nil {
		return fmt.Errorf("failed to index cluster: %w", err)
	}
	return nil
}

// List returns up to limit clusters ordered by the sort key.
func (s *SQLiteStore) List(ctx context.Context, limit int, sortBy SortBy) ([]*types.KnowledgeCluster, error) {
	return s.listWithQuerier(ctx, s.db, limit, sortBy)
}

func (s *SQLiteStore) listWithQuerier(ctx context.Context, q querier, limit int, sortBy SortBy) ([]*types.KnowledgeCluster, error) {
	var order string
	switch sortBy {
	case SortByHotness:
		order = "hotness DESC"
	case SortByConfidence:
		order = "confidence DESC"
	case SortByLastModified, "":
		order = "updated_at DESC"
	default:
		return nil, fmt.Errorf("%w: unknown sort key %q", types.ErrInvalidInput, sortBy)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.QueryContext(ctx,
		"SELECT "+clusterColumns+" FROM clusters ORDER BY "+order+", id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*types.KnowledgeCluster
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, cluster := range clusters {
		cluster.Evidence, err = s.loadEvidenceWithQuerier(ctx, q, cluster.ID)
		if err != nil {
			return nil, err
		}
	}
	return clusters, nil
}

// Transition moves the cluster through the lifecycle state machine.
func (s *SQLiteStore) Transition(ctx context.Context, id string, next types.Lifecycle) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()
	return s.transitionWithQuerier(ctx, s.db, id, next)
}

func (s *SQLiteStore) transitionWithQuerier(ctx context.Context, q querier, id string, next types.Lifecycle) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown lifecycle %q", types.ErrInvalidInput, next)
	}

	var current string
	err := q.QueryRowContext(ctx, "SELECT lifecycle FROM clusters WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: cluster %s", types.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read lifecycle: %w", err)
	}

	from := types.Lifecycle(current)
	if !from.CanTransition(next) {
		return fmt.Errorf("%w: cannot transition %s from %s to %s", types.ErrStoreConflict, id, from, next)
	}
	if from == next {
		return nil
	}

	_, err = q.ExecContext(ctx, "UPDATE clusters SET lifecycle = ?, updated_at = ? WHERE id = ?",
		string(next), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to transition cluster: %w", err)
	}
	return nil
}

// RecordReuse applies a reuse hit: hotness rises, confidence is nudged
// toward the corroborating weight, and the corroboration count may promote
// an EMERGING cluster to STABLE.
func (s *SQLiteStore) RecordReuse(ctx context.Context, id string, weight float64) (*types.KnowledgeCluster, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cluster, err := s.recordReuseWithQuerier(ctx, tx, id, weight)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cluster, nil
}

func (s *SQLiteStore) recordReuseWithQuerier(ctx context.Context, q querier, id string, weight float64) (*types.KnowledgeCluster, error) {
	cluster, err := s.getWithQuerier(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if cluster.Lifecycle == types.LifecycleDeprecated {
		return nil, fmt.Errorf("%w: cluster %s is deprecated", types.ErrStoreConflict, id)
	}

	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}

	cluster.Hotness += reuseHotnessBoost
	if cluster.Hotness > 1 {
		cluster.Hotness = 1
	}
	cluster.Confidence += (weight - cluster.Confidence) * confidenceNudge
	cluster.Corroborations++
	cluster.UpdatedAt = time.Now()

	_, err = q.ExecContext(ctx, `
		UPDATE clusters SET hotness = ?, confidence = ?, corroborations = ?, updated_at = ?
		WHERE id = ?
	`, cluster.Hotness, cluster.Confidence, cluster.Corroborations, cluster.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to record reuse: %w", err)
	}

	if cluster.Lifecycle == types.LifecycleEmerging && cluster.Corroborations >= s.opts.CorroborationN {
		if err := s.transitionWithQuerier(ctx, q, id, types.LifecycleStable); err != nil {
			return nil, err
		}
		cluster.Lifecycle = types.LifecycleStable
	}
	return cluster, nil
}

// DecayHotness applies one decay step to every non-deprecated cluster.
func (s *SQLiteStore) DecayHotness(ctx context.Context, rate float64) error {
	return s.decayHotnessWithQuerier(ctx, s.db, rate)
}

func (s *SQLiteStore) decayHotnessWithQuerier(ctx context.Context, q querier, rate float64) error {
	if rate < 0 || rate > 1 {
		return fmt.Errorf("%w: decay rate %v out of range", types.ErrInvalidInput, rate)
	}
	_, err := q.ExecContext(ctx,
		"UPDATE clusters SET hotness = hotness * (1.0 - ?) WHERE lifecycle != ?",
		rate, string(types.LifecycleDeprecated))
	if err != nil {
		return fmt.Errorf("failed to decay hotness: %w", err)
	}
	return nil
}

// Stats aggregates lifecycle counts and score histograms.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	return s.statsWithQuerier(ctx, s.db)
}

func (s *SQLiteStore) statsWithQuerier(ctx context.Context, q querier) (*Stats, error) {
	stats := &Stats{Lifecycle: make(map[types.Lifecycle]int)}

	rows, err := q.QueryContext(ctx, "SELECT lifecycle, confidence, hotness FROM clusters")
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lifecycle string
		var confidence, hotness float64
		if err := rows.Scan(&lifecycle, &confidence, &hotness); err != nil {
			return nil, err
		}
		stats.Total++
		stats.Lifecycle[types.Lifecycle(lifecycle)]++
		stats.ConfidenceHist[histBucket(confidence)]++
		stats.HotnessHist[histBucket(hotness)]++
	}
	return stats, rows.Err()
}

func histBucket(v float64) int {
	b := int(v * 10)
	if b < 0 {
		b = 0
	}
	if b > 9 {
		b = 9
	}
	return b
}

// Merge unions the named clusters into a new one and deletes the sources.
func (s *SQLiteStore) Merge(ctx context.Context, ids []string) (*types.KnowledgeCluster, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("%w: merge needs at least two clusters", types.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	merged, err := s.mergeWithQuerier(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *SQLiteStore) mergeWithQuerier(ctx context.Context, q querier, ids []string) (*types.KnowledgeCluster, error) {
	sources := make([]*types.KnowledgeCluster, 0, len(ids))
	for _, id := range ids {
		cluster, err := s.getWithQuerier(ctx, q, id)
		if err != nil {
			return nil, err
		}
		sources = append(sources, cluster)
	}

	merged := mergeClusters(sources)
	merged.ID = uuid.NewString()

	if err := s.insertWithQuerier(ctx, q, merged); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.deleteWithQuerier(ctx, q, id); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// mergeClusters combines source clusters outside of any storage concern.
// The first source contributes the name and curated text; evidence, patterns,
// constraints and query refs are unioned; confidence is the evidence-weighted
// average; the most advanced lifecycle survives.
func mergeClusters(sources []*types.KnowledgeCluster) *types.KnowledgeCluster {
	base := sources[0].Clone()
	merged := &types.KnowledgeCluster{
		Name:        base.Name,
		Description: base.Description,
		Content:     base.Content,
		Abstraction: base.Abstraction,
		Lifecycle:   base.Lifecycle,
		CreatedAt:   base.CreatedAt,
	}

	seenPattern := make(map[string]bool)
	seenConstraint := make(map[types.Constraint]bool)
	seenRef := make(map[string]bool)
	seenSpan := make(map[string]bool)
	seenSource := make(map[string]bool)
	seenMissing := make(map[string]bool)

	for _, src := range sources {
		merged.Lifecycle = types.MoreAdvanced(merged.Lifecycle, src.Lifecycle)
		if src.Abstraction > merged.Abstraction {
			merged.Abstraction = src.Abstraction
		}
		if src.Hotness > merged.Hotness {
			merged.Hotness = src.Hotness
		}
		merged.Corroborations += src.Corroborations
		if src.CreatedAt.Before(merged.CreatedAt) {
			merged.CreatedAt = src.CreatedAt
		}

		for _, e := range src.Evidence {
			key := fmt.Sprintf("%s:%d:%d", e.Path, e.Start, e.End)
			if !seenSpan[key] {
				seenSpan[key] = true
				merged.Evidence = append(merged.Evidence, e.Clone())
			}
		}
		for _, p := range src.Patterns {
			if !seenPattern[p] {
				seenPattern[p] = true
				merged.Patterns = append(merged.Patterns, p)
			}
		}
		for _, c := range src.Constraints {
			if !seenConstraint[c] {
				seenConstraint[c] = true
				merged.Constraints = append(merged.Constraints, c)
			}
		}
		for _, r := range src.QueryRefs {
			if !seenRef[r] {
				seenRef[r] = true
				merged.QueryRefs = append(merged.QueryRefs, r)
			}
		}
		for _, f := range src.Scan.SourceFiles {
			if !seenSource[f] {
				seenSource[f] = true
				merged.Scan.SourceFiles = append(merged.Scan.SourceFiles, f)
			}
		}
		for _, f := range src.Scan.MissingFiles {
			if !seenMissing[f] {
				seenMissing[f] = true
				merged.Scan.MissingFiles = append(merged.Scan.MissingFiles, f)
			}
		}
		merged.Scan.TotalBytes += src.Scan.TotalBytes
		if src.Scan.LastScannedAt.After(merged.Scan.LastScannedAt) {
			merged.Scan.LastScannedAt = src.Scan.LastScannedAt
		}
	}

	merged.Confidence = weightedConfidence(merged.Evidence)
	return merged
}

// Split partitions the cluster's evidence into two children by the predicate.
func (s *SQLiteStore) Split(ctx context.Context, id string, pred SplitPredicate) ([]*types.KnowledgeCluster, error) {
	if pred == nil {
		return nil, fmt.Errorf("%w: split needs a predicate", types.ErrInvalidInput)
	}

	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	children, err := s.splitWithQuerier(ctx, tx, id, pred)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return children, nil
}

func (s *SQLiteStore) splitWithQuerier(ctx context.Context, q querier, id string, pred SplitPredicate) ([]*types.KnowledgeCluster, error) {
	parent, err := s.getWithQuerier(ctx, q, id)
	if err != nil {
		return nil, err
	}

	var matched, rest []types.EvidenceUnit
	for _, e := range parent.Evidence {
		if pred(e) {
			matched = append(matched, e.Clone())
		} else {
			rest = append(rest, e.Clone())
		}
	}
	if len(matched) == 0 || len(rest) == 0 {
		return nil, fmt.Errorf("%w: predicate does not partition the evidence", types.ErrInvalidInput)
	}

	children := []*types.KnowledgeCluster{
		childCluster(parent, matched, " (split A)"),
		childCluster(parent, rest, " (split B)"),
	}
	for _, child := range children {
		if err := s.insertWithQuerier(ctx, q, child); err != nil {
			return nil, err
		}
	}
	if err := s.deleteWithQuerier(ctx, q, id); err != nil {
		return nil, err
	}
	return children, nil
}

// childCluster builds a split child: curated text is inherited, scores are
// recomputed from the child's own evidence, lifecycle restarts at EMERGING.
func childCluster(parent *types.KnowledgeCluster, evidence []types.EvidenceUnit, suffix string) *types.KnowledgeCluster {
	paths := make(map[string]bool)
	for _, e := range evidence {
		paths[e.Path] = true
	}
	var sourceFiles []string
	for _, f := range parent.Scan.SourceFiles {
		if paths[f] {
			sourceFiles = append(sourceFiles, f)
		}
	}

	return &types.KnowledgeCluster{
		ID:             uuid.NewString(),
		Name:           parent.Name + suffix,
		Description:    parent.Description,
		Content:        parent.Content,
		Evidence:       evidence,
		Patterns:       append([]string(nil), parent.Patterns...),
		Constraints:    append([]types.Constraint(nil), parent.Constraints...),
		Confidence:     weightedConfidence(evidence),
		Abstraction:    parent.Abstraction,
		Lifecycle:      types.LifecycleEmerging,
		Hotness:        parent.Hotness,
		Corroborations: 1,
		QueryRefs:      append([]string(nil), parent.QueryRefs...),
		Scan: types.ScanMeta{
			SourceFiles:   sourceFiles,
			LastScannedAt: parent.Scan.LastScannedAt,
		},
		CreatedAt: parent.CreatedAt,
	}
}

// weightedConfidence is the span-length-weighted average evidence score.
func weightedConfidence(evidence []types.EvidenceUnit) float64 {
	var weighted, total float64
	for _, e := range evidence {
		w := float64(e.End - e.Start)
		weighted += e.Score * w
		total += w
	}
	if total == 0 {
		return 0
	}
	c := weighted / total
	if c > 1 {
		c = 1
	}
	return c
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable with unmarshalable types, which is a programmer error.
		panic(fmt.Sprintf("store: marshal failed: %v", err))
	}
	return string(data)
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// sqliteTx exposes the full store contract inside one transaction.
type sqliteTx struct {
	tx    *sql.Tx
	store *SQLiteStore
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

func (t *sqliteTx) Insert(ctx context.Context, cluster *types.KnowledgeCluster) error {
	if err := cluster.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	return t.store.insertWithQuerier(ctx, t.tx, cluster)
}

func (t *sqliteTx) Get(ctx context.Context, id string) (*types.KnowledgeCluster, error) {
	return t.store.getWithQuerier(ctx, t.tx, id)
}

func (t *sqliteTx) Update(ctx context.Context, cluster *types.KnowledgeCluster) error {
	if err := cluster.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	return t.store.updateWithQuerier(ctx, t.tx, cluster)
}

func (t *sqliteTx) UpdateScanMeta(ctx context.Context, id string, scan types.ScanMeta) error {
	return t.store.updateScanMetaWithQuerier(ctx, t.tx, id, scan)
}

func (t *sqliteTx) Delete(ctx context.Context, id string) error {
	return t.store.deleteWithQuerier(ctx, t.tx, id)
}

func (t *sqliteTx) Find(ctx context.Context, text string, limit int) ([]*types.KnowledgeCluster, error) {
	return t.store.findWithQuerier(ctx, t.tx, text, limit)
}

func (t *sqliteTx) FindSimilar(ctx context.Context, query string, topK int) ([]Match, error) {
	return t.store.findSimilarWithQuerier(ctx, t.tx, query, topK)
}

func (t *sqliteTx) RecordReuse(ctx context.Context, id string, weight float64) (*types.KnowledgeCluster, error) {
	return t.store.recordReuseWithQuerier(ctx, t.tx, id, weight)
}

func (t *sqliteTx) Transition(ctx context.Context, id string, next types.Lifecycle) error {
	return t.store.transitionWithQuerier(ctx, t.tx, id, next)
}

func (t *sqliteTx) DecayHotness(ctx context.Context, rate float64) error {
	return t.store.decayHotnessWithQuerier(ctx, t.tx, rate)
}

func (t *sqliteTx) Merge(ctx context.Context, ids []string) (*types.KnowledgeCluster, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("%w: merge needs at least two clusters", types.ErrInvalidInput)
	}
	return t.store.mergeWithQuerier(ctx, t.tx, ids)
}

func (t *sqliteTx) Split(ctx context.Context, id string, pred SplitPredicate) ([]*types.KnowledgeCluster, error) {
	if pred == nil {
		return nil, fmt.Errorf("%w: split needs a predicate", types.ErrInvalidInput)
	}
	return t.store.splitWithQuerier(ctx, t.tx, id, pred)
}

func (t *sqliteTx) List(ctx context.Context, limit int, sortBy SortBy) ([]*types.KnowledgeCluster, error) {
	return t.store.listWithQuerier(ctx, t.tx, limit, sortBy)
}

func (t *sqliteTx) Stats(ctx context.Context) (*Stats, error) {
	return t.store.statsWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) Close() error { return nil }

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, fmt.Errorf("%w: nested transactions are not supported", types.ErrInvalidInput)
}
