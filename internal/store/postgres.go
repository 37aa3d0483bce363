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

	"github.com/openonco/policywatch/internal/db"
	"github.com/openonco/policywatch/internal/model"
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
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"latest_artifact":   `SELECT artifact_id, payer_id, policy_id, content_hash, fetched_at, last_checked_at, content_type, source_url, anchors, content FROM artifacts WHERE payer_id = $1 AND policy_id = $2 ORDER BY fetched_at DESC LIMIT 1`,
	"get_artifact":      `SELECT artifact_id, payer_id, policy_id, content_hash, fetched_at, last_checked_at, content_type, source_url, anchors, content FROM artifacts WHERE artifact_id = $1`,
	"insert_artifact":   `INSERT INTO artifacts (artifact_id, payer_id, policy_id, content_hash, fetched_at, last_checked_at, content_type, source_url, anchors, content) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"touch_artifact":    `UPDATE artifacts SET last_checked_at = $1 WHERE artifact_id = $2`,
	"insert_assertion":  `INSERT INTO assertions (id, payer_id, test_id, layer, status, criteria, source_document_id, confidence, quotes, effective_date, expiration_date, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	"get_determination": `SELECT payer_id, test_id, status, source_layer, criteria, confidence, conflicts, changelog, reconciled_at FROM determinations WHERE payer_id = $1 AND test_id = $2`,
	"put_determination": `INSERT INTO determinations (payer_id, test_id, status, source_layer, criteria, confidence, conflicts, changelog, reconciled_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (payer_id, test_id) DO UPDATE SET status = excluded.status, source_layer = excluded.source_layer, criteria = excluded.criteria, confidence = excluded.confidence, conflicts = excluded.conflicts, changelog = excluded.changelog, reconciled_at = excluded.reconciled_at`,
	"insert_proposal":   `INSERT INTO proposals (id, type, status, payload, evidence, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_proposal":      `SELECT id, type, status, payload, evidence, created_at, reviewed_at, applied_at FROM proposals WHERE id = $1`,
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

// NewPostgresFromPool wraps an existing pool. Tests inject pgxmock here.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id     TEXT PRIMARY KEY,
	payer_id        TEXT NOT NULL,
	policy_id       TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	fetched_at      TIMESTAMPTZ NOT NULL,
	last_checked_at TIMESTAMPTZ NOT NULL,
	content_type    TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	anchors         JSONB NOT NULL DEFAULT '[]',
	content         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assertions (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	payer_id           TEXT NOT NULL,
	test_id            TEXT NOT NULL,
	layer              TEXT NOT NULL,
	status             TEXT NOT NULL,
	criteria           JSONB NOT NULL DEFAULT '{}',
	source_document_id TEXT NOT NULL DEFAULT '',
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
	quotes             JSONB NOT NULL DEFAULT '[]',
	effective_date     TIMESTAMPTZ,
	expiration_date    TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS determinations (
	payer_id      TEXT NOT NULL,
	test_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	source_layer  TEXT NOT NULL,
	criteria      JSONB NOT NULL DEFAULT '{}',
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	conflicts     JSONB NOT NULL DEFAULT '[]',
	changelog     JSONB NOT NULL DEFAULT '[]',
	reconciled_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (payer_id, test_id)
);

CREATE TABLE IF NOT EXISTS delegation_facts (
	payer_id   TEXT PRIMARY KEY,
	fact       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS proposals (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	payload     JSONB NOT NULL,
	evidence    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL,
	reviewed_at TIMESTAMPTZ,
	applied_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dry_run     BOOLEAN NOT NULL DEFAULT false,
	stats       JSONB NOT NULL DEFAULT '{}',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_artifacts_payer_policy ON artifacts(payer_id, policy_id, fetched_at);
CREATE INDEX IF NOT EXISTS idx_assertions_payer_test ON assertions(payer_id, test_id);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Artifacts

func (s *PostgresStore) LatestArtifact(ctx context.Context, payerID, policyID string) (*model.Artifact, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["latest_artifact"], payerID, policyID)
	a, err := scanArtifactPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_artifact"], artifactID)
	a, err := scanArtifactPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("artifact not found: %s", artifactID)
	}
	return a, err
}

func (s *PostgresStore) InsertArtifact(ctx context.Context, a model.Artifact) error {
	anchorsJSON, err := json.Marshal(a.Anchors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal anchors")
	}
	_, err = s.pool.Exec(ctx, preparedStatements["insert_artifact"],
		a.ArtifactID, a.PayerID, a.PolicyID, a.ContentHash,
		a.FetchedAt.UTC(), a.LastCheckedAt.UTC(),
		a.ContentType, a.SourceURL, anchorsJSON, a.Content,
	)
	return eris.Wrapf(err, "postgres: insert artifact %s", a.ArtifactID)
}

func (s *PostgresStore) TouchArtifact(ctx context.Context, artifactID string, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["touch_artifact"], checkedAt.UTC(), artifactID)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch artifact %s", artifactID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("artifact not found: %s", artifactID)
	}
	return nil
}

func (s *PostgresStore) AppendAnchors(ctx context.Context, artifactID string, anchors []model.Anchor) error {
	if len(anchors) == 0 {
		return nil
	}
	anchorsJSON, err := json.Marshal(anchors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal anchors")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET anchors = anchors || $1::jsonb WHERE artifact_id = $2`,
		anchorsJSON, artifactID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append anchors %s", artifactID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("artifact not found: %s", artifactID)
	}
	return nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.Artifact, error) {
	query := `SELECT artifact_id, payer_id, policy_id, content_hash, fetched_at, last_checked_at, content_type, source_url, anchors, content FROM artifacts WHERE 1=1`
	var args []any

	if filter.PayerID != "" {
		args = append(args, filter.PayerID)
		query += ` AND payer_id = ` + placeholder(len(args))
	}
	if filter.PolicyID != "" {
		args = append(args, filter.PolicyID)
		query += ` AND policy_id = ` + placeholder(len(args))
	}
	query += ` ORDER BY fetched_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT ` + placeholder(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET ` + placeholder(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts")
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		a, err := scanArtifactPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list artifacts iterate")
}

// Assertions and determinations

func (s *PostgresStore) InsertAssertion(ctx context.Context, a model.CoverageAssertion) error {
	criteriaJSON, err := json.Marshal(a.Criteria)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal criteria")
	}
	quotesJSON, err := json.Marshal(a.Quotes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal quotes")
	}
	_, err = s.pool.Exec(ctx, preparedStatements["insert_assertion"],
		uuid.New().String(), a.PayerID, a.TestID, string(a.Layer), string(a.Status),
		criteriaJSON, a.SourceDocumentID, a.Confidence, quotesJSON,
		a.EffectiveDate, a.ExpirationDate, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: insert assertion")
}

func (s *PostgresStore) ListAssertions(ctx context.Context, filter AssertionFilter) ([]model.CoverageAssertion, error) {
	query := `SELECT payer_id, test_id, layer, status, criteria, source_document_id, confidence, quotes, effective_date, expiration_date FROM assertions WHERE 1=1`
	var args []any

	if filter.PayerID != "" {
		args = append(args, filter.PayerID)
		query += ` AND payer_id = ` + placeholder(len(args))
	}
	if filter.TestID != "" {
		args = append(args, filter.TestID)
		query += ` AND test_id = ` + placeholder(len(args))
	}
	if filter.Layer != "" {
		args = append(args, string(filter.Layer))
		query += ` AND layer = ` + placeholder(len(args))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assertions")
	}
	defer rows.Close()

	var out []model.CoverageAssertion
	for rows.Next() {
		var a model.CoverageAssertion
		var criteriaJSON, quotesJSON []byte
		err := rows.Scan(&a.PayerID, &a.TestID, &a.Layer, &a.Status, &criteriaJSON,
			&a.SourceDocumentID, &a.Confidence, &quotesJSON, &a.EffectiveDate, &a.ExpirationDate)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan assertion")
		}
		if err := json.Unmarshal(criteriaJSON, &a.Criteria); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal criteria")
		}
		if err := json.Unmarshal(quotesJSON, &a.Quotes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal quotes")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list assertions iterate")
}

func (s *PostgresStore) GetDetermination(ctx context.Context, payerID, testID string) (*model.Determination, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_determination"], payerID, testID)

	var d model.Determination
	var criteriaJSON, conflictsJSON, changelogJSON []byte
	err := row.Scan(&d.PayerID, &d.TestID, &d.Status, &d.SourceLayer,
		&criteriaJSON, &d.Confidence, &conflictsJSON, &changelogJSON, &d.ReconciledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get determination")
	}
	if err := json.Unmarshal(criteriaJSON, &d.Criteria); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal criteria")
	}
	if err := json.Unmarshal(conflictsJSON, &d.Conflicts); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal conflicts")
	}
	if err := json.Unmarshal(changelogJSON, &d.Changelog); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal changelog")
	}
	return &d, nil
}

func (s *PostgresStore) PutDetermination(ctx context.Context, d model.Determination) error {
	criteriaJSON, err := json.Marshal(d.Criteria)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal criteria")
	}
	conflictsJSON, err := json.Marshal(d.Conflicts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal conflicts")
	}
	changelogJSON, err := json.Marshal(d.Changelog)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal changelog")
	}
	_, err = s.pool.Exec(ctx, preparedStatements["put_determination"],
		d.PayerID, d.TestID, string(d.Status), string(d.SourceLayer),
		criteriaJSON, d.Confidence, conflictsJSON, changelogJSON, d.ReconciledAt.UTC(),
	)
	return eris.Wrap(err, "postgres: put determination")
}

// Delegation facts

func (s *PostgresStore) UpsertDelegationFact(ctx context.Context, f model.DelegationFact) error {
	factJSON, err := json.Marshal(f)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal delegation fact")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO delegation_facts (payer_id, fact, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (payer_id) DO UPDATE SET fact = excluded.fact, updated_at = excluded.updated_at`,
		f.PayerID, factJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert delegation fact %s", f.PayerID)
}

// BulkUpsertDelegationFacts loads a whole curated fact set in one COPY-based
// merge. Used by catalog imports; the single-fact path stays row-at-a-time.
func (s *PostgresStore) BulkUpsertDelegationFacts(ctx context.Context, facts []model.DelegationFact) error {
	rows := make([][]any, 0, len(facts))
	now := time.Now().UTC()
	for _, f := range facts {
		factJSON, err := json.Marshal(f)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal delegation fact %s", f.PayerID)
		}
		rows = append(rows, []any{f.PayerID, factJSON, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "delegation_facts",
		Columns:      []string{"payer_id", "fact", "updated_at"},
		ConflictKeys: []string{"payer_id"},
	}, rows)
	return err
}

func (s *PostgresStore) ListDelegationFacts(ctx context.Context) ([]model.DelegationFact, error) {
	rows, err := s.pool.Query(ctx, `SELECT fact FROM delegation_facts ORDER BY payer_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list delegation facts")
	}
	defer rows.Close()

	var out []model.DelegationFact
	for rows.Next() {
		var factJSON []byte
		if err := rows.Scan(&factJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan delegation fact")
		}
		var f model.DelegationFact
		if err := json.Unmarshal(factJSON, &f); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal delegation fact")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list delegation facts iterate")
}

// Proposals

func (s *PostgresStore) InsertProposal(ctx context.Context, p model.Proposal) error {
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal payload")
	}
	evidenceJSON, err := json.Marshal(p.Evidence)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal evidence")
	}
	_, err = s.pool.Exec(ctx, preparedStatements["insert_proposal"],
		p.ID, string(p.Type), string(p.Status), payloadJSON, evidenceJSON, p.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert proposal %s", p.ID)
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_proposal"], id)
	p, err := scanProposalPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("proposal not found: %s", id)
	}
	return p, err
}

func (s *PostgresStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]model.Proposal, error) {
	query := `SELECT id, type, status, payload, evidence, created_at, reviewed_at, applied_at FROM proposals WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = ` + placeholder(len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += ` AND type = ` + placeholder(len(args))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT ` + placeholder(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET ` + placeholder(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list proposals")
	}
	defer rows.Close()

	var out []model.Proposal
	for rows.Next() {
		p, err := scanProposalPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list proposals iterate")
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus, at time.Time) error {
	var query string
	switch status {
	case model.ProposalApplied:
		query = `UPDATE proposals SET status = $1, applied_at = $2 WHERE id = $3`
	default:
		query = `UPDATE proposals SET status = $1, reviewed_at = $2 WHERE id = $3`
	}
	tag, err := s.pool.Exec(ctx, query, string(status), at.UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update proposal status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("proposal not found: %s", id)
	}
	return nil
}

// Runs

func (s *PostgresStore) CreateRun(ctx context.Context, dryRun bool) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, dry_run, stats, started_at) VALUES ($1, $2, '{}', $3)`,
		id, dryRun, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &model.Run{ID: id, DryRun: dryRun, StartedAt: now}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, stats model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET stats = $1, finished_at = $2 WHERE id = $3`,
		statsJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, dry_run, stats, started_at, finished_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanRunPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, dry_run, stats, started_at, finished_at FROM runs ORDER BY started_at DESC`
	var args []any

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT ` + placeholder(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET ` + placeholder(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		r, err := scanRunPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// helpers

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func scanArtifactPG(row pgx.Row) (*model.Artifact, error) {
	var a model.Artifact
	var anchorsJSON []byte
	err := row.Scan(&a.ArtifactID, &a.PayerID, &a.PolicyID, &a.ContentHash,
		&a.FetchedAt, &a.LastCheckedAt, &a.ContentType, &a.SourceURL,
		&anchorsJSON, &a.Content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan artifact")
	}
	if err := json.Unmarshal(anchorsJSON, &a.Anchors); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal anchors")
	}
	return &a, nil
}

func scanProposalPG(row pgx.Row) (*model.Proposal, error) {
	var p model.Proposal
	var payloadJSON, evidenceJSON []byte
	err := row.Scan(&p.ID, &p.Type, &p.Status, &payloadJSON, &evidenceJSON,
		&p.CreatedAt, &p.ReviewedAt, &p.AppliedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan proposal")
	}
	if err := json.Unmarshal(payloadJSON, &p.Payload); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal payload")
	}
	if err := json.Unmarshal(evidenceJSON, &p.Evidence); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal evidence")
	}
	return &p, nil
}

func scanRunPG(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var statsJSON []byte
	err := row.Scan(&r.ID, &r.DryRun, &statsJSON, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal stats")
	}
	return &r, nil
}
