package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/openonco/policywatch/internal/model"
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
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id     TEXT PRIMARY KEY,
	payer_id        TEXT NOT NULL,
	policy_id       TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	fetched_at      DATETIME NOT NULL,
	last_checked_at DATETIME NOT NULL,
	content_type    TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	anchors         TEXT NOT NULL DEFAULT '[]',
	content         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assertions (
	id                 TEXT PRIMARY KEY,
	payer_id           TEXT NOT NULL,
	test_id            TEXT NOT NULL,
	layer              TEXT NOT NULL,
	status             TEXT NOT NULL,
	criteria           TEXT NOT NULL DEFAULT '{}',
	source_document_id TEXT NOT NULL DEFAULT '',
	confidence         REAL NOT NULL DEFAULT 0,
	quotes             TEXT NOT NULL DEFAULT '[]',
	effective_date     DATETIME,
	expiration_date    DATETIME,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS determinations (
	payer_id      TEXT NOT NULL,
	test_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	source_layer  TEXT NOT NULL,
	criteria      TEXT NOT NULL DEFAULT '{}',
	confidence    REAL NOT NULL DEFAULT 0,
	conflicts     TEXT NOT NULL DEFAULT '[]',
	changelog     TEXT NOT NULL DEFAULT '[]',
	reconciled_at DATETIME NOT NULL,
	PRIMARY KEY (payer_id, test_id)
);

CREATE TABLE IF NOT EXISTS delegation_facts (
	payer_id TEXT PRIMARY KEY,
	fact     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS proposals (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	payload     TEXT NOT NULL,
	evidence    TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL,
	reviewed_at DATETIME,
	applied_at  DATETIME
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	dry_run     INTEGER NOT NULL DEFAULT 0,
	stats       TEXT NOT NULL DEFAULT '{}',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_artifacts_payer_policy ON artifacts(payer_id, policy_id, fetched_at);
CREATE INDEX IF NOT EXISTS idx_assertions_payer_test ON assertions(payer_id, test_id);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Artifacts

const artifactColumns = `artifact_id, payer_id, policy_id, content_hash, fetched_at, last_checked_at, content_type, source_url, anchors, content`

func (s *SQLiteStore) LatestArtifact(ctx context.Context, payerID, policyID string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts
		 WHERE payer_id = ? AND policy_id = ?
		 ORDER BY fetched_at DESC LIMIT 1`,
		payerID, policyID,
	)
	a, err := scanArtifact(row)
	if err == errNotFound {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE artifact_id = ?`,
		artifactID,
	)
	a, err := scanArtifact(row)
	if err == errNotFound {
		return nil, eris.Errorf("artifact not found: %s", artifactID)
	}
	return a, err
}

func (s *SQLiteStore) InsertArtifact(ctx context.Context, a model.Artifact) error {
	anchorsJSON, err := json.Marshal(a.Anchors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal anchors")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ArtifactID, a.PayerID, a.PolicyID, a.ContentHash,
		a.FetchedAt.UTC(), a.LastCheckedAt.UTC(),
		a.ContentType, a.SourceURL, string(anchorsJSON), a.Content,
	)
	return eris.Wrapf(err, "sqlite: insert artifact %s", a.ArtifactID)
}

func (s *SQLiteStore) TouchArtifact(ctx context.Context, artifactID string, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET last_checked_at = ? WHERE artifact_id = ?`,
		checkedAt.UTC(), artifactID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch artifact %s", artifactID)
	}
	return checkRowsAffected(res, "artifact", artifactID)
}

func (s *SQLiteStore) AppendAnchors(ctx context.Context, artifactID string, anchors []model.Anchor) error {
	if len(anchors) == 0 {
		return nil
	}
	a, err := s.GetArtifact(ctx, artifactID)
	if err != nil {
		return err
	}
	merged := append(a.Anchors, anchors...)
	anchorsJSON, err := json.Marshal(merged)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal anchors")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET anchors = ? WHERE artifact_id = ?`,
		string(anchorsJSON), artifactID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append anchors %s", artifactID)
	}
	return checkRowsAffected(res, "artifact", artifactID)
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE 1=1`
	var args []any

	if filter.PayerID != "" {
		query += ` AND payer_id = ?`
		args = append(args, filter.PayerID)
	}
	if filter.PolicyID != "" {
		query += ` AND policy_id = ?`
		args = append(args, filter.PolicyID)
	}
	query += ` ORDER BY fetched_at DESC`

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
		return nil, eris.Wrap(err, "sqlite: list artifacts")
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list artifacts iterate")
}

// Assertions and determinations

func (s *SQLiteStore) InsertAssertion(ctx context.Context, a model.CoverageAssertion) error {
	criteriaJSON, err := json.Marshal(a.Criteria)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal criteria")
	}
	quotesJSON, err := json.Marshal(a.Quotes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal quotes")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assertions (id, payer_id, test_id, layer, status, criteria, source_document_id, confidence, quotes, effective_date, expiration_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), a.PayerID, a.TestID, string(a.Layer), string(a.Status),
		string(criteriaJSON), a.SourceDocumentID, a.Confidence, string(quotesJSON),
		nullableTime(a.EffectiveDate), nullableTime(a.ExpirationDate), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: insert assertion")
}

func (s *SQLiteStore) ListAssertions(ctx context.Context, filter AssertionFilter) ([]model.CoverageAssertion, error) {
	query := `SELECT payer_id, test_id, layer, status, criteria, source_document_id, confidence, quotes, effective_date, expiration_date
	          FROM assertions WHERE 1=1`
	var args []any

	if filter.PayerID != "" {
		query += ` AND payer_id = ?`
		args = append(args, filter.PayerID)
	}
	if filter.TestID != "" {
		query += ` AND test_id = ?`
		args = append(args, filter.TestID)
	}
	if filter.Layer != "" {
		query += ` AND layer = ?`
		args = append(args, string(filter.Layer))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assertions")
	}
	defer rows.Close()

	var out []model.CoverageAssertion
	for rows.Next() {
		var a model.CoverageAssertion
		var criteriaJSON, quotesJSON string
		var eff, exp sql.NullTime
		err := rows.Scan(&a.PayerID, &a.TestID, &a.Layer, &a.Status, &criteriaJSON,
			&a.SourceDocumentID, &a.Confidence, &quotesJSON, &eff, &exp)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assertion")
		}
		if err := json.Unmarshal([]byte(criteriaJSON), &a.Criteria); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal criteria")
		}
		if err := json.Unmarshal([]byte(quotesJSON), &a.Quotes); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal quotes")
		}
		a.EffectiveDate = timePtr(eff)
		a.ExpirationDate = timePtr(exp)
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list assertions iterate")
}

func (s *SQLiteStore) GetDetermination(ctx context.Context, payerID, testID string) (*model.Determination, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payer_id, test_id, status, source_layer, criteria, confidence, conflicts, changelog, reconciled_at
		 FROM determinations WHERE payer_id = ? AND test_id = ?`,
		payerID, testID,
	)

	var d model.Determination
	var criteriaJSON, conflictsJSON, changelogJSON string
	err := row.Scan(&d.PayerID, &d.TestID, &d.Status, &d.SourceLayer,
		&criteriaJSON, &d.Confidence, &conflictsJSON, &changelogJSON, &d.ReconciledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get determination")
	}
	if err := json.Unmarshal([]byte(criteriaJSON), &d.Criteria); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal criteria")
	}
	if err := json.Unmarshal([]byte(conflictsJSON), &d.Conflicts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal conflicts")
	}
	if err := json.Unmarshal([]byte(changelogJSON), &d.Changelog); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal changelog")
	}
	return &d, nil
}

func (s *SQLiteStore) PutDetermination(ctx context.Context, d model.Determination) error {
	criteriaJSON, err := json.Marshal(d.Criteria)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal criteria")
	}
	conflictsJSON, err := json.Marshal(d.Conflicts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal conflicts")
	}
	changelogJSON, err := json.Marshal(d.Changelog)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal changelog")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO determinations (payer_id, test_id, status, source_layer, criteria, confidence, conflicts, changelog, reconciled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (payer_id, test_id) DO UPDATE SET
		   status = excluded.status, source_layer = excluded.source_layer,
		   criteria = excluded.criteria, confidence = excluded.confidence,
		   conflicts = excluded.conflicts, changelog = excluded.changelog,
		   reconciled_at = excluded.reconciled_at`,
		d.PayerID, d.TestID, string(d.Status), string(d.SourceLayer),
		string(criteriaJSON), d.Confidence, string(conflictsJSON), string(changelogJSON),
		d.ReconciledAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: put determination")
}

// Delegation facts

func (s *SQLiteStore) UpsertDelegationFact(ctx context.Context, f model.DelegationFact) error {
	factJSON, err := json.Marshal(f)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal delegation fact")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO delegation_facts (payer_id, fact, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (payer_id) DO UPDATE SET fact = excluded.fact, updated_at = excluded.updated_at`,
		f.PayerID, string(factJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert delegation fact %s", f.PayerID)
}

func (s *SQLiteStore) ListDelegationFacts(ctx context.Context) ([]model.DelegationFact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fact FROM delegation_facts ORDER BY payer_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list delegation facts")
	}
	defer rows.Close()

	var out []model.DelegationFact
	for rows.Next() {
		var factJSON string
		if err := rows.Scan(&factJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan delegation fact")
		}
		var f model.DelegationFact
		if err := json.Unmarshal([]byte(factJSON), &f); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal delegation fact")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list delegation facts iterate")
}

// Proposals

func (s *SQLiteStore) InsertProposal(ctx context.Context, p model.Proposal) error {
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal payload")
	}
	evidenceJSON, err := json.Marshal(p.Evidence)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal evidence")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proposals (id, type, status, payload, evidence, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Type), string(p.Status), string(payloadJSON), string(evidenceJSON), p.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert proposal %s", p.ID)
}

func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, status, payload, evidence, created_at, reviewed_at, applied_at
		 FROM proposals WHERE id = ?`,
		id,
	)
	p, err := scanProposal(row)
	if err == errNotFound {
		return nil, eris.Errorf("proposal not found: %s", id)
	}
	return p, err
}

func (s *SQLiteStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]model.Proposal, error) {
	query := `SELECT id, type, status, payload, evidence, created_at, reviewed_at, applied_at FROM proposals WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	// Type-prefixed, time-ordered IDs sort chronologically within a type;
	// created_at orders across types.
	query += ` ORDER BY created_at ASC, id ASC`

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
		return nil, eris.Wrap(err, "sqlite: list proposals")
	}
	defer rows.Close()

	var out []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list proposals iterate")
}

func (s *SQLiteStore) UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus, at time.Time) error {
	var query string
	switch status {
	case model.ProposalApplied:
		query = `UPDATE proposals SET status = ?, applied_at = ? WHERE id = ?`
	default:
		query = `UPDATE proposals SET status = ?, reviewed_at = ? WHERE id = ?`
	}
	res, err := s.db.ExecContext(ctx, query, string(status), at.UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update proposal status %s", id)
	}
	return checkRowsAffected(res, "proposal", id)
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, dryRun bool) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, dry_run, stats, started_at) VALUES (?, ?, '{}', ?)`,
		id, boolToInt(dryRun), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &model.Run{ID: id, DryRun: dryRun, StartedAt: now}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, stats model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET stats = ?, finished_at = ? WHERE id = ?`,
		string(statsJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dry_run, stats, started_at, finished_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err == errNotFound {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, dry_run, stats, started_at, finished_at FROM runs ORDER BY started_at DESC`
	var args []any

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
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

var errNotFound = sql.ErrNoRows

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanArtifact(row scannable) (*model.Artifact, error) {
	var a model.Artifact
	var anchorsJSON string
	err := row.Scan(&a.ArtifactID, &a.PayerID, &a.PolicyID, &a.ContentHash,
		&a.FetchedAt, &a.LastCheckedAt, &a.ContentType, &a.SourceURL,
		&anchorsJSON, &a.Content)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan artifact")
	}
	if err := json.Unmarshal([]byte(anchorsJSON), &a.Anchors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal anchors")
	}
	return &a, nil
}

func scanProposal(row scannable) (*model.Proposal, error) {
	var p model.Proposal
	var payloadJSON, evidenceJSON string
	var reviewed, applied sql.NullTime
	err := row.Scan(&p.ID, &p.Type, &p.Status, &payloadJSON, &evidenceJSON,
		&p.CreatedAt, &reviewed, &applied)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan proposal")
	}
	if err := json.Unmarshal([]byte(payloadJSON), &p.Payload); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal payload")
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &p.Evidence); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal evidence")
	}
	p.ReviewedAt = timePtr(reviewed)
	p.AppliedAt = timePtr(applied)
	return &p, nil
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var dryRun int
	var statsJSON string
	var finished sql.NullTime
	err := row.Scan(&r.ID, &dryRun, &statsJSON, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := json.Unmarshal([]byte(statsJSON), &r.Stats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal stats")
	}
	r.DryRun = dryRun != 0
	r.FinishedAt = timePtr(finished)
	return &r, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
