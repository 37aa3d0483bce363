// Package artifact writes content-addressed snapshots of canonicalized
// policy text. Re-fetching unchanged content never creates a new record:
// the hash is compared against the latest stored artifact and only the
// last-checked marker advances.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openonco/policywatch/internal/canonical"
	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/store"
)

// hashFragLen is how much of the content hash goes into the artifact id.
// Eight hex chars is enough to disambiguate revisions of one policy.
const hashFragLen = 8

// ComputeHash returns the hex sha256 of canonical content.
func ComputeHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ArtifactID builds the stable, human-scannable artifact id:
// payer, policy, fetch date, and a short hash fragment.
func ArtifactID(payerID, policyID string, fetchedAt time.Time, contentHash string) string {
	frag := contentHash
	if len(frag) > hashFragLen {
		frag = frag[:hashFragLen]
	}
	return fmt.Sprintf("%s-%s-%s-%s", payerID, policyID, fetchedAt.UTC().Format("20060102"), frag)
}

// Writer persists fetched pages as artifacts with idempotent semantics.
type Writer struct {
	store store.Store
	log   *zap.Logger
}

// NewWriter creates a Writer over the given store.
func NewWriter(st store.Store) *Writer {
	return &Writer{store: st, log: zap.L().Named("artifact")}
}

// Result reports what Store did with one page.
type Result struct {
	Artifact *model.Artifact
	Created  bool
}

// Store persists a canonicalized page for (payer, policy). If the content
// hash matches the latest stored artifact, nothing new is written and the
// existing artifact's last-checked marker advances. Otherwise a fresh
// immutable artifact is created.
func (w *Writer) Store(ctx context.Context, payerID, policyID, sourceURL, contentType, content string) (*Result, error) {
	now := time.Now().UTC()
	hash := ComputeHash(content)

	latest, err := w.store.LatestArtifact(ctx, payerID, policyID)
	if err != nil {
		return nil, eris.Wrap(err, "artifact: lookup latest")
	}

	if latest != nil && latest.ContentHash == hash {
		if err := w.store.TouchArtifact(ctx, latest.ArtifactID, now); err != nil {
			return nil, eris.Wrap(err, "artifact: touch unchanged")
		}
		latest.LastCheckedAt = now
		w.log.Debug("content unchanged",
			zap.String("payer_id", payerID),
			zap.String("policy_id", policyID),
			zap.String("artifact_id", latest.ArtifactID))
		return &Result{Artifact: latest, Created: false}, nil
	}

	a := model.Artifact{
		ArtifactID:    ArtifactID(payerID, policyID, now, hash),
		PayerID:       payerID,
		PolicyID:      policyID,
		ContentHash:   hash,
		FetchedAt:     now,
		LastCheckedAt: now,
		ContentType:   contentType,
		SourceURL:     sourceURL,
		Content:       content,
	}
	if err := w.store.InsertArtifact(ctx, a); err != nil {
		return nil, eris.Wrap(err, "artifact: insert")
	}

	w.log.Info("artifact created",
		zap.String("artifact_id", a.ArtifactID),
		zap.String("payer_id", payerID),
		zap.Int("content_bytes", len(content)))
	return &Result{Artifact: &a, Created: true}, nil
}

// Anchor locates a quote inside an artifact's content and appends the
// resulting anchor. An unfindable quote is an error: anchors exist so a
// reviewer can verify the citation against the stored text.
func (w *Writer) Anchor(ctx context.Context, artifactID, quote string) (*model.Anchor, error) {
	a, err := w.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, eris.Wrap(err, "artifact: load for anchor")
	}

	offset := canonical.FindQuote(a.Content, quote)
	if offset < 0 {
		return nil, eris.Errorf("artifact: quote not found in %s", artifactID)
	}

	anchor := model.Anchor{
		Heading: canonical.NearestHeading(a.Content, offset),
		Quote:   quote,
		Offset:  offset,
	}
	if err := w.store.AppendAnchors(ctx, artifactID, []model.Anchor{anchor}); err != nil {
		return nil, eris.Wrap(err, "artifact: append anchor")
	}
	return &anchor, nil
}
