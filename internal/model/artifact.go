package model

import "time"

// Anchor is a precise citation into an artifact body: the nearest heading,
// the quoted passage, and its byte offset in the canonical text.
type Anchor struct {
	Heading string `json:"heading,omitempty"`
	Quote   string `json:"quote"`
	Offset  int    `json:"offset"`
}

// Artifact is an immutable, content-addressed snapshot of canonicalized
// policy text. Once written, only anchors and the last-checked marker change.
type Artifact struct {
	ArtifactID    string    `json:"artifact_id"`
	PayerID       string    `json:"payer_id"`
	PolicyID      string    `json:"policy_id"`
	ContentHash   string    `json:"content_hash"`
	FetchedAt     time.Time `json:"fetched_at"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	ContentType   string    `json:"content_type"`
	SourceURL     string    `json:"source_url"`
	Anchors       []Anchor  `json:"anchors,omitempty"`
	Content       string    `json:"content,omitempty"`
}
