package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/pkg/anthropic"
)

const (
	defaultModel = "claude-sonnet-4-5-20250929"

	// maxContentChars caps how much canonical text is sent per request.
	// Policy pages rarely exceed this; bulletins that do get truncated
	// from the tail, where boilerplate lives.
	maxContentChars = 60000
)

const systemPrompt = `You are a medical-policy analyst for molecular residual disease (MRD) and ctDNA diagnostic tests. You read payer policy documents and extract coverage assertions as JSON.

For each test in the catalog that the document addresses, emit one assertion:
- "test_id": the catalog id
- "layer": one of "um_criteria", "lbm_guideline", "delegation", "policy_stance", "overlay". Utilization-management criteria documents (medical necessity rules applied at claim time) are "um_criteria". LBM clinical guidelines are "lbm_guideline". General payer position statements or bulletins are "policy_stance". Employer or state mandate carve-outs are "overlay".
- "status": "supports", "denies", "conditional", or "unclear"
- "cancer_types": list of cancer types the assertion is scoped to
- "stage": disease stage qualifier if stated
- "prior_auth": true if prior authorization is required
- "documentation_of": what clinical documentation is required
- "quotes": verbatim quotes from the document supporting the assertion
- "confidence": 0.0-1.0
- "effective_date" / "expiration_date": ISO dates if the document states them

Quotes must be verbatim substrings of the document. If the document says nothing about any catalog test, return {"assertions": []}. Respond with JSON only.`

// ClaudeExtractor implements Extractor against the Anthropic API.
type ClaudeExtractor struct {
	client anthropic.Client
	model  string
	log    *zap.Logger
}

// ClaudeOption configures a ClaudeExtractor.
type ClaudeOption func(*ClaudeExtractor)

// WithModel overrides the default extraction model.
func WithModel(model string) ClaudeOption {
	return func(e *ClaudeExtractor) {
		if model != "" {
			e.model = model
		}
	}
}

// NewClaudeExtractor creates an extractor backed by the given client.
func NewClaudeExtractor(client anthropic.Client, opts ...ClaudeOption) *ClaudeExtractor {
	e := &ClaudeExtractor{
		client: client,
		model:  defaultModel,
		log:    zap.L().Named("extraction"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// rawAssertion mirrors the JSON shape the model returns.
type rawAssertion struct {
	TestID          string   `json:"test_id"`
	Layer           string   `json:"layer"`
	Status          string   `json:"status"`
	CancerTypes     []string `json:"cancer_types"`
	Stage           string   `json:"stage"`
	PriorAuth       bool     `json:"prior_auth"`
	DocumentationOf string   `json:"documentation_of"`
	Quotes          []string `json:"quotes"`
	Confidence      float64  `json:"confidence"`
	EffectiveDate   string   `json:"effective_date"`
	ExpirationDate  string   `json:"expiration_date"`
}

type rawResponse struct {
	Assertions []rawAssertion `json:"assertions"`
}

// Extract sends one artifact's text to the model and parses the assertions.
func (e *ClaudeExtractor) Extract(ctx context.Context, req Request) (*Result, error) {
	content := req.Content
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	temp := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   4096,
		Temperature: &temp,
		System: []anthropic.SystemBlock{
			{Text: systemPrompt, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
		},
		Messages: []anthropic.Message{
			{Role: "user", Content: buildUserPrompt(req.PayerID, req.TestCatalog, content)},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: artifact %s", req.ArtifactID)
	}
	resp.Usage.LogCost(e.model, "extraction")

	var raw rawResponse
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &raw); err != nil {
		return nil, eris.Wrapf(err, "extraction: parse response for artifact %s", req.ArtifactID)
	}

	return e.toResult(req, raw), nil
}

func (e *ClaudeExtractor) toResult(req Request, raw rawResponse) *Result {
	catalog := make(map[string]bool, len(req.TestCatalog))
	for _, id := range req.TestCatalog {
		catalog[id] = true
	}

	res := &Result{}
	for _, ra := range raw.Assertions {
		if !catalog[ra.TestID] {
			e.log.Warn("assertion for unknown test dropped",
				zap.String("test_id", ra.TestID),
				zap.String("artifact_id", req.ArtifactID))
			continue
		}

		a := model.CoverageAssertion{
			PayerID:          req.PayerID,
			TestID:           ra.TestID,
			Layer:            parseLayer(ra.Layer),
			Status:           parseStatus(ra.Status),
			SourceDocumentID: req.ArtifactID,
			Confidence:       clampConfidence(ra.Confidence),
			Quotes:           ra.Quotes,
			Criteria: model.Criteria{
				CancerTypes:     ra.CancerTypes,
				Stage:           ra.Stage,
				PriorAuth:       ra.PriorAuth,
				DocumentationOf: ra.DocumentationOf,
			},
			EffectiveDate:  parseDate(ra.EffectiveDate),
			ExpirationDate: parseDate(ra.ExpirationDate),
		}
		res.Assertions = append(res.Assertions, a)
		res.RawQuotes = append(res.RawQuotes, ra.Quotes...)
	}
	return res
}

func buildUserPrompt(payerID string, catalog []string, content string) string {
	return fmt.Sprintf("Payer: %s\nTest catalog: %s\n\nDocument:\n%s",
		payerID, strings.Join(catalog, ", "), content)
}

func parseLayer(s string) model.Layer {
	switch model.Layer(s) {
	case model.LayerUMCriteria, model.LayerLBMGuideline, model.LayerDelegation,
		model.LayerPolicyStance, model.LayerOverlay:
		return model.Layer(s)
	default:
		return model.LayerPolicyStance
	}
}

func parseStatus(s string) model.AssertionStatus {
	switch model.AssertionStatus(s) {
	case model.StatusSupports, model.StatusDenies, model.StatusConditional:
		return model.AssertionStatus(s)
	default:
		return model.StatusUnclear
	}
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// extractText concatenates all text content blocks from a message response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
