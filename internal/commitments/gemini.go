package commitments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genai"

	"agencyos/internal/domain"
)

// GeminiExtractor upgrades commitment extraction to structured output
// from the Gemini API. Any failure falls back to the heuristics, so
// configuring a key can only add signal, never lose it.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

// NewGeminiExtractor builds the structured-output extractor.
func NewGeminiExtractor(ctx context.Context, apiKey, model string) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiExtractor{client: client, model: model}, nil
}

// geminiCommitment is the schema the model fills in.
type geminiCommitment struct {
	Kind        string `json:"kind"`        // promise | request
	Description string `json:"description"` // one sentence
	DueDate     string `json:"due_date"`    // 2006-01-02 or ""
}

var commitmentSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"kind":        {Type: genai.TypeString, Enum: []string{"promise", "request"}},
			"description": {Type: genai.TypeString},
			"due_date":    {Type: genai.TypeString},
		},
		Required: []string{"kind", "description"},
	},
}

const extractionPrompt = `Extract commitments from this email. A commitment is
either a promise the sender makes ("I'll send the draft by Friday") or a
request the sender asks of the recipient ("can you review this?"). Return a
JSON array; for each commitment give kind (promise or request), description
(the commitment in one sentence), and due_date (ISO date, empty when none is
stated). Return [] when there are none.

Email received %s:
%s`

// Extract asks the model for structured commitments in one body.
func (g *GeminiExtractor) Extract(ctx context.Context, body string, received time.Time) ([]Candidate, error) {
	prompt := fmt.Sprintf(extractionPrompt, received.UTC().Format("2006-01-02"), body)
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   commitmentSchema,
		})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	var items []geminiCommitment
	if err := json.Unmarshal([]byte(resp.Text()), &items); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}

	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		var kind domain.CommitmentKind
		switch item.Kind {
		case "promise":
			kind = domain.CommitmentPromise
		case "request":
			kind = domain.CommitmentRequest
		default:
			continue
		}
		if item.Description == "" {
			continue
		}
		c := Candidate{Kind: kind, Description: item.Description}
		if item.DueDate != "" {
			if t, err := time.Parse("2006-01-02", item.DueDate); err == nil {
				t = t.UTC()
				c.DueDate = &t
			}
		}
		out = append(out, c)
	}
	return out, nil
}
