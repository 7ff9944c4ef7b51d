package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/llm"
)

// DefaultReviewPrompt is the review template. {artifact_json} and
// {duration} are substituted before sending.
const DefaultReviewPrompt = `You are a meticulous and fair reviewer in a multi-agent system. Evaluate the output of another agent.
Be objective. Base your review solely on the provided artifact.

Artifact to review:
` + "```json\n{artifact_json}\n```" + `

1. Rate its quality on a scale of 0.0 to 1.5.
   0.0: completely incorrect or empty.
   0.5: poor quality, major errors.
   1.0: acceptable, meets the basic requirements.
   1.2: high quality, clear and correct.
   1.5: exceptional, exceeds expectations.
2. Briefly justify the score.
3. The task took {duration} seconds. Penalize excessive slowness lightly.

Answer with JSON only: {"quality_score": <float>, "justification": "<string>"}`

// Scorer asks the proxy to grade artifacts.
type Scorer struct {
	client   *Client
	template string
}

var _ llm.Scorer = (*Scorer)(nil)

// NewScorer returns a scorer using template, or DefaultReviewPrompt when empty.
func NewScorer(client *Client, template string) *Scorer {
	if template == "" {
		template = DefaultReviewPrompt
	}
	return &Scorer{client: client, template: template}
}

// Score implements llm.Scorer.
func (s *Scorer) Score(ctx context.Context, artifact task.Artifact, duration time.Duration) (llm.Score, error) {
	raw, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return llm.Score{}, fmt.Errorf("marshal artifact: %w", err)
	}
	prompt := strings.NewReplacer(
		"{artifact_json}", string(raw),
		"{duration}", fmt.Sprintf("%.2f", duration.Seconds()),
	).Replace(s.template)

	content, err := s.client.Chat(ctx, ChatRequest{
		Messages:       []ChatMessage{{Role: "user", Content: prompt}},
		Temperature:    0.2,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return llm.Score{}, err
	}
	return parseScore(content)
}

// parseScore decodes the model's JSON answer, tolerating a fenced block.
func parseScore(content string) (llm.Score, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "{"); i >= 0 {
		if j := strings.LastIndex(content, "}"); j > i {
			content = content[i : j+1]
		}
	}
	var sc llm.Score
	if err := json.Unmarshal([]byte(content), &sc); err != nil {
		return llm.Score{}, fmt.Errorf("parse review answer: %w", err)
	}
	return sc, nil
}
