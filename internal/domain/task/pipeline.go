package task

import (
	"encoding/json"
	"fmt"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
)

// Canonical pipeline task types.
const (
	TypeFetchPaper       = "Fetch_Paper"
	TypeSummarisePaper   = "Summarise_Paper"
	TypeFilterPages      = "Filter_Pages"
	TypeExtractMetrics   = "Extract_Metrics"
	TypeCompareMethods   = "Compare_Methods"
	TypeCritiqueClaim    = "Critique_Claim"
	TypeSynthesiseReport = "Synthesise_Report"
	TypeReviewArtifact   = "Review_Artifact"
)

// ReviewPayload is the payload of a Review_Artifact task.
type ReviewPayload struct {
	OriginalTaskID  string   `json:"original_task_id"`
	OriginalAgentID string   `json:"original_agent_id"`
	Artifact        Artifact `json:"artifact"`
	Duration        float64  `json:"duration"` // seconds
}

// Map converts the payload into the generic task payload form.
func (p *ReviewPayload) Map() map[string]any {
	m := map[string]any{
		"original_task_id":  p.OriginalTaskID,
		"original_agent_id": p.OriginalAgentID,
		"duration":          p.Duration,
	}
	if p.Artifact.Name != "" {
		m["artifact"] = p.Artifact
	}
	return m
}

// ParseReviewPayload decodes a Review_Artifact payload. Missing ids or a
// missing artifact yield ErrValidation.
func ParseReviewPayload(payload map[string]any) (ReviewPayload, error) {
	var p ReviewPayload
	raw, err := json.Marshal(payload)
	if err != nil {
		return p, fmt.Errorf("marshal review payload: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: review payload: %v", domain.ErrValidation, err)
	}
	if p.OriginalTaskID == "" || p.OriginalAgentID == "" || p.Artifact.Name == "" {
		return p, fmt.Errorf("%w: review payload needs original_task_id, original_agent_id and artifact", domain.ErrValidation)
	}
	return p, nil
}
