// Package karma defines reputation events and the review reward formula.
package karma

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
)

// Reasons recorded by the core itself. Handlers may use any other string.
const (
	ReasonUnhandledException = "unhandled_exception"
	ReasonValidationError    = "validation_error"
	ReasonInvalidReview      = "invalid_review_request"
)

// maxReasonLen matches the karma_events.reason column width in characters.
const maxReasonLen = 255

// Event is one append-only reputation change.
type Event struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	TaskID    string    `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields and truncates an over-long reason.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.AgentID) == "" {
		return fmt.Errorf("%w: karma event needs an agent id", domain.ErrValidation)
	}
	e.Reason = Clip(e.Reason, maxReasonLen)
	return nil
}

// Clip shortens s to at most n runes. It never splits a multi-byte rune,
// and invalid UTF-8 in the kept prefix is replaced so Postgres accepts it.
func Clip(s string, n int) string {
	if utf8.RuneCountInString(s) > n {
		i := 0
		for pos := range s {
			if i == n {
				s = s[:pos]
				break
			}
			i++
		}
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// Standing is an agent's aggregate score.
type Standing struct {
	AgentID string `json:"agent_id"`
	Score   int    `json:"score"`
}

// ReviewPolicy turns a reviewer's quality score into a karma delta.
type ReviewPolicy struct {
	BaseReward  int
	MaxQuality  float64
	SlowAfter   time.Duration
	SlowPenalty int
}

// ClampQuality bounds q to [0, MaxQuality]. NaN maps to 0.
func (p ReviewPolicy) ClampQuality(q float64) float64 {
	if math.IsNaN(q) || q < 0 {
		return 0
	}
	if p.MaxQuality > 0 && q > p.MaxQuality {
		return p.MaxQuality
	}
	return q
}

// Delta computes round(base_reward * quality), plus the slowness penalty
// when the reviewed task took longer than SlowAfter.
func (p ReviewPolicy) Delta(quality float64, duration time.Duration) int {
	delta := int(math.Round(float64(p.BaseReward) * p.ClampQuality(quality)))
	if p.SlowAfter > 0 && duration > p.SlowAfter {
		delta += p.SlowPenalty
	}
	return delta
}
