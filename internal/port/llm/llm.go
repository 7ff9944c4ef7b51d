// Package llm defines the ports to language-model backed collaborators.
package llm

import (
	"context"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
)

// Score is a reviewer's assessment of one artifact.
type Score struct {
	Quality       float64 `json:"quality_score"`
	Justification string  `json:"justification"`
}

// Scorer rates an artifact produced in duration.
type Scorer interface {
	Score(ctx context.Context, artifact task.Artifact, duration time.Duration) (Score, error)
}

// Completer returns a single chat completion for prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}
