package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/llm"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

const summaryPrompt = "You are an expert ML researcher. Summarise the following paper section in 5\n" +
	"bullet points capturing the main contributions, methods, and findings.\n"

const (
	summaryChunkRunes = 12000
	excerptRunes      = 1500
)

// Reader summarises a document, chunk by chunk through the LLM when one
// is available.
type Reader struct {
	id        string
	completer llm.Completer
	maxChunks int
}

// NewReader builds a reader. Config key max_chunks caps LLM calls per paper.
func NewReader(id string, cfg map[string]any, completer llm.Completer) *Reader {
	return &Reader{id: id, completer: completer, maxChunks: configInt(cfg, "max_chunks", 8)}
}

func (r *Reader) Capabilities() worker.Capabilities {
	return worker.Capabilities{TaskTypes: []string{task.TypeSummarisePaper}}
}

func (r *Reader) Handle(ctx context.Context, t *task.Task, emit worker.Emitter) error {
	path, err := t.RequireString("pdf_path")
	if err != nil {
		return err
	}
	text, err := readText(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	summary := r.summarise(ctx, text)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	t.Artifacts = []task.Artifact{{Name: "summary", Parts: []task.Part{task.TextPart(summary)}}}
	t.Phase = task.PhaseCompleted

	if err := emit.EmitTask(ctx, task.New(task.TypeExtractMetrics, map[string]any{"pdf_path": path})); err != nil {
		return fmt.Errorf("emit %s: %w", task.TypeExtractMetrics, err)
	}
	slog.Info("paper summarised", "worker", r.id, "path", path, "chars", len(summary))
	return nil
}

// summarise falls back to a leading excerpt when no completer is set or
// every chunk fails.
func (r *Reader) summarise(ctx context.Context, text string) string {
	if r.completer == nil {
		return excerpt(text, excerptRunes)
	}
	chunks := chunk(text, summaryChunkRunes)
	if r.maxChunks > 0 && len(chunks) > r.maxChunks {
		chunks = chunks[:r.maxChunks]
	}

	var parts []string
	for i, c := range chunks {
		out, err := r.completer.Complete(ctx, summaryPrompt, c)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("summary chunk failed", "worker", r.id, "chunk", i, "error", err)
			continue
		}
		parts = append(parts, strings.TrimSpace(out))
	}
	if len(parts) == 0 {
		return excerpt(text, excerptRunes)
	}
	return strings.Join(parts, "\n")
}
