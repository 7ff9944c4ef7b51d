package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

var defaultKeywords = []string{"bleu", "rouge", "accuracy", "f1", "perplexity", "results", "table", "evaluation"}

var numberRe = regexp.MustCompile(`\b\d+(?:\.\d+)?%?`)

// Prefilter keeps the pages most likely to report results so the
// metrician reads a fraction of the paper.
type Prefilter struct {
	id       string
	keywords []string
	maxPages int
}

// NewPrefilter builds a prefilter. Config keys: filter_keywords, max_pages.
func NewPrefilter(id string, cfg map[string]any) *Prefilter {
	return &Prefilter{
		id:       id,
		keywords: configStrings(cfg, "filter_keywords", defaultKeywords),
		maxPages: configInt(cfg, "max_pages", 8),
	}
}

func (p *Prefilter) Capabilities() worker.Capabilities {
	return worker.Capabilities{TaskTypes: []string{task.TypeFilterPages}}
}

func (p *Prefilter) Handle(ctx context.Context, t *task.Task, emit worker.Emitter) error {
	path, err := t.RequireString("pdf_path")
	if err != nil {
		return err
	}
	pages, err := readPages(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	kept := p.filter(pages)
	snippet := strings.Join(kept, "\n")

	next := map[string]any{"text_snippet": snippet}
	if strings.TrimSpace(snippet) == "" {
		slog.Warn("prefilter kept no text, passing the document through", "worker", p.id, "path", path)
		next = map[string]any{"pdf_path": path}
	}

	t.Artifacts = []task.Artifact{{Name: "filtered_pages", Parts: []task.Part{task.TextPart(snippet)}}}
	t.Phase = task.PhaseCompleted

	if err := emit.EmitTask(ctx, task.New(task.TypeExtractMetrics, next)); err != nil {
		return fmt.Errorf("emit %s: %w", task.TypeExtractMetrics, err)
	}
	slog.Info("pages filtered", "worker", p.id, "pages", len(pages), "kept", len(kept), "chars", len(snippet))
	return nil
}

// filter returns the maxPages best scoring pages in document order.
func (p *Prefilter) filter(pages []string) []string {
	scores := make([]float64, len(pages))
	for i, text := range pages {
		scores[i] = p.score(text)
	}

	idx := make([]int, len(pages))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})
	if p.maxPages > 0 && len(idx) > p.maxPages {
		idx = idx[:p.maxPages]
	}
	slices.Sort(idx)

	kept := make([]string, 0, len(idx))
	for _, i := range idx {
		kept = append(kept, pages[i])
	}
	return kept
}

// score counts keyword hits plus half a point per number.
func (p *Prefilter) score(text string) float64 {
	lower := strings.ToLower(text)
	var s float64
	for _, kw := range p.keywords {
		s += float64(strings.Count(lower, kw))
	}
	return s + 0.5*float64(len(numberRe.FindAllString(text, -1)))
}
