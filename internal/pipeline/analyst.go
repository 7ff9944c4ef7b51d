package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

const defaultClaim = "See comparison table"

// Analyst renders metric lists from one or more papers as a markdown table.
type Analyst struct {
	id    string
	focus []string
}

// NewAnalyst builds an analyst. Config key focus_metrics keeps only the
// named metrics.
func NewAnalyst(id string, cfg map[string]any) *Analyst {
	return &Analyst{id: id, focus: configStrings(cfg, "focus_metrics", nil)}
}

func (a *Analyst) Capabilities() worker.Capabilities {
	return worker.Capabilities{TaskTypes: []string{task.TypeCompareMethods}}
}

func (a *Analyst) Handle(ctx context.Context, t *task.Task, emit worker.Emitter) error {
	raw, ok := t.Payload["metrics"]
	if !ok || raw == nil {
		return fmt.Errorf("%w: %s: payload field %q is required", domain.ErrValidation, t.Type, "metrics")
	}
	papers, err := decodeMetrics(raw)
	if err != nil {
		return err
	}
	if len(a.focus) > 0 {
		for i, ms := range papers {
			papers[i] = slices.DeleteFunc(ms, func(m Metric) bool {
				return !slices.Contains(a.focus, strings.ToLower(m.Metric))
			})
		}
	}

	table := metricsTable(papers)
	t.Artifacts = []task.Artifact{{Name: "comparison", Parts: []task.Part{task.TextPart(table)}}}
	t.Phase = task.PhaseCompleted

	if err := emit.EmitTask(ctx, task.New(task.TypeCritiqueClaim, map[string]any{"claim": defaultClaim})); err != nil {
		return fmt.Errorf("emit %s: %w", task.TypeCritiqueClaim, err)
	}
	slog.Info("comparison table built", "worker", a.id, "papers", len(papers))
	return nil
}

// decodeMetrics accepts one paper's metric list or a list of them.
func decodeMetrics(raw any) ([][]Metric, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics: %w", err)
	}
	var one []Metric
	if err := json.Unmarshal(data, &one); err == nil {
		return [][]Metric{one}, nil
	}
	var many [][]Metric
	if err := json.Unmarshal(data, &many); err != nil {
		return nil, fmt.Errorf("%w: metrics must be a list of metrics or a list of lists", domain.ErrValidation)
	}
	return many, nil
}

func metricsTable(papers [][]Metric) string {
	var rows []string
	for i, ms := range papers {
		for _, m := range ms {
			dataset := m.Dataset
			if dataset == "" {
				dataset = "-"
			}
			rows = append(rows, fmt.Sprintf("| P%d | %s | %s | %s |",
				i+1, m.Metric, strconv.FormatFloat(m.Value, 'f', -1, 64), dataset))
		}
	}
	if len(rows) == 0 {
		return "No comparable metrics found."
	}
	return "| Paper | Metric | Value | Dataset |\n|---|---|---|---|\n" + strings.Join(rows, "\n")
}
