package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

// Metric is one reported number.
type Metric struct {
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
	Dataset string  `json:"dataset,omitempty"`
}

type metricPattern struct {
	name string
	re   *regexp.Regexp
}

// Patterns capture value and, optionally, metric and dataset.
var metricPatterns = []metricPattern{
	{"accuracy", regexp.MustCompile(`(?i)accuracy of (?P<value>\d+\.\d+)%`)},
	{"bleu", regexp.MustCompile(`(?i)BLEU score of (?P<value>\d+\.\d+)`)},
	{"rouge-l", regexp.MustCompile(`(?i)ROUGE-L\s*:\s*(?P<value>\d+\.\d+)`)},
	{"generic", regexp.MustCompile(`(?i)(?P<metric>BLEU(?:-[1-4])?|ROUGE(?:-[LF])?(?:-[1-2])?|METEOR|perplexity|accuracy|precision|recall|F1(?:-score)?|F-?score|loss|WER|CER|MAPE|MAE|MSE|RMSE)` +
		`[\s:=-]*` +
		`(?P<value>\d+(?:\.\d+)?%?)` +
		`(?:\s*(?:on|for|in|using|with)\s*(?P<dataset>[A-Za-z0-9_\-\.]+))?`)},
}

// extractMetrics returns the distinct metrics found in text, in the order
// they were first matched.
func extractMetrics(text string) []Metric {
	seen := make(map[Metric]bool)
	out := []Metric{}
	for _, p := range metricPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			got := Metric{Metric: p.name}
			for i, name := range p.re.SubexpNames() {
				switch name {
				case "metric":
					got.Metric = strings.ToLower(m[i])
				case "dataset":
					got.Dataset = m[i]
				case "value":
					v, err := strconv.ParseFloat(strings.TrimSuffix(m[i], "%"), 64)
					if err != nil {
						got.Metric = ""
					}
					got.Value = v
				}
			}
			if got.Metric == "" || seen[got] {
				continue
			}
			seen[got] = true
			out = append(out, got)
		}
	}
	return out
}

// Metrician pulls metric values out of a text snippet or a whole document.
type Metrician struct {
	id string
}

func NewMetrician(id string) *Metrician { return &Metrician{id: id} }

func (m *Metrician) Capabilities() worker.Capabilities {
	return worker.Capabilities{TaskTypes: []string{task.TypeExtractMetrics}}
}

func (m *Metrician) Handle(ctx context.Context, t *task.Task, emit worker.Emitter) error {
	text, ok := t.PayloadString("text_snippet")
	if !ok {
		path, pathOK := t.PayloadString("pdf_path")
		if !pathOK {
			return fmt.Errorf("%w: %s needs text_snippet or pdf_path", domain.ErrValidation, t.Type)
		}
		var err error
		if text, err = readText(path); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}

	metrics := extractMetrics(text)
	t.Artifacts = []task.Artifact{{Name: "metrics", Parts: []task.Part{task.DataPart(metrics)}}}
	t.Phase = task.PhaseCompleted

	if err := emit.EmitTask(ctx, task.New(task.TypeCompareMethods, map[string]any{"metrics": metrics})); err != nil {
		return fmt.Errorf("emit %s: %w", task.TypeCompareMethods, err)
	}
	slog.Info("metrics extracted", "worker", m.id, "count", len(metrics))
	return nil
}
