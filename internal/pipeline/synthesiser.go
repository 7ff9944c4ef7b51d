package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

// reportOrder lists the sections of a report. Task types not listed are
// left out.
var reportOrder = []struct{ taskType, title string }{
	{task.TypeFetchPaper, "Sources"},
	{task.TypeSummarisePaper, "Summary"},
	{task.TypeFilterPages, "Relevant pages"},
	{task.TypeExtractMetrics, "Metrics"},
	{task.TypeCompareMethods, "Comparison"},
	{task.TypeCritiqueClaim, "Critique"},
}

const maxSectionRunes = 4000

// Synthesiser assembles the final markdown report of a session.
type Synthesiser struct {
	id       string
	sessions SessionReader
	now      func() time.Time
}

func NewSynthesiser(id string, sessions SessionReader) *Synthesiser {
	return &Synthesiser{id: id, sessions: sessions, now: time.Now}
}

func (s *Synthesiser) Capabilities() worker.Capabilities {
	return worker.Capabilities{TaskTypes: []string{task.TypeSynthesiseReport}}
}

func (s *Synthesiser) Handle(ctx context.Context, t *task.Task, _ worker.Emitter) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report\n\nGenerated: %s\n", s.now().UTC().Format(time.RFC3339))

	sections := 0
	if t.SessionID != "" && s.sessions != nil {
		fmt.Fprintf(&b, "Session: %s\n", t.SessionID)
		tasks, err := s.sessions.List(ctx, task.ListFilter{SessionID: t.SessionID, Status: task.StatusCompleted})
		if err != nil {
			return fmt.Errorf("list session tasks: %w", err)
		}
		sections = writeSections(&b, tasks)
	}
	if sections == 0 {
		b.WriteString("\nNo completed artifacts were found for this session.\n")
	}

	t.Artifacts = []task.Artifact{{Name: "report", Parts: []task.Part{task.TextPart(b.String())}}}
	t.Phase = task.PhaseCompleted
	slog.Info("report synthesised", "worker", s.id, "session", t.SessionID, "sections", sections)
	return nil
}

func writeSections(b *strings.Builder, tasks []task.Task) int {
	written := 0
	for _, sec := range reportOrder {
		var body []string
		for i := range tasks {
			if tasks[i].Type != sec.taskType {
				continue
			}
			for _, a := range tasks[i].Artifacts {
				if text := renderArtifact(a); text != "" {
					body = append(body, text)
				}
			}
		}
		if len(body) == 0 {
			continue
		}
		fmt.Fprintf(b, "\n## %s\n\n%s\n", sec.title, strings.Join(body, "\n\n"))
		written++
	}
	return written
}

func renderArtifact(a task.Artifact) string {
	var parts []string
	for _, p := range a.Parts {
		switch p.Kind {
		case task.PartText:
			if p.Text != "" {
				parts = append(parts, excerpt(p.Text, maxSectionRunes))
			}
		case task.PartFile:
			if p.File != nil && p.File.URI != "" {
				parts = append(parts, "- "+p.File.URI)
			}
		case task.PartData:
			raw, err := json.MarshalIndent(p.Data, "", "  ")
			if err == nil {
				parts = append(parts, "```json\n"+excerpt(string(raw), maxSectionRunes)+"\n```")
			}
		}
	}
	return strings.Join(parts, "\n")
}
