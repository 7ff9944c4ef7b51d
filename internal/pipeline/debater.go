package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/llm"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

const (
	optimistPrompt = "You are an enthusiastic but rigorous peer reviewer. Provide arguments that SUPPORT the claim."
	skepticPrompt  = "You are a critical peer reviewer. Provide arguments that CHALLENGE the claim."
)

// Debate strategies.
const (
	StrategyBalanced     = "balanced"
	StrategyOptimistOnly = "optimist_only"
	StrategySkepticOnly  = "skeptic_only"
)

var digitRe = regexp.MustCompile(`\d`)

// Critique is the debater's output.
type Critique struct {
	Claim string   `json:"claim"`
	Pros  []string `json:"pros"`
	Cons  []string `json:"cons"`
}

// Debater argues for and against a claim.
type Debater struct {
	id        string
	strategy  string
	completer llm.Completer
}

// NewDebater builds a debater. Config key debate_strategy is one of
// balanced, optimist_only or skeptic_only.
func NewDebater(id string, cfg map[string]any, completer llm.Completer) (*Debater, error) {
	strategy := configString(cfg, "debate_strategy", StrategyBalanced)
	switch strategy {
	case StrategyBalanced, StrategyOptimistOnly, StrategySkepticOnly:
	default:
		return nil, fmt.Errorf("unknown debate_strategy %q", strategy)
	}
	return &Debater{id: id, strategy: strategy, completer: completer}, nil
}

func (d *Debater) Capabilities() worker.Capabilities {
	return worker.Capabilities{TaskTypes: []string{task.TypeCritiqueClaim}}
}

func (d *Debater) Handle(ctx context.Context, t *task.Task, emit worker.Emitter) error {
	claim, err := t.RequireString("claim")
	if err != nil {
		return err
	}

	critique, err := d.critique(ctx, claim)
	if err != nil {
		return err
	}
	t.Artifacts = []task.Artifact{{Name: "critique", Parts: []task.Part{task.DataPart(critique)}}}
	t.Phase = task.PhaseCompleted

	next := task.New(task.TypeSynthesiseReport, nil)
	if t.SessionID != "" {
		next.SessionID = t.SessionID
		next.DedupKey = task.DedupKey(t.SessionID, task.TypeSynthesiseReport)
	}
	if err := emit.EmitTask(ctx, next); err != nil {
		return fmt.Errorf("emit %s: %w", task.TypeSynthesiseReport, err)
	}
	slog.Info("claim critiqued", "worker", d.id, "strategy", d.strategy,
		"pros", len(critique.Pros), "cons", len(critique.Cons))
	return nil
}

func (d *Debater) critique(ctx context.Context, claim string) (Critique, error) {
	c := Critique{Claim: claim, Pros: []string{}, Cons: []string{}}
	wantPro := d.strategy != StrategySkepticOnly
	wantCon := d.strategy != StrategyOptimistOnly

	if d.completer == nil {
		pros, cons := heuristicCritique(claim)
		if wantPro {
			c.Pros = pros
		}
		if wantCon {
			c.Cons = cons
		}
		return c, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if wantPro {
		g.Go(func() (err error) {
			c.Pros, err = d.argue(gctx, optimistPrompt, claim)
			return err
		})
	}
	if wantCon {
		g.Go(func() (err error) {
			c.Cons, err = d.argue(gctx, skepticPrompt, claim)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Critique{}, fmt.Errorf("critique: %w", err)
	}
	return c, nil
}

func (d *Debater) argue(ctx context.Context, system, claim string) ([]string, error) {
	out, err := d.completer.Complete(ctx, system, "Claim: "+claim+"\nGive bullet points.")
	if err != nil {
		return nil, err
	}
	return bullets(out), nil
}

func bullets(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-•* ")); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func heuristicCritique(claim string) (pros, cons []string) {
	if digitRe.MatchString(claim) {
		pros = append(pros, "The claim is stated with concrete numbers that can be checked.")
	} else {
		cons = append(cons, "The claim gives no quantitative evidence.")
	}
	pros = append(pros, "The claim is tied to the extracted comparison table.")
	cons = append(cons,
		"Results may not transfer beyond the reported datasets.",
		"No variance or ablation is reported alongside the numbers.")
	return pros, cons
}
