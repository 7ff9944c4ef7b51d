package pipeline

import (
	"github.com/MFaiqKhan/sweepjudge/internal/adapter/litellm"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
	"github.com/MFaiqKhan/sweepjudge/internal/port/llm"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
	"github.com/MFaiqKhan/sweepjudge/internal/service"
)

// Class tags of the built-in workers.
const (
	ClassFetcher     = "fetcher"
	ClassReader      = "reader"
	ClassPrefilter   = "prefilter"
	ClassMetrician   = "metrician"
	ClassAnalyst     = "analyst"
	ClassDebater     = "debater"
	ClassSynthesiser = "synthesiser"
	ClassReviewer    = "reviewer"
)

// RegisterDefaults adds every built-in worker class to reg.
func RegisterDefaults(reg *worker.Registry, deps Deps) {
	sessions := deps.Sessions
	if sessions == nil && deps.Queue != nil {
		sessions = deps.Queue
	}
	if deps.Downloads == nil {
		deps.Downloads = NewLimiter(deps.Worker.MaxParallelFetches)
	}

	reg.MustRegister(ClassFetcher, func(id string, cfg map[string]any) (worker.Handler, error) {
		return NewFetcher(id, cfg, deps), nil
	})
	reg.MustRegister(ClassReader, func(id string, cfg map[string]any) (worker.Handler, error) {
		return NewReader(id, cfg, deps.completer()), nil
	})
	reg.MustRegister(ClassPrefilter, func(id string, cfg map[string]any) (worker.Handler, error) {
		return NewPrefilter(id, cfg), nil
	})
	reg.MustRegister(ClassMetrician, func(id string, _ map[string]any) (worker.Handler, error) {
		return NewMetrician(id), nil
	})
	reg.MustRegister(ClassAnalyst, func(id string, cfg map[string]any) (worker.Handler, error) {
		return NewAnalyst(id, cfg), nil
	})
	reg.MustRegister(ClassDebater, func(id string, cfg map[string]any) (worker.Handler, error) {
		return NewDebater(id, cfg, deps.completer())
	})
	reg.MustRegister(ClassSynthesiser, func(id string, _ map[string]any) (worker.Handler, error) {
		return NewSynthesiser(id, sessions), nil
	})
	reg.MustRegister(ClassReviewer, func(_ string, cfg map[string]any) (worker.Handler, error) {
		return newReviewer(cfg, deps)
	})
}

// newReviewer applies the per-worker base_reward and
// evaluation_prompt_template overrides.
func newReviewer(cfg map[string]any, deps Deps) (worker.Handler, error) {
	rc := deps.Reviewer
	reward, err := configFloat(cfg, "base_reward", float64(rc.BaseReward))
	if err != nil {
		return nil, err
	}
	policy := karma.ReviewPolicy{
		BaseReward:  int(reward),
		MaxQuality:  rc.MaxQuality,
		SlowAfter:   rc.SlowAfter,
		SlowPenalty: rc.SlowPenalty,
	}

	var scorer llm.Scorer = service.StaticScorer{Quality: rc.StaticQuality}
	if deps.LLM != nil {
		scorer = litellm.NewScorer(deps.LLM, configString(cfg, "evaluation_prompt_template", ""))
	}
	return service.NewReviewer(scorer, policy, rc.InvalidReviewPenalty, deps.Queue), nil
}
