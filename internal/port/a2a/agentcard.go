package a2a

import (
	"maps"
	"slices"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/agent"
)

// BuildAgentCard lists one skill per task type that at least one live
// agent accepts, sorted by type. Tags are the classes serving it.
func BuildAgentCard(baseURL, version string, live []agent.Record) AgentCard {
	workers := make(map[string]int)
	classes := make(map[string]map[string]bool)
	for i := range live {
		for _, tt := range live[i].TaskTypes {
			workers[tt]++
			if classes[tt] == nil {
				classes[tt] = make(map[string]bool)
			}
			if c := live[i].ClassTag; c != "" {
				classes[tt][c] = true
			}
		}
	}

	card := AgentCard{
		Name:               "SweepJudge",
		Description:        "Karma-scheduled research worker swarm",
		URL:                baseURL,
		Version:            version,
		DefaultInputModes:  []string{"data"},
		DefaultOutputModes: []string{"text", "file", "data"},
		Skills:             []Skill{},
	}
	for _, tt := range slices.Sorted(maps.Keys(workers)) {
		var tags []string
		if len(classes[tt]) > 0 {
			tags = slices.Sorted(maps.Keys(classes[tt]))
		}
		card.Skills = append(card.Skills, Skill{
			ID:          tt,
			Name:        tt,
			Description: "Queue a " + tt + " task",
			Tags:        tags,
			Workers:     workers[tt],
		})
	}
	return card
}
