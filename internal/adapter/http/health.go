package http

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

// HealthChecks are the probes behind /health. Nil probes are reported as
// "disabled".
type HealthChecks struct {
	Postgres interface {
		Ping(ctx context.Context) error
	}
	NATS interface {
		IsConnected() bool
	}
	Breaker interface {
		State() string
	}
	Cache interface {
		HitRatio() float64
	}
	ScoreL2 interface {
		L2State() string
	}
}

type healthStatus struct {
	Status   string   `json:"status"`
	Postgres string   `json:"postgres"`
	NATS     string   `json:"nats"`
	LiteLLM  string   `json:"litellm_breaker"`
	ScoreL2  string   `json:"score_l2,omitempty"`
	L1Hits   *float64 `json:"l1_hit_ratio,omitempty"`
}

// Health reports degraded (503) when Postgres is unreachable. The rest is
// informational.
func Health(checks HealthChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := healthStatus{Status: "ok", Postgres: "disabled", NATS: "disabled", LiteLLM: "disabled"}
		code := http.StatusOK

		if checks.Postgres != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			err := checks.Postgres.Ping(ctx)
			cancel()
			if err != nil {
				st.Postgres = "down"
				st.Status = "degraded"
				code = http.StatusServiceUnavailable
			} else {
				st.Postgres = "up"
			}
		}
		if checks.NATS != nil {
			st.NATS = "down"
			if checks.NATS.IsConnected() {
				st.NATS = "up"
			}
		}
		if checks.Breaker != nil {
			st.LiteLLM = checks.Breaker.State()
		}
		if checks.ScoreL2 != nil {
			st.ScoreL2 = checks.ScoreL2.L2State()
		}
		if checks.Cache != nil {
			ratio := checks.Cache.HitRatio()
			st.L1Hits = &ratio
		}
		writeJSON(w, code, st)
	}
}
