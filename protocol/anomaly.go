package protocol

import (
	"context"
	"log/slog"
	"time"
)

// AnomalyScore is an externally computed risk value for an identity's
// recent activity window. Read-only to the engine.
type AnomalyScore struct {
	IdentityID string        `json:"identity_id"`
	Window     time.Duration `json:"window,string"`
	Score      float64       `json:"score"`
}

// ScoreSource is the federated-learning subsystem's interface: it answers
// with a score in [0,1] and may be slow or unreachable.
type ScoreSource interface {
	AnomalyScore(ctx context.Context, identityID string, window time.Duration) (float64, error)
}

// GateDecision is the anomaly gate's verdict.
type GateDecision struct {
	Allow bool
	// Score is the observed score, or -1 when the source timed out.
	Score float64
	// TimedOut reports that the fail-open/closed policy decided, not the
	// score itself.
	TimedOut bool
}

// AnomalyGate consults the external scorer late in the authentication
// flow and enforces the admission threshold. The wait is bounded; a
// silent scorer resolves by policy (default fail-closed).
type AnomalyGate struct {
	config *Config
	source ScoreSource
	log    *slog.Logger
}

// NewAnomalyGate creates a gate over a score source.
func NewAnomalyGate(config *Config, source ScoreSource, log *slog.Logger) *AnomalyGate {
	return &AnomalyGate{config: config, source: source, log: log}
}

// Check fetches the identity's current anomaly score and applies the
// threshold. On timeout the configured policy decides and the condition
// is reported as ErrAnomalyServiceTimeout alongside the decision.
func (g *AnomalyGate) Check(ctx context.Context, identityID string) (GateDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.AnomalyTimeout)
	defer cancel()

	type result struct {
		score float64
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		score, err := g.source.AnomalyScore(ctx, identityID, g.config.AnomalyWindow)
		ch <- result{score, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			g.log.Warn("anomaly source failed, applying policy",
				"identity", identityID, "fail_open", g.config.AnomalyFailOpen)
			return GateDecision{Allow: g.config.AnomalyFailOpen, Score: -1, TimedOut: true}, ErrAnomalyServiceTimeout
		}
		return GateDecision{Allow: r.score <= g.config.AnomalyThreshold, Score: r.score}, nil
	case <-ctx.Done():
		// The outstanding call is abandoned, not awaited.
		g.log.Warn("anomaly source timed out, applying policy",
			"identity", identityID, "fail_open", g.config.AnomalyFailOpen)
		return GateDecision{Allow: g.config.AnomalyFailOpen, Score: -1, TimedOut: true}, ErrAnomalyServiceTimeout
	}
}
