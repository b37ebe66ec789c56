package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
	"github.com/veranemoloko/download-orchestrator/internal/metrics"
)

// State is the position of a probe in its lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateAttempting State = "attempting"
	StateRetrying   State = "retrying"
	StateSuccess    State = "success"
	StateExhausted  State = "exhausted"
)

// Pinger performs one connectivity attempt and returns the observed status code.
type Pinger interface {
	Ping(ctx context.Context, target string) (int, error)
}

// ProgressFunc receives a record after every attempt.
type ProgressFunc func(domain.ServerProbeProgress)

// Config is the retry policy of a probe.
type Config struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Result is the outcome of a finished probe.
type Result struct {
	ServerID   int
	State      State
	Attempts   int
	StatusCode int
}

// Prober runs bounded-retry connectivity checks.
type Prober struct {
	cfg    Config
	pinger Pinger
	logger *slog.Logger
}

func NewProber(cfg Config, pinger Pinger, logger *slog.Logger) *Prober {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Prober{cfg: cfg, pinger: pinger, logger: logger}
}

// Backoff returns the delay after the given 1-based attempt: BaseDelay doubled
// per earlier attempt, capped at MaxDelay. It mirrors retry.BackOffDelay.
func (p *Prober) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	d := p.cfg.BaseDelay << shift
	if p.cfg.MaxDelay > 0 && d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return d
}

// Probe checks target until it answers with a 2xx status or the attempt budget
// is spent. An exhausted budget is returned as a ProbeExhausted error together
// with the result.
func (p *Prober) Probe(ctx context.Context, serverID int, target string, progress ProgressFunc) (*Result, error) {
	result := &Result{ServerID: serverID, State: StatePending}
	attempts := p.cfg.Attempts

	err := retry.Do(
		func() error {
			result.Attempts++
			result.State = StateAttempting

			code, err := p.pinger.Ping(ctx, target)
			result.StatusCode = code
			ok := err == nil && code >= 200 && code < 300
			if err == nil && !ok {
				err = fmt.Errorf("unexpected status code %d", code)
			}
			last := result.Attempts >= attempts

			record := domain.ServerProbeProgress{
				ServerID:             serverID,
				RetryAttemptIndex:    result.Attempts,
				RetryAttemptCount:    attempts,
				StatusCode:           code,
				ConnectionSuccessful: ok,
				Completed:            ok || last,
			}
			switch {
			case ok:
				result.State = StateSuccess
				record.Message = "connection successful"
				metrics.ProbeAttempts.WithLabelValues("success").Inc()
			case last:
				result.State = StateExhausted
				record.Message = err.Error()
				metrics.ProbeAttempts.WithLabelValues("failed").Inc()
			default:
				result.State = StateRetrying
				record.TimeToNextRetry = p.Backoff(result.Attempts)
				record.Message = err.Error()
				metrics.ProbeAttempts.WithLabelValues("failed").Inc()
			}
			if progress != nil {
				progress(record)
			}

			p.logger.Debug("probe attempt",
				"server_id", serverID,
				"attempt", result.Attempts,
				"attempts", attempts,
				"status_code", code,
				"success", ok,
			)
			return err
		},
		retry.Attempts(uint(attempts)),
		retry.Delay(p.cfg.BaseDelay),
		retry.MaxDelay(p.cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err == nil {
		p.logger.Info("server reachable", "server_id", serverID, "attempts", result.Attempts)
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	result.State = StateExhausted
	p.logger.Warn("server unreachable", "server_id", serverID, "attempts", result.Attempts, "error", err)
	return result, errpkg.ProbeExhausted(serverID, result.Attempts, err)
}
