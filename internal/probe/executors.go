package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
	"github.com/veranemoloko/download-orchestrator/internal/events"
	"github.com/veranemoloko/download-orchestrator/internal/scheduler"
)

// ServerDirectory resolves a server id to its base url.
type ServerDirectory interface {
	ServerURL(serverID int) (string, error)
}

// StaticDirectory is a ServerDirectory backed by a fixed map.
type StaticDirectory map[int]string

func (d StaticDirectory) ServerURL(serverID int) (string, error) {
	u, ok := d[serverID]
	if !ok {
		return "", fmt.Errorf("server %d: %w", serverID, errpkg.ErrServerNotFound)
	}
	return u, nil
}

// ServerIDs returns the known server ids.
func (d StaticDirectory) ServerIDs() []int {
	ids := make([]int, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	return ids
}

// AccountServers is the payload of a refresh-account job.
type AccountServers struct {
	AccountID int
	ServerIDs []int
}

// InspectServerExecutor probes the server named by job.ServerID and streams the
// attempts to observers.
type InspectServerExecutor struct {
	prober    *Prober
	servers   ServerDirectory
	publisher events.Publisher
	logger    *slog.Logger
}

func NewInspectServerExecutor(prober *Prober, servers ServerDirectory, publisher events.Publisher, logger *slog.Logger) *InspectServerExecutor {
	return &InspectServerExecutor{prober: prober, servers: servers, publisher: publisher, logger: logger}
}

func (e *InspectServerExecutor) Execute(ctx context.Context, job scheduler.Job) error {
	_, err := inspect(ctx, e.prober, e.servers, e.publisher, e.logger, job.ServerID)
	return err
}

// RefreshAccountExecutor probes every server of an account. The job fails only
// when none of them is reachable.
type RefreshAccountExecutor struct {
	prober    *Prober
	servers   ServerDirectory
	publisher events.Publisher
	logger    *slog.Logger

	mu         sync.Mutex
	accessible map[int][]int
}

func NewRefreshAccountExecutor(prober *Prober, servers ServerDirectory, publisher events.Publisher, logger *slog.Logger) *RefreshAccountExecutor {
	return &RefreshAccountExecutor{
		prober:     prober,
		servers:    servers,
		publisher:  publisher,
		logger:     logger,
		accessible: make(map[int][]int),
	}
}

func (e *RefreshAccountExecutor) Execute(ctx context.Context, job scheduler.Job) error {
	account, ok := job.Payload.(*AccountServers)
	if !ok || account == nil {
		return fmt.Errorf("refresh job for account %d has no server list", job.TaskID)
	}

	var reachable []int
	var errs []error
	for _, serverID := range account.ServerIDs {
		if _, err := inspect(ctx, e.prober, e.servers, e.publisher, e.logger, serverID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		reachable = append(reachable, serverID)
	}

	e.mu.Lock()
	e.accessible[account.AccountID] = reachable
	e.mu.Unlock()

	e.logger.Info("account servers refreshed",
		"account_id", account.AccountID,
		"servers", len(account.ServerIDs),
		"reachable", len(reachable),
	)
	if len(reachable) == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Accessible returns the reachable servers found by the last refresh of accountID.
func (e *RefreshAccountExecutor) Accessible(accountID int) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.accessible[accountID]...)
}

func inspect(ctx context.Context, prober *Prober, servers ServerDirectory, publisher events.Publisher, logger *slog.Logger, serverID int) (*Result, error) {
	target, err := servers.ServerURL(serverID)
	if err != nil {
		return nil, err
	}
	return prober.Probe(ctx, serverID, target, func(p domain.ServerProbeProgress) {
		if err := publisher.Publish(ctx, p); err != nil {
			logger.Warn("failed to publish probe progress", "server_id", serverID, "error", err)
		}
	})
}
