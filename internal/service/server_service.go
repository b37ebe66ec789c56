package service

import (
	"context"
	"errors"
	"log/slog"

	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
	"github.com/veranemoloko/download-orchestrator/internal/probe"
	"github.com/veranemoloko/download-orchestrator/internal/scheduler"
)

// ServerService schedules connectivity probes against media servers.
type ServerService struct {
	jobs    JobScheduler
	servers probe.ServerDirectory
	logger  *slog.Logger
}

func NewServerService(jobs JobScheduler, servers probe.ServerDirectory, logger *slog.Logger) *ServerService {
	return &ServerService{jobs: jobs, servers: servers, logger: logger}
}

// InspectServer starts an inspection job for serverID. Progress is published as
// ServerProbeProgress events.
func (s *ServerService) InspectServer(ctx context.Context, serverID int) error {
	if serverID <= 0 {
		return errpkg.Validation("server id must be positive", nil)
	}
	if _, err := s.servers.ServerURL(serverID); err != nil {
		if errors.Is(err, errpkg.ErrServerNotFound) {
			return &errpkg.Error{Kind: errpkg.KindNotFound, Message: "could not find server", Err: err}
		}
		return err
	}

	job := scheduler.Job{Kind: scheduler.KindInspect, TaskID: serverID, ServerID: serverID}
	if err := s.jobs.Start(job); err != nil {
		return asJobError(serverID, "cannot start inspection", err)
	}
	s.logger.Info("server inspection started", "server_id", serverID)
	return nil
}

// RefreshAccount starts a job probing every server of an account.
func (s *ServerService) RefreshAccount(ctx context.Context, accountID int, serverIDs []int) error {
	if accountID <= 0 || len(serverIDs) == 0 {
		return errpkg.Validation("account id and at least one server id are required", nil)
	}

	job := scheduler.Job{
		Kind:    scheduler.KindRefreshAccount,
		TaskID:  accountID,
		Payload: &probe.AccountServers{AccountID: accountID, ServerIDs: serverIDs},
	}
	if err := s.jobs.Start(job); err != nil {
		return asJobError(accountID, "cannot start account refresh", err)
	}
	s.logger.Info("account refresh started", "account_id", accountID, "servers", len(serverIDs))
	return nil
}
