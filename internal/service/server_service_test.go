package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
	"github.com/veranemoloko/download-orchestrator/internal/probe"
	"github.com/veranemoloko/download-orchestrator/internal/scheduler"
)

func TestServerService_InspectServer(t *testing.T) {
	jobs := newFakeJobs()
	s := NewServerService(jobs, probe.StaticDirectory{3: "http://plex.local:32400"}, newTestLogger())
	ctx := context.Background()

	require.NoError(t, s.InspectServer(ctx, 3))
	started := jobs.startsOf(scheduler.KindInspect)
	require.Len(t, started, 1)
	require.Equal(t, 3, started[0].ServerID)

	err := s.InspectServer(ctx, 3)
	require.True(t, errpkg.Is(err, errpkg.KindJobScheduling))

	err = s.InspectServer(ctx, 9)
	require.True(t, errpkg.Is(err, errpkg.KindNotFound))

	err = s.InspectServer(ctx, 0)
	require.True(t, errpkg.Is(err, errpkg.KindValidation))
	require.Len(t, jobs.startsOf(scheduler.KindInspect), 1)
}

func TestServerService_RefreshAccount(t *testing.T) {
	jobs := newFakeJobs()
	s := NewServerService(jobs, probe.StaticDirectory{3: "http://a", 4: "http://b"}, newTestLogger())
	ctx := context.Background()

	require.NoError(t, s.RefreshAccount(ctx, 11, []int{3, 4}))
	started := jobs.startsOf(scheduler.KindRefreshAccount)
	require.Len(t, started, 1)
	payload, ok := started[0].Payload.(*probe.AccountServers)
	require.True(t, ok)
	require.Equal(t, []int{3, 4}, payload.ServerIDs)

	err := s.RefreshAccount(ctx, 12, nil)
	require.True(t, errpkg.Is(err, errpkg.KindValidation))
}
