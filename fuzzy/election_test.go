// Package fuzzy holds property-style tests that exercise the engine
// across several independently driven conversation threads, the way
// the teacher's fuzzy package drives a cluster through a sequence of
// commands and checks every replica lands on the same state.
package fuzzy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openthread/engine/pkg/thread/config"
	"github.com/openthread/engine/pkg/thread/conversation"
	"github.com/openthread/engine/pkg/thread/fetcher"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

type noopDelegate struct{}

func (noopDelegate) MessageReceived(types.Message) {}
func (noopDelegate) MessageDeliveryStateChanged(types.PeerURI, types.UID, types.MessageDeliveryState) {
}
func (noopDelegate) ContactsChanged([]types.Contact)      {}
func (noopDelegate) CallStateChanged(types.CallID, string) {}
func (noopDelegate) CallCleanupRequired(types.CallID)      {}
func (noopDelegate) PushRequested(types.PeerURI, types.UID) {}

// Test_OpenHostElectionConverges has three peers independently author a
// host thread for the same base-thread-id, as if three locations raced
// to start the same conversation without coordinating, then has each
// observe the other two. No failure is injected; every participant's
// open-host election must converge on the same host-thread-id once
// every mirror has been fetched.
func Test_OpenHostElectionConverges(t *testing.T) {
	repo := repository.NewMemory()
	log := logging.NewFallback()
	cfg := config.Defaults()
	const base types.BaseThreadID = "convergence-base"

	names := []string{"alice", "bob", "carol"}
	threads := make([]*conversation.Thread, len(names))
	for i, name := range names {
		self := types.Contact{PeerURI: types.PeerURI(name + "@fuzzy")}
		loc := types.LocationID(name + "-loc")
		threads[i] = conversation.CreateLocal(base, self, loc, repo, fetcher.New(repo, log), log, cfg, noopDelegate{})
	}
	defer func() {
		for _, th := range threads {
			th.Shutdown()
		}
		time.Sleep(50 * time.Millisecond)
		goleak.VerifyNone(t)
	}()

	ctx := context.Background()
	hostNames := make([]types.DocumentName, len(threads))
	for i, th := range threads {
		th.Step(ctx)
		id, ok := th.OpenHostID()
		require.True(t, ok, "%s must have an open host right after creation", names[i])
		hostNames[i] = types.HostName(base, id)
	}

	for i, th := range threads {
		for j, name := range hostNames {
			if i == j {
				continue
			}
			loc := types.LocationID(names[i] + "-loc")
			require.NoError(t, th.ObserveFromPublication(ctx, name, loc))
		}
	}

	require.Eventually(t, func() bool {
		for _, th := range threads {
			th.Step(ctx)
		}
		winner, ok := threads[0].OpenHostID()
		if !ok {
			return false
		}
		for _, th := range threads[1:] {
			id, ok := th.OpenHostID()
			if !ok || id != winner {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond, "every participant must converge on the same open host")
}
