package peer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openthread/engine/pkg/thread/fetcher"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

type recordingContactDelegate struct {
	mu       sync.Mutex
	advanced []types.MessageDeliveryState
	pushed   []types.UID
}

func (d *recordingContactDelegate) ContactDeliveryAdvanced(peer types.PeerURI, id types.UID, state types.MessageDeliveryState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanced = append(d.advanced, state)
}
func (d *recordingContactDelegate) ContactPushRequested(peer types.PeerURI, id types.UID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushed = append(d.pushed, id)
}
func (d *recordingContactDelegate) ContactSuggestedContacts(peer types.PeerURI, add map[types.PeerURI]types.Contact, remove map[types.PeerURI]struct{}) {
}
func (d *recordingContactDelegate) ContactDialogsChanged(peer types.PeerURI, loc types.LocationID, dialogs types.Dialogs, changed, removed []types.DialogID) {
}

func (d *recordingContactDelegate) snapshot() ([]types.MessageDeliveryState, []types.UID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.MessageDeliveryState(nil), d.advanced...), append([]types.UID(nil), d.pushed...)
}

func newTestContact(maxWait time.Duration, delegate ContactDelegate) *PeerContact {
	repo := repository.NewMemory()
	log := logging.NewFallback()
	fetch := fetcher.New(repo, log)
	return NewPeerContact("base-1", "host-1", "alice@example.com", "bob@example.com", repo, fetch, log, maxWait, delegate)
}

func TestNotifyMessageSentMarksUserNotAvailableAfterPushWindow(t *testing.T) {
	d := &recordingContactDelegate{}
	c := newTestContact(10*time.Millisecond, d)
	defer c.Cancel()

	c.NotifyMessageSent("m1")

	require.Eventually(t, func() bool {
		advanced, pushed := d.snapshot()
		return len(advanced) == 1 && len(pushed) == 1
	}, time.Second, time.Millisecond)

	state, ok := c.DeliveryState("m1")
	require.True(t, ok)
	assert.Equal(t, types.UserNotAvailable, state)
}

func TestApplyReceiptsOnlyAdvancesForwardAndStopsTheTimer(t *testing.T) {
	d := &recordingContactDelegate{}
	c := newTestContact(time.Hour, d)
	defer c.Cancel()
	c.NotifyMessageSent("m1")

	c.applyReceipts(map[types.UID]time.Time{"m1": time.Now()}, types.Delivered)
	state, ok := c.DeliveryState("m1")
	require.True(t, ok)
	assert.Equal(t, types.Delivered, state)

	// A stale Discovering-equivalent re-ack must not move the state backwards.
	c.applyReceipts(map[types.UID]time.Time{"m1": time.Now()}, types.Discovering)
	state, ok = c.DeliveryState("m1")
	require.True(t, ok)
	assert.Equal(t, types.Delivered, state, "delivery state must never regress")
}

func TestNotifyBackgroundingImminentPushesEveryDiscoveringMessage(t *testing.T) {
	d := &recordingContactDelegate{}
	c := newTestContact(time.Hour, d)
	defer c.Cancel()
	c.NotifyMessageSent("m1")
	c.NotifyMessageSent("m2")

	c.NotifyBackgroundingImminent()

	advanced, pushed := d.snapshot()
	assert.Len(t, advanced, 2)
	assert.Len(t, pushed, 2)
}
