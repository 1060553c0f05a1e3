package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openthread/engine/pkg/thread/config"
	"github.com/openthread/engine/pkg/thread/fetcher"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

type recordingDelegate struct {
	messages []types.Message
	contacts [][]types.Contact
}

func (d *recordingDelegate) MessageReceived(m types.Message) { d.messages = append(d.messages, m) }
func (d *recordingDelegate) MessageDeliveryStateChanged(peer types.PeerURI, id types.UID, state types.MessageDeliveryState) {
}
func (d *recordingDelegate) ContactsChanged(contacts []types.Contact) {
	d.contacts = append(d.contacts, contacts)
}
func (d *recordingDelegate) CallStateChanged(id types.CallID, state string) {}
func (d *recordingDelegate) CallCleanupRequired(id types.CallID)            {}
func (d *recordingDelegate) PushRequested(peer types.PeerURI, id types.UID) {}

func newTestThread(repo repository.Repository, self types.Contact, delegate Delegate) *Thread {
	fetch := fetcher.New(repo, logging.NewFallback())
	return CreateLocal("base-1", self, "loc-1", repo, fetch, logging.NewFallback(), config.Defaults(), delegate)
}

func TestCreateLocalSeedsSelfAndFiresContactsChanged(t *testing.T) {
	repo := repository.NewMemory()
	delegate := &recordingDelegate{}
	th := newTestThread(repo, types.Contact{PeerURI: "alice@example.com"}, delegate)

	th.Step(context.Background())
	require.Len(t, delegate.contacts, 1)
	assert.Len(t, delegate.contacts[0], 1)
}

func TestContactsChangedFiresOnceForSameMembership(t *testing.T) {
	repo := repository.NewMemory()
	delegate := &recordingDelegate{}
	th := newTestThread(repo, types.Contact{PeerURI: "alice@example.com"}, delegate)

	th.Step(context.Background())
	th.Step(context.Background())
	assert.Len(t, delegate.contacts, 1, "an unchanged contact set must not re-signal")
}

func TestAddContactsMutatesInPlaceWhenSafe(t *testing.T) {
	repo := repository.NewMemory()
	delegate := &recordingDelegate{}
	th := newTestThread(repo, types.Contact{PeerURI: "alice@example.com"}, delegate)

	require.NoError(t, th.AddContacts(context.Background(), []types.Contact{{PeerURI: "bob@example.com"}}))

	th.mu.Lock()
	n := th.roleArena.Len()
	th.mu.Unlock()
	assert.Equal(t, 1, n, "adding contacts while safe must not spawn a new host")
}

func TestSendMessageThenGetMessageRoundTrips(t *testing.T) {
	repo := repository.NewMemory()
	delegate := &recordingDelegate{}
	th := newTestThread(repo, types.Contact{PeerURI: "alice@example.com"}, delegate)

	require.NoError(t, th.SendMessage(context.Background(), types.Message{MessageID: "m1", FromPeer: "alice@example.com", Body: []byte("hi")}))

	m, ok := th.GetMessage("m1")
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), m.Body)
}

func TestObserveFromPublicationRejectsNonHostNames(t *testing.T) {
	repo := repository.NewMemory()
	delegate := &recordingDelegate{}
	th := newTestThread(repo, types.Contact{PeerURI: "alice@example.com"}, delegate)

	err := th.ObserveFromPublication(context.Background(), types.ContactProfileName("base-1", "bob@example.com"), "loc-remote")
	assert.ErrorIs(t, err, ErrRejectedPublication)
}

func TestObserveFromPublicationAddsSlaveRole(t *testing.T) {
	repo := repository.NewMemory()
	delegate := &recordingDelegate{}
	th := newTestThread(repo, types.Contact{PeerURI: "alice@example.com"}, delegate)

	remoteHostID := types.HostThreadID(types.NewUID())
	require.NoError(t, th.ObserveFromPublication(context.Background(), types.HostName("base-1", remoteHostID), "loc-remote"))

	th.mu.Lock()
	defer th.mu.Unlock()
	e, ok := th.getRoleLocked(remoteHostID)
	require.True(t, ok)
	assert.NotNil(t, e.slv)
}
