package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openthread/engine/pkg/thread/fetcher"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

type recordingDelegate struct {
	delivered []types.MessageDeliveryState
}

func (d *recordingDelegate) HostDeliveryAdvanced(peerURI types.PeerURI, id types.UID, state types.MessageDeliveryState) {
	d.delivered = append(d.delivered, state)
}
func (d *recordingDelegate) HostPushRequested(peerURI types.PeerURI, id types.UID) {}
func (d *recordingDelegate) HostDialogsChanged(peerURI types.PeerURI, loc types.LocationID, dialogs types.Dialogs, changed, removed []types.DialogID) {
}

func TestCreateSeedsSelfAsContact(t *testing.T) {
	repo := repository.NewMemory()
	fetch := fetcher.New(repo, logging.NewFallback())
	self := types.Contact{PeerURI: "self@example.com"}

	r := Create("base-1", "host-1", self, repo, fetch, logging.NewFallback(), time.Second, nil)
	defer r.Cancel()

	assert.Contains(t, r.Document().Contacts.Current, self.PeerURI)
	assert.Equal(t, types.ThreadOpen, r.Document().Details.State)
}

func TestSafeToChangeContactsFalseWhileDialogLive(t *testing.T) {
	repo := repository.NewMemory()
	fetch := fetcher.New(repo, logging.NewFallback())
	self := types.Contact{PeerURI: "self@example.com"}
	r := Create("base-1", "host-1", self, repo, fetch, logging.NewFallback(), time.Second, nil)
	defer r.Cancel()

	require.NoError(t, r.Document().UpdateBegin())
	r.Document().AddDialog(types.Dialog{DialogID: "d1", State: types.DialogOpen})
	require.NoError(t, r.Document().UpdateEnd(context.Background(), repo, nil))

	assert.False(t, r.SafeToChangeContacts())
}

func TestSendMessageRegistersPendingWithEveryContact(t *testing.T) {
	repo := repository.NewMemory()
	fetch := fetcher.New(repo, logging.NewFallback())
	self := types.Contact{PeerURI: "self@example.com"}
	r := Create("base-1", "host-1", self, repo, fetch, logging.NewFallback(), time.Hour, &recordingDelegate{})

	require.NoError(t, r.AddContacts(context.Background(), []types.Contact{{PeerURI: "bob@example.com"}}))
	require.NoError(t, r.SendMessage(context.Background(), types.Message{MessageID: "m1", FromPeer: self.PeerURI, Body: []byte("hi")}))

	pc, ok := r.contacts["bob@example.com"]
	require.True(t, ok)
	state, ok := pc.DeliveryState("m1")
	require.True(t, ok)
	assert.Equal(t, types.Discovering, state)

	r.Cancel()
}
