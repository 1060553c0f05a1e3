package slave

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openthread/engine/pkg/thread/document"
	"github.com/openthread/engine/pkg/thread/fetcher"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

type recordingDelegate struct {
	messages []types.Message
	gone     bool
}

func (d *recordingDelegate) SlaveMessageReceived(m types.Message) { d.messages = append(d.messages, m) }
func (d *recordingDelegate) SlaveDialogsChanged(dialogs types.Dialogs, changed, removed []types.DialogID) {
}
func (d *recordingDelegate) SlaveHostGone() { d.gone = true }

func TestApplyHostPublicationDeliversOnlyNewValidatedMessages(t *testing.T) {
	repo := repository.NewMemory()
	fetch := fetcher.New(repo, logging.NewFallback())
	own := document.NewSlave("base-1", "host-1", "bob@example.com", "loc-1", time.Now(), nil)
	require.NoError(t, own.UpdateBegin())
	require.NoError(t, own.UpdateEnd(context.Background(), repo, nil))

	delegate := &recordingDelegate{}
	r := New("base-1", "host-1", "bob@example.com", "loc-1", own, repo, fetch, logging.NewFallback(), delegate)

	hostDoc := document.New("base-1", "host-1", time.Now(), nil)
	require.NoError(t, hostDoc.UpdateBegin())
	hostDoc.AddMessage(types.Message{MessageID: "m1", FromPeer: "alice@example.com", Body: []byte("hi")})
	require.NoError(t, hostDoc.UpdateEnd(context.Background(), repo, nil))

	payload, err := hostDoc.Marshal()
	require.NoError(t, err)

	r.applyHostPublication(repository.Publication{Name: types.HostName("base-1", "host-1"), Version: 1, Payload: payload})

	require.Len(t, delegate.messages, 1)
	assert.Equal(t, types.UID("m1"), delegate.messages[0].MessageID)

	r.cancel()
}

func TestIsSelfMemberBeforeAnyMirror(t *testing.T) {
	repo := repository.NewMemory()
	fetch := fetcher.New(repo, logging.NewFallback())
	own := document.NewSlave("base-1", "host-1", "bob@example.com", "loc-1", time.Now(), nil)
	require.NoError(t, own.UpdateBegin())
	require.NoError(t, own.UpdateEnd(context.Background(), repo, nil))

	r := New("base-1", "host-1", "bob@example.com", "loc-1", own, repo, fetch, logging.NewFallback(), nil)
	assert.True(t, r.IsSelfMember())
	r.cancel()
}

func TestCloseMarksOwnDocumentClosed(t *testing.T) {
	repo := repository.NewMemory()
	fetch := fetcher.New(repo, logging.NewFallback())
	own := document.NewSlave("base-1", "host-1", "bob@example.com", "loc-1", time.Now(), nil)
	require.NoError(t, own.UpdateBegin())
	require.NoError(t, own.UpdateEnd(context.Background(), repo, nil))

	r := New("base-1", "host-1", "bob@example.com", "loc-1", own, repo, fetch, logging.NewFallback(), nil)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, types.ThreadClosed, own.Details.State)
}
