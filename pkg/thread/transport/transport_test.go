package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openthread/engine/pkg/thread/types"
)

type fakeSocket struct {
	sent   [][]byte
	closed bool
}

func (s *fakeSocket) Send(p []byte) error { s.sent = append(s.sent, p); return nil }
func (s *fakeSocket) Close() error        { s.closed = true; return nil }

func newTestTransport(idle time.Duration) (*Transport, *fakeSocket, *fakeSocket) {
	audio := &fakeSocket{}
	video := &fakeSocket{}
	tr := New(idle, func() (Socket, error) { return audio, nil }, func() (Socket, error) { return video, nil })
	return tr, audio, video
}

func TestNotifyCallCreatedAllocatesSockets(t *testing.T) {
	tr, audio, _ := newTestTransport(time.Hour)
	require.NoError(t, tr.NotifyCallCreated("call-1", true, false))
	assert.Equal(t, Ready, tr.State())
	assert.NotNil(t, audio)
}

func TestNotifyCallClosedTearsDownAfterIdleWindow(t *testing.T) {
	tr, audio, video := newTestTransport(5 * time.Millisecond)
	require.NoError(t, tr.NotifyCallCreated("call-1", true, true))
	tr.NotifyCallClosed("call-1")

	time.Sleep(30 * time.Millisecond)
	assert.True(t, audio.closed)
	assert.True(t, video.closed)
}

func TestIsRTCPClassifiesByPayloadType(t *testing.T) {
	assert.True(t, IsRTCP([]byte{0x80, 200}))
	assert.False(t, IsRTCP([]byte{0x80, 96 + 1}))
	assert.False(t, IsRTCP([]byte{0x80, 0}))
}

func TestSendOutboundDropsWithoutFocus(t *testing.T) {
	tr, audio, _ := newTestTransport(time.Hour)
	require.NoError(t, tr.NotifyCallCreated("call-1", true, false))
	require.NoError(t, tr.SendOutbound(true, []byte{1, 2, 3}))
	assert.Empty(t, audio.sent)

	tr.SetFocus(Focus{CallID: "call-1", LocationID: "loc-1"})
	require.NoError(t, tr.SendOutbound(true, []byte{1, 2, 3}))
	assert.Len(t, audio.sent, 1)
}

func TestDispatchInboundIgnoresNonFocusedCall(t *testing.T) {
	tr, _, _ := newTestTransport(time.Hour)
	require.NoError(t, tr.NotifyCallCreated("call-1", true, false))
	tr.SetFocus(Focus{CallID: "call-1", LocationID: "loc-1"})
	// call-2 is not focused; DispatchInbound must not panic and simply drop.
	tr.DispatchInbound(types.CallID("call-2"), "loc-9", true, []byte{0x80, 96 + 5, 0, 0})
}
