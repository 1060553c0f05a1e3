package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openthread/engine/pkg/thread/types"
)

type recordingDelegate struct {
	states  []string
	cleanup bool
}

func (d *recordingDelegate) CallStateChanged(id types.CallID, state string) { d.states = append(d.states, state) }
func (d *recordingDelegate) CallCleanupRequired(id types.CallID)            { d.cleanup = true }

func TestOutgoingCallStartsAtPlaced(t *testing.T) {
	d := &recordingDelegate{}
	c := New("call-1", true, false, false, "alice@example.com", "bob@example.com", 0, d)
	assert.Equal(t, stPlaced, c.State())
}

func TestIncomingCallStartsAtIncoming(t *testing.T) {
	d := &recordingDelegate{}
	c := New("call-1", true, false, true, "alice@example.com", "bob@example.com", 0, d)
	assert.Equal(t, stIncoming, c.State())
}

func TestObserveCandidateReadyPicksLocation(t *testing.T) {
	c := New("call-1", true, false, false, "alice@example.com", "bob@example.com", 0, nil)
	c.ObserveCandidate("loc-1", CallLocationEarly, nil)
	c.ObserveCandidate("loc-2", CallLocationReady, nil)

	loc, ok := c.PickedLocation()
	require.True(t, ok)
	assert.Equal(t, types.LocationID("loc-2"), loc)
	assert.Equal(t, CallLocationClosed, c.locations["loc-1"].State)
}

func TestPickTwiceFails(t *testing.T) {
	c := New("call-1", true, false, false, "alice@example.com", "bob@example.com", 0, nil)
	require.NoError(t, c.Pick("loc-1"))
	assert.ErrorIs(t, c.Pick("loc-2"), ErrAlreadyPicked)
}

func TestHangupMovesToClosingThenClosedAfterBound(t *testing.T) {
	d := &recordingDelegate{}
	c := New("call-1", true, false, false, "alice@example.com", "bob@example.com", 0, d)
	require.NoError(t, c.Hangup(types.ReasonUser, 10*time.Millisecond))
	assert.Equal(t, stClosing, c.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stClosed, c.State())
	assert.True(t, d.cleanup)
}

func TestAckRemoteClosedShortCircuitsBound(t *testing.T) {
	c := New("call-1", true, false, false, "alice@example.com", "bob@example.com", 0, nil)
	require.NoError(t, c.Hangup(types.ReasonUser, time.Hour))
	c.AckRemoteClosed()
	assert.Equal(t, stClosed, c.State())
}

func TestEncodeCandidateSDPRoundTripsThroughApplyRemoteSDP(t *testing.T) {
	caller := New("call-1", true, false, false, "alice@example.com", "bob@example.com", 0, nil)
	caller.ObserveCandidate("loc-1", CallLocationEarly, []types.Description{
		{
			Type:        types.MediaAudio,
			SSRC:        12345,
			Codecs:      []string{"111 opus/48000/2"},
			ICEUsername: "ufrag1",
			ICEPassword: "pwd1",
			Candidates:  []string{"1 1 UDP 2130706431 10.0.0.1 5000 typ host"},
		},
	})

	raw, err := caller.EncodeCandidateSDP("loc-1", 42, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	callee := New("call-2", true, false, true, "alice@example.com", "bob@example.com", 0, nil)
	require.NoError(t, callee.ApplyRemoteSDP("loc-1", CallLocationEarly, raw))

	cl, ok := callee.locations["loc-1"]
	require.True(t, ok)
	require.Len(t, cl.Descriptions, 1)
	assert.Equal(t, types.MediaAudio, cl.Descriptions[0].Type)
	assert.Equal(t, uint32(12345), cl.Descriptions[0].SSRC)
	assert.Equal(t, "ufrag1", cl.Descriptions[0].ICEUsername)
}
