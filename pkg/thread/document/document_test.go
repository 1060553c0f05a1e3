package document

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

func TestUpdateEndOnlyBumpsTouchedSections(t *testing.T) {
	d := New("base-1", "host-1", time.Now(), nil)
	repo := repository.NewMemory()

	require.NoError(t, d.UpdateBegin())
	d.AddMessage(types.Message{MessageID: "m1", FromPeer: "alice", Body: []byte("hi")})
	require.NoError(t, d.UpdateEnd(context.Background(), repo, []types.PeerURI{"alice"}))

	assert.Equal(t, types.Version(1), d.Messages.Version)
	assert.Equal(t, types.Version(0), d.Contacts.Version)
	assert.Equal(t, types.Version(0), d.Details.Version)
}

func TestUpdateFromRejectsStaleVersion(t *testing.T) {
	d := New("base-1", "host-1", time.Now(), nil)
	repo := repository.NewMemory()
	require.NoError(t, d.UpdateBegin())
	d.AddMessage(types.Message{MessageID: "m1", FromPeer: "alice", Body: []byte("hi")})
	require.NoError(t, d.UpdateEnd(context.Background(), repo, nil))

	name := types.HostName("base-1", "host-1")
	pub, err := repo.Fetch(context.Background(), name)
	require.NoError(t, err)

	// A stale copy applies the same diff twice; it must be a no-op the
	// second time around (invariant 3).
	mirror, err := Load(pub.Payload, nil)
	require.NoError(t, err)
	require.NoError(t, mirror.UpdateFrom(pub.Payload))
	assert.Len(t, mirror.Messages.Items, 1, "duplicate message-id must not be appended twice")
}

func TestMessageDeliveryStateMonotonicity(t *testing.T) {
	cases := []struct {
		from, to types.MessageDeliveryState
		ok       bool
	}{
		{types.Discovering, types.Delivered, true},
		{types.Delivered, types.Read, true},
		{types.Discovering, types.UserNotAvailable, true},
		{types.Read, types.UserNotAvailable, false},
		{types.Delivered, types.Discovering, false},
		{types.UserNotAvailable, types.Delivered, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.Advances(c.to), "%v -> %v", c.from, c.to)
	}
}

func TestReceiptsAdvanceOnlyForward(t *testing.T) {
	d := New("base-1", "host-1", time.Now(), nil)
	early := time.Now()
	late := early.Add(time.Minute)

	held := types.NewReceipts()
	held.Times["m1"] = late
	changed := advanceReceipts(&held, types.Receipts{Version: 2, Times: map[types.UID]time.Time{"m1": early}})
	assert.Empty(t, changed, "an older ack must not regress an already-newer receipt")
	assert.Equal(t, late, held.Times["m1"])
	_ = d
}

func TestDialogStateGraph(t *testing.T) {
	assert.True(t, types.DialogPreparing.CanTransition(types.DialogPlaced))
	assert.True(t, types.DialogOpen.CanTransition(types.DialogClosing))
	assert.True(t, types.DialogEarly.CanTransition(types.DialogClosed))
	assert.False(t, types.DialogClosed.CanTransition(types.DialogOpen), "a closed dialog never re-opens")
	assert.False(t, types.DialogOpen.CanTransition(types.DialogPreparing))
}

func TestUnsignedMessageIsTrusted(t *testing.T) {
	payload, err := Load([]byte(`{"details":{"BaseThreadID":"b","HostThreadID":"h"},"messages":{"Items":[{"MessageID":"m1","FromPeer":"alice"}]}}`), nil)
	require.NoError(t, err)
	require.Len(t, payload.Messages.Items, 1)
	assert.True(t, payload.Messages.Items[0].Validated)
}

func TestLoadRejectsMissingDetails(t *testing.T) {
	_, err := Load([]byte(`{}`), nil)
	require.Error(t, err)
	var malformed ErrMalformedDocument
	assert.ErrorAs(t, err, &malformed)
}
