package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openthread/engine/pkg/thread/types"
)

func TestBackfillImpliesEveryEarlierMessage(t *testing.T) {
	items := []types.Message{
		{MessageID: "m1"},
		{MessageID: "m2"},
		{MessageID: "m3"},
	}
	order := map[types.UID]int{"m1": 0, "m2": 1, "m3": 2}
	ackTime := time.Now()

	out := backfill(map[types.UID]time.Time{"m2": ackTime}, items, order)

	assert.Len(t, out, 2, "acking m2 must imply m1 but not the later m3")
	assert.Equal(t, ackTime, out["m1"])
	assert.Equal(t, ackTime, out["m2"])
	_, sawM3 := out["m3"]
	assert.False(t, sawM3)
}

func TestBackfillEmptyInputReturnsNil(t *testing.T) {
	items := []types.Message{{MessageID: "m1"}}
	order := map[types.UID]int{"m1": 0}
	assert.Nil(t, backfill(nil, items, order))
}

func TestBackfillIgnoresAcksForUnknownMessages(t *testing.T) {
	items := []types.Message{{MessageID: "m1"}, {MessageID: "m2"}}
	order := map[types.UID]int{"m1": 0, "m2": 1}
	ackTime := time.Now()

	out := backfill(map[types.UID]time.Time{"stale-id": ackTime}, items, order)

	assert.Len(t, out, 1, "an ack for a message not in order still passes through untouched, with no backfill applied")
	assert.Equal(t, ackTime, out["stale-id"])
}
