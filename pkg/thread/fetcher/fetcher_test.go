package fetcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

type recordingDelegate struct {
	mu      sync.Mutex
	updates []repository.Publication
}

func (d *recordingDelegate) PublicationUpdated(loc types.LocationID, pub repository.Publication) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, pub)
}
func (d *recordingDelegate) PublicationGone(loc types.LocationID, name types.DocumentName) {}

func (d *recordingDelegate) snapshot() []repository.Publication {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]repository.Publication(nil), d.updates...)
}

func TestNotifyPublicationUpdatedDeliversFetchedPublication(t *testing.T) {
	repo := repository.NewMemory()
	name := types.HostName("base-1", "host-1")
	require.NoError(t, repo.Publish(context.Background(), repository.Publication{Name: name, Version: 1, Payload: []byte("v1")}, nil))

	f := New(repo, logging.NewFallback())
	d := &recordingDelegate{}
	f.NotifyPublicationUpdated(context.Background(), "loc-1", repository.Meta{Name: name, Version: 1}, d)

	require.Eventually(t, func() bool { return len(d.snapshot()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []byte("v1"), d.snapshot()[0].Payload)
}

func TestNotifyPublicationUpdatedSkipsAlreadySeenVersion(t *testing.T) {
	repo := repository.NewMemory()
	name := types.HostName("base-1", "host-1")
	require.NoError(t, repo.Publish(context.Background(), repository.Publication{Name: name, Version: 1, Payload: []byte("v1")}, nil))

	f := New(repo, logging.NewFallback())
	d := &recordingDelegate{}
	f.NotifyPublicationUpdated(context.Background(), "loc-1", repository.Meta{Name: name, Version: 1}, d)
	require.Eventually(t, func() bool { return len(d.snapshot()) == 1 }, time.Second, time.Millisecond)

	f.NotifyPublicationUpdated(context.Background(), "loc-1", repository.Meta{Name: name, Version: 1}, d)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, d.snapshot(), 1, "a version already delivered must not be redelivered")
}

func TestNotifyPublicationUpdatedMissingDocumentNeverCallsDelegate(t *testing.T) {
	repo := repository.NewMemory()
	name := types.HostName("base-1", "ghost-host")

	f := New(repo, logging.NewFallback())
	d := &recordingDelegate{}
	f.NotifyPublicationUpdated(context.Background(), "loc-1", repository.Meta{Name: name, Version: 1}, d)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, d.snapshot())
}
