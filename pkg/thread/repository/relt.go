package repository

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jabolina/relt/pkg/relt"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/types"
)

// wireEnvelope is what actually crosses the relt group: the document
// name and version alongside the opaque publication payload, so every
// subscriber on the group can route without a separate fetch round trip.
type wireEnvelope struct {
	Name    string
	Version types.Version
	Payload []byte
}

// Relt is a Repository backed by github.com/jabolina/relt, the
// best-effort reliable-multicast transport this module's teacher
// (go-mcast) depends on directly. It represents one local peer's
// session: every BaseThreadID the local peer participates in maps to
// one relt group address, and publish/subscribe broadcast and consume
// wireEnvelopes on that group.
type Relt struct {
	log     logging.Logger
	session *relt.Relt

	mu    sync.RWMutex
	cache map[string]Publication
}

// NewRelt opens a relt session under the given local session name
// (typically the self peer-uri plus location-id) and returns a
// Repository bound to it.
func NewRelt(sessionName string, log logging.Logger) (*Relt, error) {
	conf := relt.DefaultReltConfiguration()
	conf.Name = sessionName
	session, err := relt.NewRelt(*conf)
	if err != nil {
		return nil, err
	}
	return &Relt{log: log, session: session, cache: make(map[string]Publication)}, nil
}

func groupFor(base types.BaseThreadID) relt.GroupAddress {
	return relt.GroupAddress("thread-" + string(base))
}

// Fetch reads the most recent publication this session has observed for
// name, either self-published or received over a group's multicast
// stream. There is no durable store behind relt's fire-and-forget
// multicast beyond this local cache, matching the "best effort" framing
// in spec.md §1: a peer that was offline when a version went out has
// missed it until a newer one arrives.
func (r *Relt) Fetch(_ context.Context, name types.DocumentName) (Publication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.cache[name.Path()]
	if !ok {
		return Publication{}, ErrNotFound{Name: name}
	}
	return pub, nil
}

func (r *Relt) Publish(ctx context.Context, pub Publication, _ []types.PeerURI) error {
	env := wireEnvelope{Name: pub.Name.Path(), Version: pub.Version, Payload: pub.Payload}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[pub.Name.Path()] = pub
	r.mu.Unlock()
	return r.session.Broadcast(ctx, relt.Send{
		Address: groupFor(pub.Name.BaseThreadID),
		Data:    data,
	})
}

// Subscribe consumes the local relt session on behalf of peer. peer is
// used only for logging context here: relt delivers everything
// broadcast on a group to every member, and the subscribers
// (slave.Role, PeerContact and PeerLocation) filter the parsed
// DocumentName themselves. The returned stop func does nothing; the
// subscription ends only when ctx is cancelled.
func (r *Relt) Subscribe(ctx context.Context, peer types.PeerURI) (<-chan Meta, func(), error) {
	listener, err := r.session.Consume()
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Meta, 32)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case recv, ok := <-listener:
				if !ok {
					return
				}
				if recv.Error != nil {
					r.log.Warnf("relt repository: recv error for %s from %s: %v", peer, recv.Origin, recv.Error)
					continue
				}
				var env wireEnvelope
				if err := json.Unmarshal(recv.Data, &env); err != nil {
					r.log.Warnf("relt repository: malformed envelope from %s: %v", recv.Origin, err)
					continue
				}
				name, err := types.ParseDocumentName(env.Name)
				if err != nil {
					r.log.Warnf("relt repository: %v", err)
					continue
				}
				r.mu.Lock()
				r.cache[name.Path()] = Publication{Name: name, Version: env.Version, Payload: env.Payload}
				r.mu.Unlock()
				select {
				case out <- Meta{Name: name, Version: env.Version}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, func() {}, nil
}

// Close releases the underlying relt session.
func (r *Relt) Close() error {
	return r.session.Close()
}
