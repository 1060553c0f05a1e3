package peer

import (
	"sync"

	"golang.org/x/crypto/ed25519"

	"github.com/openthread/engine/pkg/thread/types"
)

// KeyStore is the per-contact public-key store populated by
// FetchContactKey as each contact's profile publication is observed
// (spec.md §4.6 invariant 6), and consumed by document.verifySignature
// through the document.KeyRing interface.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[types.PeerURI]ed25519.PublicKey
}

// NewKeyStore returns an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[types.PeerURI]ed25519.PublicKey)}
}

// Learn records peer's public key, overwriting any previously learned
// key for the same peer.
func (s *KeyStore) Learn(peer types.PeerURI, key ed25519.PublicKey) {
	if len(key) != ed25519.PublicKeySize {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[peer] = key
}

// PublicKeyFor implements document.KeyRing.
func (s *KeyStore) PublicKeyFor(peer types.PeerURI) ed25519.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[peer]
}
