// Package types holds the value and wire types shared by every thread
// engine component: identifiers, enums, and the document sections
// themselves.
package types

import "github.com/google/uuid"

// UID identifies a message, dialog or call across the whole engine.
type UID string

// NewUID generates a fresh random identifier.
func NewUID() UID {
	return UID(uuid.NewString())
}

// PeerURI identifies a peer account, stable across all of its locations.
type PeerURI string

// LocationID identifies a single online session of a PeerURI.
type LocationID string

// BaseThreadID is stable for a conversation across all of its hosts.
type BaseThreadID string

// HostThreadID identifies one host document instance of a conversation.
type HostThreadID string

// DialogID identifies one call-signalling dialog inside a thread document.
type DialogID string

// CallID identifies one Call state machine, usually equal to the
// placing dialog's DialogID.
type CallID string
