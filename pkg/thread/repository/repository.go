// Package repository models the publication repository spec.md §1
// treats as an external collaborator: a best-effort publish/subscribe
// store of named, versioned documents, reachable through each peer's
// locations. It is the Document Fetcher's only collaborator.
package repository

import (
	"context"

	"github.com/openthread/engine/pkg/thread/types"
)

// Publication is one version of a published document as seen over the
// wire: an opaque payload plus the metadata needed to route and order it.
type Publication struct {
	Name    types.DocumentName
	Version types.Version
	Payload []byte
}

// Meta is the lightweight notification a subscription delivers before
// the full Publication is fetched — just enough to decide whether a
// fetch is worth coalescing.
type Meta struct {
	Name    types.DocumentName
	Version types.Version
}

// Repository is the narrow interface this engine needs from the outer
// publication repository: fetch one document by name, publish a new
// version of one, and subscribe to update notifications scoped to a
// peer's locations.
type Repository interface {
	// Fetch retrieves the current publication for name.
	Fetch(ctx context.Context, name types.DocumentName) (Publication, error)

	// Publish writes a new version of name, restricted to readers
	// (permissions document naming the current contacts as readers,
	// per spec.md §6).
	Publish(ctx context.Context, pub Publication, readers []types.PeerURI) error

	// Subscribe registers a delegate that receives Meta notifications
	// for documents reachable through the given peer's locations.
	// Cancelling ctx (or calling the returned cancel func) unsubscribes.
	Subscribe(ctx context.Context, peer types.PeerURI) (<-chan Meta, func(), error)
}

// ErrNotFound is returned by Fetch when no publication exists at name.
type ErrNotFound struct{ Name types.DocumentName }

func (e ErrNotFound) Error() string { return "repository: not found: " + e.Name.Path() }
