package models

import (
	"fmt"

	"github.com/google/uuid"
)

type refKind uint8

const (
	refLocal refKind = iota
	refCanonical
)

// MessageRef identifies one entry in a viewer's message list. It is an
// explicit tagged value: either a client-generated optimistic id that has
// not been persisted yet, or the permanent store-assigned id. The tag is
// carried on the value itself so callers never infer identity from the
// shape of an id string.
type MessageRef struct {
	kind      refKind
	canonical uuid.UUID
	local     string
}

// NewLocalRef returns a ref with a fresh client-generated optimistic id.
func NewLocalRef() MessageRef {
	return MessageRef{kind: refLocal, local: uuid.NewString()}
}

// LocalRef wraps an existing optimistic id.
func LocalRef(tempID string) MessageRef {
	return MessageRef{kind: refLocal, local: tempID}
}

// CanonicalRef wraps a store-assigned id.
func CanonicalRef(id uuid.UUID) MessageRef {
	return MessageRef{kind: refCanonical, canonical: id}
}

// IsCanonical reports whether the ref carries a store-assigned id.
func (r MessageRef) IsCanonical() bool {
	return r.kind == refCanonical
}

// Canonical returns the store-assigned id. ok is false for optimistic refs.
func (r MessageRef) Canonical() (uuid.UUID, bool) {
	if r.kind != refCanonical {
		return uuid.Nil, false
	}
	return r.canonical, true
}

// Local returns the optimistic id. ok is false for canonical refs.
func (r MessageRef) Local() (string, bool) {
	if r.kind != refLocal {
		return "", false
	}
	return r.local, true
}

func (r MessageRef) String() string {
	if r.kind == refCanonical {
		return r.canonical.String()
	}
	return fmt.Sprintf("local:%s", r.local)
}
