// Package types holds the PIK Comfort object model: a tree of records built
// from the aggregate dashboard snapshot and thereafter mutated in place by
// reconciling newer snapshots into it. Records keep their object identity
// across reconciliation passes so that holders of a record pointer always
// observe the freshest state.
package types

import (
	"fmt"
)

// Identity is the composite identity carried by most records. It is assigned
// at construction from the payload's "_uid" and "_type" fields and never
// changes for the life of the record.
type Identity struct {
	UID  string
	Type string
}

func (id Identity) String() string {
	return id.Type + "/" + id.UID
}

// IntegrityError reports a structural defect in the model or its inputs:
// an update payload whose identity does not match the record it was applied
// to, or a classifier graph that contains a cycle. These are never expected
// in normal operation and must not be swallowed.
type IntegrityError struct {
	Msg string
}

func (e *IntegrityError) Error() string {
	return "integrity error: " + e.Msg
}

func integrityErrorf(format string, args ...any) error {
	return &IntegrityError{Msg: fmt.Sprintf(format, args...)}
}

// checkIdentity fails when an update payload addresses a different record.
func checkIdentity(what string, have, want Identity) error {
	if have != want {
		return integrityErrorf("%s identity mismatch: have %s, payload %s", what, have, want)
	}
	return nil
}

// syncable is the capability pair shared by every reconcilable record type:
// a stable key within its collection and an in-place update from a payload of
// matching identity.
type syncable[P any, K comparable] interface {
	recordKey() K
	update(P) error
}

// reconcile merges a payload list into an existing record list in place.
// Payload items with a known key update the matching record (preserving the
// record instance), unknown keys construct and append, and records whose key
// is absent from the payload are removed in a reverse pass. Relative order of
// surviving records is preserved. Running the same payload twice is
// idempotent.
func reconcile[T syncable[P, K], P any, K comparable](dst *[]T, src []P, keyOf func(P) K, create func(P) (T, error)) error {
	seen := make(map[K]struct{}, len(src))
	for _, p := range src {
		k := keyOf(p)
		seen[k] = struct{}{}

		var existing T
		var found bool
		for _, rec := range *dst {
			if rec.recordKey() == k {
				existing = rec
				found = true
				break
			}
		}

		if !found {
			rec, err := create(p)
			if err != nil {
				return err
			}
			*dst = append(*dst, rec)
			continue
		}
		if err := existing.update(p); err != nil {
			return err
		}
	}

	// reverse pass so in-place removal doesn't skip neighbors
	for i := len(*dst) - 1; i >= 0; i-- {
		if _, ok := seen[(*dst)[i].recordKey()]; !ok {
			*dst = append((*dst)[:i], (*dst)[i+1:]...)
		}
	}
	return nil
}
