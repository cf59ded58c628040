package dropmeta

import (
	"fmt"

	"github.com/5yncr/syncr/pkg/syncerr"
)

// LookupParent resolves one of m's previous_versions to its record, or
// reports that it is not available locally (ok == false).
type LookupParent func(v Version) (*DropMetadata, bool, error)

// VerifyVersion enforces the lineage policy of spec §4.3 "Version chain
// verification": zero parents verify signature only (signed_by must be the
// primary owner); one parent requires signed_by to be in the parent's
// owner set, permitting ownership transitions only when signed_by is the
// parent's primary_owner; multiple parents (a merge) require signed_by to
// be primary_owner and every parent to verify with the same primary_owner.
func VerifyVersion(m *DropMetadata, lookup LookupParent, verifySig func(*DropMetadata) error) error {
	if err := verifySig(m); err != nil {
		return err
	}

	switch len(m.PreviousVersions) {
	case 0:
		if !m.SignedBy.Equal(m.PrimaryOwner) {
			return syncerr.Verification("root version must be signed by primary_owner", nil)
		}
		return nil

	case 1:
		parent, ok, err := lookup(m.PreviousVersions[0])
		if err != nil {
			return fmt.Errorf("dropmeta: look up parent version: %w", err)
		}
		if !ok {
			return syncerr.NotExist("parent version not available locally")
		}
		if err := VerifyVersion(parent, lookup, verifySig); err != nil {
			return err
		}
		if !parent.IsOwner(m.SignedBy) {
			return syncerr.Verification("signed_by is not in the parent version's owner set", nil)
		}
		if !m.SignedBy.Equal(parent.PrimaryOwner) {
			if !m.PrimaryOwner.Equal(parent.PrimaryOwner) {
				return syncerr.Verification("primary_owner changed without being signed by the previous primary_owner", nil)
			}
			if !sameOwnerSet(m.OtherOwners, parent.OtherOwners) {
				return syncerr.Verification("other_owners changed without being signed by the previous primary_owner", nil)
			}
		}
		return nil

	default:
		if !m.SignedBy.Equal(m.PrimaryOwner) {
			return syncerr.Verification("merge version must be signed by primary_owner", nil)
		}
		for _, pv := range m.PreviousVersions {
			parent, ok, err := lookup(pv)
			if err != nil {
				return fmt.Errorf("dropmeta: look up parent version: %w", err)
			}
			if !ok {
				return syncerr.NotExist("merge parent version not available locally")
			}
			if err := VerifyVersion(parent, lookup, verifySig); err != nil {
				return err
			}
			if !parent.PrimaryOwner.Equal(m.PrimaryOwner) {
				return syncerr.Verification("merge changes primary_owner across a parent", nil)
			}
		}
		return nil
	}
}

func sameOwnerSet(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
