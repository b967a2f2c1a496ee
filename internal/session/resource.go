package session

import (
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/keyexpr"
)

// resourceTable maps locally declared resource ids to their full key
// expression, and resolves (rid, suffix) pairs carried on the wire back
// to a full key expression (spec.md §3 "Resource declaration" / §4.3
// "id+suffix resolution"). Grounded on collections.IntMap, the same
// auto-incrementing registry the teacher's core package uses for
// transaction and message ids.
type resourceTable struct {
	byID *collections.IntMap[keyexpr.KeyExpr]
}

func newResourceTable() *resourceTable {
	return &resourceTable{byID: collections.NewIntMap[keyexpr.KeyExpr]()}
}

// declare registers ke under a fresh resource id.
func (t *resourceTable) declare(ke keyexpr.KeyExpr) uint64 {
	return t.byID.Insert(ke)
}

// forget removes rid; forgetting an unknown id is a no-op (spec.md §4.3
// edge case: ForgetResource for an unknown id does not error).
func (t *resourceTable) forget(rid uint64) {
	t.byID.Remove(rid)
}

// resolve reconstructs the full key expression a wire-level
// (rid, suffix) pair denotes: rid==0 means suffix is already absolute,
// otherwise suffix is concatenated onto the resource registered at rid.
// Returns false if rid is non-zero but unknown.
func (t *resourceTable) resolve(rid uint64, suffix string) (keyexpr.KeyExpr, bool) {
	if rid == 0 {
		ke, status := keyexpr.Canonicalize(suffix)
		return ke, status == keyexpr.StatusOK
	}
	base, ok := t.byID.Get(rid)
	if !ok {
		return keyexpr.KeyExpr{}, false
	}
	if suffix == "" {
		return base, true
	}
	suffixKE, status := keyexpr.Canonicalize(suffix)
	if status != keyexpr.StatusOK {
		return keyexpr.KeyExpr{}, false
	}
	return keyexpr.Concat(base, suffixKE), true
}
