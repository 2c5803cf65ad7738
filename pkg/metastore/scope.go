// Package metastore provides the tenant-scoping query rewriter and
// the metadata-store backends (sqlite, postgres) that every
// tenant-scoped table is queried through.
package metastore

// Tenant carries the three-valued tenant-scoping semantics every
// metadata-store query accepts: restrict to one user, restrict to
// system-owned rows, or admit every row regardless of owner.
//
// The zero value of Tenant is Any, so callers that forget to scope a
// query get the most permissive behavior rather than silently
// matching nothing — call sites that need isolation must pass Some or
// Null explicitly, which keeps the default fail-open at the type
// level but visible at every call site in review.
type Tenant struct {
	kind tenantKind
	id   string
}

type tenantKind int

const (
	tenantAny tenantKind = iota
	tenantSome
	tenantNull
)

// Some scopes a query to exactly the given user id.
func Some(id string) Tenant {
	return Tenant{kind: tenantSome, id: id}
}

// Null scopes a query to system-owned rows (userId IS NULL).
func Null() Tenant {
	return Tenant{kind: tenantNull}
}

// Any admits every row regardless of owner. Used only by admin/global
// operations.
func Any() Tenant {
	return Tenant{kind: tenantAny}
}

// Predicate returns the SQL fragment and bind args (if any) that
// enforce this tenant's scope, suitable for splicing into a WHERE
// clause by the rewriter.
func (t Tenant) Predicate(column string) (string, []interface{}) {
	switch t.kind {
	case tenantSome:
		return column + " = ?", []interface{}{t.id}
	case tenantNull:
		return column + " IS NULL", nil
	default:
		return "", nil
	}
}

// IsAny reports whether this tenant admits every row.
func (t Tenant) IsAny() bool {
	return t.kind == tenantAny
}

// ID returns the scoped user id and whether this tenant is a Some
// scope at all (false for Null and Any).
func (t Tenant) ID() (string, bool) {
	return t.id, t.kind == tenantSome
}
