// Package access checks actors against permission sets.
//
// Who the actor is stays with the caller: hermes does not authenticate.
package access

import "slices"

type Permission string

type HasPermissions interface {
	Has(p Permission) bool
}

// Grants is a plain list of held permissions.
type Grants []Permission

func (g Grants) Has(p Permission) bool { return slices.Contains(g, p) }

// Control is an immutable set of required permissions.
type Control struct {
	permissions []Permission
}

func New(permissions ...Permission) Control {
	return Control{permissions: slices.Clone(permissions)}
}

func (c Control) Permissions() []Permission { return slices.Clone(c.permissions) }

// Require reports whether c contains p.
func (c Control) Require(p Permission) bool { return slices.Contains(c.permissions, p) }

func (c Control) RequireAll(ps ...Permission) bool {
	for _, p := range ps {
		if !c.Require(p) {
			return false
		}
	}
	return true
}

func (c Control) RequireAny(ps ...Permission) bool {
	return slices.ContainsFunc(ps, c.Require)
}

func (c Control) RequireNone(ps ...Permission) bool { return !c.RequireAny(ps...) }

func (c Control) RequireNot(p Permission) bool { return !c.Require(p) }

func (c Control) With(p Permission) Control {
	if c.Require(p) {
		return c
	}
	return Control{permissions: append(slices.Clone(c.permissions), p)}
}

func (c Control) Without(p Permission) Control {
	return Control{permissions: slices.DeleteFunc(slices.Clone(c.permissions), func(q Permission) bool {
		return q == p
	})}
}

// IsAuthorized reports whether actor holds every permission of c.
// An empty Control authorizes anyone, nil actors included.
func (c Control) IsAuthorized(actor HasPermissions) bool {
	if len(c.permissions) == 0 {
		return true
	}
	if actor == nil {
		return false
	}
	for _, p := range c.permissions {
		if !actor.Has(p) {
			return false
		}
	}
	return true
}
