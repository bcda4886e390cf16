package rbac

import (
	"context"
	"sync/atomic"
)

// Resolver answers "can this principal perform this action on this
// resource". Evaluation short-circuits on the first grant:
//
//  1. cached decision
//  2. direct unconditional grants
//  3. role-derived grants through the policy engine
//  4. conditional grants, direct and role-derived, evaluated against
//     the request context
//
// The outcome is cached with a polarity-dependent TTL. Decisions that
// depended on a conditional grant are never cached: they hold only for
// the request context they were evaluated against.
type Resolver struct {
	store  Store
	engine PolicyEngine
	cache  *Cache
	hits   atomic.Uint64
}

func NewResolver(store Store, engine PolicyEngine, cache *Cache) *Resolver {
	if engine == nil {
		engine = NewAdjacencyEngine(store)
	}
	return &Resolver{store: store, engine: engine, cache: cache}
}

// Check resolves a permission decision. Cache failures degrade to a live
// resolution; store failures propagate so the caller can fail closed.
func (r *Resolver) Check(ctx context.Context, principalID, resource, action string, rc RequestContext) (bool, error) {
	if r.cache != nil {
		if allowed, found, err := r.cache.Get(ctx, principalID, resource, action); err == nil && found {
			r.hits.Add(1)
			return allowed, nil
		}
	}

	rc.PrincipalID = principalID

	allowed, cacheable, err := r.resolve(ctx, principalID, resource, action, rc)
	if err != nil {
		return false, err
	}

	if r.cache != nil && cacheable {
		// Best effort: a failed cache write never fails the decision.
		_ = r.cache.Put(ctx, principalID, resource, action, allowed)
	}

	return allowed, nil
}

func (r *Resolver) resolve(ctx context.Context, principalID, resource, action string, rc RequestContext) (allowed, cacheable bool, err error) {
	direct, err := r.store.DirectPermissions(ctx, principalID)
	if err != nil {
		return false, false, err
	}
	for _, p := range direct {
		if p.Unconditional() && p.Matches(resource, action) {
			return true, true, nil
		}
	}

	allowed, err = r.engine.HasPermission(ctx, principalID, resource, action)
	if err != nil {
		return false, false, err
	}
	if allowed {
		return true, true, nil
	}

	return r.resolveConditional(ctx, principalID, resource, action, direct, rc)
}

// resolveConditional reports a second boolean that is true only when no
// conditional grant covered the resource/action at all, meaning the deny
// is context independent and safe to cache.
func (r *Resolver) resolveConditional(
	ctx context.Context,
	principalID, resource, action string,
	direct []Permission,
	rc RequestContext,
) (bool, bool, error) {
	sawConditional := false
	for _, p := range direct {
		if p.Unconditional() || !p.Matches(resource, action) {
			continue
		}
		sawConditional = true
		if allSatisfied(p.Conditions, rc) {
			return true, false, nil
		}
	}

	roleIDs, err := r.engine.ExpandRoles(ctx, principalID)
	if err != nil {
		return false, false, err
	}
	for _, roleID := range roleIDs {
		perms, err := r.store.PermissionsForRole(ctx, roleID)
		if err != nil {
			return false, false, err
		}
		for _, p := range perms {
			if p.Unconditional() || !p.Matches(resource, action) {
				continue
			}
			sawConditional = true
			if allSatisfied(p.Conditions, rc) {
				return true, false, nil
			}
		}
	}

	return false, !sawConditional, nil
}

// CacheHits reports how many checks were answered from the decision cache.
func (r *Resolver) CacheHits() uint64 {
	if r == nil {
		return 0
	}
	return r.hits.Load()
}

// InvalidatePrincipal drops cached decisions after the principal's
// assignments change.
func (r *Resolver) InvalidatePrincipal(ctx context.Context, principalID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidatePrincipal(ctx, principalID)
}

// InvalidateRole drops cached decisions for every principal holding the
// role. Called after the role's permission set changes.
func (r *Resolver) InvalidateRole(ctx context.Context, roleID string) error {
	if r.cache == nil {
		return nil
	}
	principals, err := r.store.PrincipalsWithRole(ctx, roleID)
	if err != nil {
		return err
	}
	for _, principalID := range principals {
		if err := r.cache.InvalidatePrincipal(ctx, principalID); err != nil {
			return err
		}
	}
	return nil
}
