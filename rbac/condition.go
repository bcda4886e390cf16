package rbac

import (
	"net"
	"time"
)

// RequestContext carries the request attributes conditions evaluate
// against. Zero values mean the attribute was not supplied.
type RequestContext struct {
	PrincipalID string
	OwnerID     string
	IP          string
	Department  string
	Now         time.Time
}

func (rc RequestContext) now() time.Time {
	if rc.Now.IsZero() {
		return time.Now()
	}
	return rc.Now
}

// Condition is a predicate attached to a permission grant. All conditions
// on a grant must hold for the grant to apply.
type Condition interface {
	Satisfied(rc RequestContext) bool
}

// OwnerMatch holds when the requested resource belongs to the principal.
type OwnerMatch struct{}

func (OwnerMatch) Satisfied(rc RequestContext) bool {
	return rc.OwnerID != "" && rc.OwnerID == rc.PrincipalID
}

// TimeWindow holds when the request time falls inside [From, Until).
type TimeWindow struct {
	From  time.Time
	Until time.Time
}

func (c TimeWindow) Satisfied(rc RequestContext) bool {
	now := rc.now()
	if !c.From.IsZero() && now.Before(c.From) {
		return false
	}
	if !c.Until.IsZero() && !now.Before(c.Until) {
		return false
	}
	return true
}

// IPAllowList holds when the request IP matches one of the entries.
// Entries may be single addresses or CIDR blocks.
type IPAllowList struct {
	Entries []string
}

func (c IPAllowList) Satisfied(rc RequestContext) bool {
	ip := net.ParseIP(rc.IP)
	if ip == nil {
		return false
	}
	for _, entry := range c.Entries {
		if _, block, err := net.ParseCIDR(entry); err == nil {
			if block.Contains(ip) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(ip) {
			return true
		}
	}
	return false
}

// DepartmentMatch holds when the principal's department equals Department.
type DepartmentMatch struct {
	Department string
}

func (c DepartmentMatch) Satisfied(rc RequestContext) bool {
	return rc.Department != "" && rc.Department == c.Department
}

func allSatisfied(conditions []Condition, rc RequestContext) bool {
	for _, cond := range conditions {
		if cond == nil || !cond.Satisfied(rc) {
			return false
		}
	}
	return true
}
