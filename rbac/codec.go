package rbac

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire form for a condition list, used by stores that persist permissions
// as JSON. Each element is {"type": ..., parameters...}.

const (
	condTypeOwner      = "owner_match"
	condTypeTimeWindow = "time_window"
	condTypeIPAllow    = "ip_allowlist"
	condTypeDepartment = "department"
)

type conditionWire struct {
	Type       string    `json:"type"`
	From       time.Time `json:"from,omitempty"`
	Until      time.Time `json:"until,omitempty"`
	Entries    []string  `json:"entries,omitempty"`
	Department string    `json:"department,omitempty"`
}

// MarshalConditions encodes a condition list as JSON. A nil or empty list
// encodes as null, which keeps unconditional grants compact in storage.
func MarshalConditions(conditions []Condition) ([]byte, error) {
	if len(conditions) == 0 {
		return []byte("null"), nil
	}

	wire := make([]conditionWire, 0, len(conditions))
	for _, cond := range conditions {
		switch c := cond.(type) {
		case OwnerMatch:
			wire = append(wire, conditionWire{Type: condTypeOwner})
		case TimeWindow:
			wire = append(wire, conditionWire{Type: condTypeTimeWindow, From: c.From, Until: c.Until})
		case IPAllowList:
			wire = append(wire, conditionWire{Type: condTypeIPAllow, Entries: c.Entries})
		case DepartmentMatch:
			wire = append(wire, conditionWire{Type: condTypeDepartment, Department: c.Department})
		default:
			return nil, fmt.Errorf("rbac: unencodable condition %T", cond)
		}
	}
	return json.Marshal(wire)
}

// UnmarshalConditions decodes a condition list produced by
// MarshalConditions. Unknown condition types are an error rather than
// being skipped, so a grant never silently widens.
func UnmarshalConditions(data []byte) ([]Condition, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var wire []conditionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("rbac: invalid condition payload: %w", err)
	}

	conditions := make([]Condition, 0, len(wire))
	for _, w := range wire {
		switch w.Type {
		case condTypeOwner:
			conditions = append(conditions, OwnerMatch{})
		case condTypeTimeWindow:
			conditions = append(conditions, TimeWindow{From: w.From, Until: w.Until})
		case condTypeIPAllow:
			conditions = append(conditions, IPAllowList{Entries: w.Entries})
		case condTypeDepartment:
			conditions = append(conditions, DepartmentMatch{Department: w.Department})
		default:
			return nil, fmt.Errorf("rbac: unknown condition type %q", w.Type)
		}
	}
	return conditions, nil
}
