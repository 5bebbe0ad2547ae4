package service

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MergeRule identifies the strategy applied to one snapshot field during a merge.
type MergeRule string

const (
	// RuleLastWriteWins keeps the value from the more recently updated snapshot.
	RuleLastWriteWins MergeRule = "last-write-wins"
	// RuleKeepMax keeps the larger of the two numeric values.
	RuleKeepMax MergeRule = "keep-max"
	// RuleTrueWins keeps true if either side is true; an explicit completion is never lost.
	RuleTrueWins MergeRule = "true-wins"
)

// HabitSnapshot captures the mergeable state of one habit as seen by one device.
// Progress and Completed refer to the day identified by DayKey.
type HabitSnapshot struct {
	HabitID        uint
	Name           string
	Description    string
	Icon           string
	FrequencyUnit  string
	FrequencyCount int
	GoalAmount     int
	DayKey         string
	Progress       int
	Archived       bool
	Completed      bool
	UpdatedAt      time.Time
}

// snapshotFields lists every field the resolver knows about, in merge order.
var snapshotFields = []string{
	"name",
	"description",
	"icon",
	"frequency_unit",
	"frequency_count",
	"goal_amount",
	"progress",
	"archived",
	"completed",
}

// snapshotFieldKinds records each known field's value kind; Register consults
// it to refuse rules that cannot apply (keep-max on a string, true-wins on an int).
var snapshotFieldKinds = map[string]string{
	"name":            "string",
	"description":     "string",
	"icon":            "string",
	"frequency_unit":  "string",
	"frequency_count": "int",
	"goal_amount":     "int",
	"progress":        "int",
	"archived":        "bool",
	"completed":       "bool",
}

func ruleApplies(kind string, rule MergeRule) bool {
	switch rule {
	case RuleLastWriteWins:
		return true
	case RuleKeepMax:
		return kind == "int"
	case RuleTrueWins:
		return kind == "bool"
	}
	return false
}

// ConflictResolver merges two divergent habit snapshots field by field.
// Each field resolves through a rule table; callers may override single fields
// via Register without touching the defaults of the rest.
type ConflictResolver struct {
	rules map[string]MergeRule
}

// NewConflictResolver builds a resolver with the default rule table:
// last-write-wins for scalar fields, keep-max for numeric progress/goal
// fields, true-wins for boolean flags.
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{rules: map[string]MergeRule{
		"name":            RuleLastWriteWins,
		"description":     RuleLastWriteWins,
		"icon":            RuleLastWriteWins,
		"frequency_unit":  RuleLastWriteWins,
		"frequency_count": RuleLastWriteWins,
		"goal_amount":     RuleKeepMax,
		"progress":        RuleKeepMax,
		"archived":        RuleTrueWins,
		"completed":       RuleTrueWins,
	}}
}

// Register overrides the rule for a single field. Unknown rule kinds and rules
// that cannot apply to the field's kind are rejected; unknown field names are
// accepted and reported by ValidateRules instead.
func (r *ConflictResolver) Register(field string, rule MergeRule) error {
	switch rule {
	case RuleLastWriteWins, RuleKeepMax, RuleTrueWins:
	default:
		return fmt.Errorf("unknown merge rule %q", rule)
	}

	field = strings.TrimSpace(strings.ToLower(field))
	if field == "" {
		return fmt.Errorf("field name is required")
	}
	if kind, ok := snapshotFieldKinds[field]; ok && !ruleApplies(kind, rule) {
		return fmt.Errorf("rule %q does not apply to %s field %q", rule, kind, field)
	}

	r.rules[field] = rule
	return nil
}

// Resolve merges two snapshots of the same habit into one. The merge is
// deterministic: the same pair always produces the same result.
func (r *ConflictResolver) Resolve(local, remote HabitSnapshot) HabitSnapshot {
	remoteNewer := remote.UpdatedAt.After(local.UpdatedAt)

	merged := local
	merged.Name = r.mergeString("name", local.Name, remote.Name, remoteNewer)
	merged.Description = r.mergeString("description", local.Description, remote.Description, remoteNewer)
	merged.Icon = r.mergeString("icon", local.Icon, remote.Icon, remoteNewer)
	merged.FrequencyUnit = r.mergeString("frequency_unit", local.FrequencyUnit, remote.FrequencyUnit, remoteNewer)
	merged.FrequencyCount = r.mergeInt("frequency_count", local.FrequencyCount, remote.FrequencyCount, remoteNewer)
	merged.GoalAmount = r.mergeInt("goal_amount", local.GoalAmount, remote.GoalAmount, remoteNewer)
	merged.Progress = r.mergeInt("progress", local.Progress, remote.Progress, remoteNewer)
	merged.Archived = r.mergeBool("archived", local.Archived, remote.Archived, remoteNewer)
	merged.Completed = r.mergeBool("completed", local.Completed, remote.Completed, remoteNewer)

	if remoteNewer {
		merged.UpdatedAt = remote.UpdatedAt
	}

	return merged
}

// RulesSummary returns a human-readable listing of the active rules for audit.
func (r *ConflictResolver) RulesSummary() string {
	fields := make([]string, 0, len(r.rules))
	for field := range r.rules {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	for _, field := range fields {
		fmt.Fprintf(&b, "%s: %s\n", field, r.rules[field])
	}
	return b.String()
}

// ValidateRules checks that every known field has exactly one applicable rule.
// Gaps come back as warnings, not errors; callers decide whether they are fatal.
func (r *ConflictResolver) ValidateRules() []string {
	var warnings []string

	known := make(map[string]struct{}, len(snapshotFields))
	for _, field := range snapshotFields {
		known[field] = struct{}{}
		if _, ok := r.rules[field]; !ok {
			warnings = append(warnings, fmt.Sprintf("field %q has no merge rule", field))
		}
	}

	registered := make([]string, 0, len(r.rules))
	for field := range r.rules {
		registered = append(registered, field)
	}
	sort.Strings(registered)
	for _, field := range registered {
		if _, ok := known[field]; !ok {
			warnings = append(warnings, fmt.Sprintf("rule registered for unknown field %q", field))
		}
	}

	return warnings
}

// mergeString resolves as last-write-wins, the only rule Register admits
// for string fields.
func (r *ConflictResolver) mergeString(_, local, remote string, remoteNewer bool) string {
	if remoteNewer {
		return remote
	}
	return local
}

func (r *ConflictResolver) mergeInt(field string, local, remote int, remoteNewer bool) int {
	switch r.rules[field] {
	case RuleKeepMax:
		if remote > local {
			return remote
		}
		return local
	default:
		if remoteNewer {
			return remote
		}
		return local
	}
}

func (r *ConflictResolver) mergeBool(field string, local, remote, remoteNewer bool) bool {
	switch r.rules[field] {
	case RuleTrueWins:
		return local || remote
	default:
		if remoteNewer {
			return remote
		}
		return local
	}
}
