package rules

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/concilia/internal/model"
)

// DefaultPath is the rules file location inside a project.
const DefaultPath = "rules/reconciliation-rules.yaml"

// File is the on-disk layout of the rule store.
type File struct {
	Rules []model.Rule `yaml:"rules"`
}

// LoadFile reads a rules file. See Parse.
func LoadFile(path string) ([]model.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	return Parse(data)
}

// Parse decodes a rules document and rejects duplicate ids. Individual
// rules are not validated here: a hand-edited rule with a bad pattern is
// reported by Compile and skipped, so the rest of the set stays usable.
func Parse(data []byte) ([]model.Rule, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if err := checkIDs(f.Rules); err != nil {
		return nil, err
	}
	return f.Rules, nil
}

func checkIDs(rules []model.Rule) error {
	seen := make(map[int]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %d", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// Check validates each rule and rejects duplicate ids.
func Check(rules []model.Rule) error {
	if err := checkIDs(rules); err != nil {
		return err
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("validating rules: %w", err)
		}
	}
	return nil
}

// SaveFile validates rules and writes them to path.
func SaveFile(path string, rules []model.Rule) error {
	if err := Check(rules); err != nil {
		return err
	}
	data, err := yaml.Marshal(File{Rules: rules})
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing rules: %w", err)
	}
	return nil
}

// PriorityStep is the gap Renumber leaves between adjacent priorities.
const PriorityStep = 10

// Renumber turns an explicit ordering into priorities. The ids in order come
// first, in the given order; the remaining rules follow in their current
// evaluation order. Priorities are reassigned from the top down in steps of
// PriorityStep so that every rule gets a distinct value.
func Renumber(rules []model.Rule, order []int) ([]model.Rule, error) {
	byID := make(map[int]int, len(rules))
	for i, r := range rules {
		byID[r.ID] = i
	}

	placed := make(map[int]bool, len(order))
	seq := make([]int, 0, len(rules))
	for _, id := range order {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("unknown rule id %d", id)
		}
		if placed[id] {
			return nil, fmt.Errorf("rule id %d listed twice", id)
		}
		placed[id] = true
		seq = append(seq, byID[id])
	}

	rest := make([]int, 0, len(rules)-len(order))
	for i, r := range rules {
		if !placed[r.ID] {
			rest = append(rest, i)
		}
	}
	sort.SliceStable(rest, func(a, b int) bool {
		ra, rb := rules[rest[a]], rules[rest[b]]
		if ra.Priority != rb.Priority {
			return ra.Priority > rb.Priority
		}
		return ra.ID < rb.ID
	})
	seq = append(seq, rest...)

	out := make([]model.Rule, len(rules))
	copy(out, rules)
	for rank, i := range seq {
		out[i].Priority = (len(seq) - rank) * PriorityStep
	}
	return out, nil
}
