package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/icm/internal/execlog"
)

// AssertionError is returned when an assertion fails.
// It includes the log for debugging context.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Entries  []execlog.Entry // Full log for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nExecution log:\n")
	for i, entry := range e.Entries {
		who := ""
		if entry.ParticipantID != "" {
			who = " [" + entry.ParticipantID + "]"
		}
		fmt.Fprintf(&buf, "  [%d] %s %s%s: %s\n", i+1, entry.Level, entry.Category, who, entry.Message)
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var entries []execlog.Entry
	if result.Log != nil {
		entries = result.Log.Entries
	}

	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertLogContains:
			err = assertLogContains(entries, a)
		case AssertLogOrder:
			err = assertLogOrder(entries, a)
		case AssertLogCount:
			err = assertLogCount(entries, a)
		case AssertPersisted:
			err = assertPersisted(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

// matches reports whether entry satisfies the assertion's category, level
// and participant filters. Empty filters match anything.
func matches(entry execlog.Entry, a Assertion) bool {
	if a.Category != "" && entry.Category != a.Category {
		return false
	}
	if a.Level != "" && string(entry.Level) != a.Level {
		return false
	}
	if a.Participant != "" && entry.ParticipantID != a.Participant {
		return false
	}
	return true
}

func describe(a Assertion) string {
	parts := []string{}
	if a.Category != "" {
		parts = append(parts, "category "+a.Category)
	}
	if a.Level != "" {
		parts = append(parts, "level "+a.Level)
	}
	if a.Participant != "" {
		parts = append(parts, "participant "+a.Participant)
	}
	return strings.Join(parts, ", ")
}

// assertLogContains checks that at least one entry matches.
func assertLogContains(entries []execlog.Entry, a Assertion) error {
	for _, entry := range entries {
		if matches(entry, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertLogContains,
		Expected: "entry with " + describe(a),
		Actual:   "not found in log",
		Entries:  entries,
	}
}

// assertLogOrder checks that categories first appear in the given order.
// Other entries may appear in between.
func assertLogOrder(entries []execlog.Entry, a Assertion) error {
	positions := make(map[string]int)
	for i, entry := range entries {
		if a.Participant != "" && entry.ParticipantID != a.Participant {
			continue
		}
		if _, seen := positions[entry.Category]; !seen {
			positions[entry.Category] = i + 1
		}
	}

	for _, category := range a.Categories {
		if positions[category] == 0 {
			return &AssertionError{
				Type:     AssertLogOrder,
				Expected: fmt.Sprintf("all categories present: %v", a.Categories),
				Actual:   fmt.Sprintf("missing category: %s", category),
				Entries:  entries,
			}
		}
	}

	for i := 1; i < len(a.Categories); i++ {
		prev, curr := a.Categories[i-1], a.Categories[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertLogOrder,
				Expected: fmt.Sprintf("categories in order: %v", a.Categories),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Entries: entries,
			}
		}
	}
	return nil
}

// assertLogCount checks the exact number of matching entries.
func assertLogCount(entries []execlog.Entry, a Assertion) error {
	count := 0
	for _, entry := range entries {
		if matches(entry, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertLogCount,
			Expected: fmt.Sprintf("%d entries with %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d entries", count),
			Entries:  entries,
		}
	}
	return nil
}

// assertPersisted checks how many results reached the plan store. A
// positive count also requires the plan to have been marked executed.
func assertPersisted(result *Result, a Assertion) error {
	if len(result.Saved) != a.Count {
		return fmt.Errorf("expected %d saved result(s), got %d", a.Count, len(result.Saved))
	}
	if a.Count == 0 && len(result.Marked) > 0 {
		return fmt.Errorf("expected plan not marked executed, marked %v", result.Marked)
	}
	if a.Count > 0 && len(result.Marked) == 0 {
		return fmt.Errorf("expected plan marked executed")
	}
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
