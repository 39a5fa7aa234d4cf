package backlog

import (
	"regexp"
	"sort"
	"strconv"
)

// Dependency parsing is heuristic text matching over the item body, kept
// isolated here so the pattern list can evolve without touching scheduling
// control flow. PatternVersion identifies the pattern set in force; bump it
// whenever the list below changes.
const PatternVersion = 1

// Recognized forms, case-insensitive, each tolerating multiple
// comma-separated references ("Depends on #12, #13"):
//
//	depends on #N      blocked by #N       dependencies: #N
//	requires #N        must complete #N    needs #N
var dependencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)depends?\s+on[:\s]+[#\s]*(\d+(?:\s*,\s*#?\s*\d+)*)`),
	regexp.MustCompile(`(?im)blocked\s+by[:\s]+[#\s]*(\d+(?:\s*,\s*#?\s*\d+)*)`),
	regexp.MustCompile(`(?im)dependenc(?:y|ies)[:\s]+[#\s]*(\d+(?:\s*,\s*#?\s*\d+)*)`),
	regexp.MustCompile(`(?im)requires?[:\s]+[#\s]*(\d+(?:\s*,\s*#?\s*\d+)*)`),
	regexp.MustCompile(`(?im)must\s+complete[:\s]+[#\s]*(\d+(?:\s*,\s*#?\s*\d+)*)`),
	regexp.MustCompile(`(?im)needs?[:\s]+[#\s]*(\d+(?:\s*,\s*#?\s*\d+)*)`),
}

var numberPattern = regexp.MustCompile(`\d+`)

// ExtractDependencies parses declared dependency numbers from free-text.
// References found by multiple patterns are deduplicated; the result is
// sorted ascending. Text without any recognized pattern yields nil.
func ExtractDependencies(body string) []int {
	if body == "" {
		return nil
	}

	seen := make(map[int]bool)
	for _, pattern := range dependencyPatterns {
		for _, match := range pattern.FindAllStringSubmatch(body, -1) {
			for _, num := range numberPattern.FindAllString(match[1], -1) {
				n, err := strconv.Atoi(num)
				if err != nil {
					continue
				}
				seen[n] = true
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}
	deps := make([]int, 0, len(seen))
	for n := range seen {
		deps = append(deps, n)
	}
	sort.Ints(deps)
	return deps
}
