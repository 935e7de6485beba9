// Package choice detects enumerated option lists in agent output and
// resolves a single human selection through reaction affordances.
package choice

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// MinChoices and MaxChoices bound a usable choice set. Outside the
	// range the response is treated as plain text.
	MinChoices = 2
	MaxChoices = 9
)

// Matches "1. text", "1) text", "**1.** text", "- 1. text" and the like.
var numberedLine = regexp.MustCompile(`^\s*(?:[-*]\s*)?(?:\*{0,2})(\d+)[.)]\*{0,2}\s+(.+)$`)

// Parse extracts the last contiguous sequentially-numbered block from a
// response. Blocks restart when numbering breaks or a non-matching non-blank
// line interrupts; blank lines inside a block are ignored. Returns nil when
// the last block has fewer than MinChoices or more than MaxChoices entries.
func Parse(text string) []string {
	var blocks [][]string
	var current []string
	expected := 1

	flush := func() {
		if len(current) >= MinChoices {
			blocks = append(blocks, current)
		}
		current = nil
		expected = 1
	}

	for _, line := range strings.Split(text, "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			if strings.TrimSpace(line) == "" && len(current) > 0 {
				continue
			}
			flush()
			continue
		}

		num, err := strconv.Atoi(m[1])
		if err != nil {
			flush()
			continue
		}

		switch {
		case num == expected:
			current = append(current, strings.TrimSpace(m[2]))
			expected++
		case num == 1:
			// A fresh "1." while mid-block starts a new list.
			flush()
			current = []string{strings.TrimSpace(m[2])}
			expected = 2
		default:
			flush()
		}
	}
	flush()

	if len(blocks) == 0 {
		return nil
	}

	last := dedupe(blocks[len(blocks)-1])
	if len(last) < MinChoices || len(last) > MaxChoices {
		return nil
	}
	return last
}

// dedupe removes repeated options, keeping first occurrences in order.
func dedupe(options []string) []string {
	seen := make(map[string]bool, len(options))
	out := options[:0:0]
	for _, opt := range options {
		if seen[opt] {
			continue
		}
		seen[opt] = true
		out = append(out, opt)
	}
	return out
}
