// Package extract pulls structured JSON records out of free-form agent
// output. Backends that cannot emit clean JSON envelopes interleave prose,
// markdown, and tool chatter with the record the loop needs; this package
// finds that record.
//
// Two strategies run in order: fenced ```json blocks first, then balanced
// brace scanning over raw lines. The first candidate that parses as a JSON
// object wins. Absence of a record is not an error.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencedJSONPattern matches ```json ... ``` blocks, non-greedy across lines.
var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")

// FirstJSON extracts the first valid JSON object from mixed text output.
//
// Fenced ```json blocks are tried before balanced-brace blocks, and within
// each strategy the first candidate that parses to an object is returned.
// JSON arrays and scalars are not records and are skipped. Returns nil when
// the output contains no valid JSON object.
func FirstJSON(output string) map[string]any {
	if strings.TrimSpace(output) == "" {
		return nil
	}

	if record := fromFencedBlocks(output); record != nil {
		return record
	}
	return fromBalancedBraces(output)
}

// fromFencedBlocks scans markdown ```json fences in order and returns the
// first one that parses to an object.
func fromFencedBlocks(output string) map[string]any {
	for _, match := range fencedJSONPattern.FindAllStringSubmatch(output, -1) {
		var record map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(match[1])), &record); err != nil {
			continue
		}
		if record != nil {
			return record
		}
	}
	return nil
}

// fromBalancedBraces collects brace-balanced blocks from raw lines and
// returns the first one that parses to an object.
func fromBalancedBraces(output string) map[string]any {
	for _, block := range collectBraceBlocks(strings.Split(strings.TrimSpace(output), "\n")) {
		var record map[string]any
		if err := json.Unmarshal([]byte(strings.Join(block, "\n")), &record); err != nil {
			continue
		}
		if record != nil {
			return record
		}
	}
	return nil
}

// collectBraceBlocks gathers candidate blocks: each starts at a line whose
// trimmed form opens with "{" and ends where the running brace depth returns
// to zero. Brace counting is textual, so braces inside string literals can
// truncate a block early; such blocks simply fail to parse and are skipped.
func collectBraceBlocks(lines []string) [][]string {
	var blocks [][]string
	var current []string
	depth := 0

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		switch {
		case depth == 0 && strings.HasPrefix(stripped, "{"):
			depth = strings.Count(stripped, "{") - strings.Count(stripped, "}")
			current = []string{line}
			if depth == 0 {
				blocks = append(blocks, current)
				current = nil
			}
		case depth > 0:
			current = append(current, line)
			depth += strings.Count(stripped, "{") - strings.Count(stripped, "}")
			if depth <= 0 {
				blocks = append(blocks, current)
				current = nil
				depth = 0
			}
		}
	}

	return blocks
}
