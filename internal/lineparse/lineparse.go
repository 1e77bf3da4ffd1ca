// Package lineparse classifies raw bluetoothctl output lines. The terminal
// channel is noisy: prompts, status chatter, and ANSI color codes are
// interleaved with device announcements. Parsing is a pure two-stage
// function (strip, then match) so it is testable without a live process.
package lineparse

import (
	"regexp"
	"strings"

	"bluescan/internal/observation"
)

// ansiPattern matches CSI-style escape sequences such as \x1b[0;94m.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

// devicePattern matches a device announcement: an optional [NEW]/[CHG] tag,
// the literal token Device, a strict 17-character colon-hex address, and an
// optional trailing name.
var devicePattern = regexp.MustCompile(
	`(?:\[(?:NEW|CHG)\]\s+)?Device\s+([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})(?:\s+(.+))?$`,
)

// Clean strips ANSI escape sequences and the \x01/\x02 markers bluetoothctl
// wraps around its prompt, then trims surrounding whitespace.
func Clean(line string) string {
	cleaned := ansiPattern.ReplaceAllString(line, "")
	cleaned = strings.ReplaceAll(cleaned, "\x01", "")
	cleaned = strings.ReplaceAll(cleaned, "\x02", "")
	return strings.TrimSpace(cleaned)
}

// Parse cleans one raw line and classifies it. It returns the observation
// and true for a device announcement, or false for any other line.
// Unrecognized lines are expected, not errors.
func Parse(line string) (observation.Partial, bool) {
	m := devicePattern.FindStringSubmatch(Clean(line))
	if m == nil {
		return observation.Partial{}, false
	}

	addr := m[1]
	return observation.Partial{
		Identity: addr,
		Address:  addr,
		Name:     strings.TrimSpace(m[2]),
	}, true
}
