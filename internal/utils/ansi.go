// Package utils holds small text helpers shared by the terminal views.
package utils

import (
	"regexp"
	"strings"
)

// CSI sequences plus OSC sequences terminated by BEL or ST.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// SanitizeForTerminal makes text received from other applications safe to
// print: escape sequences and control characters other than newline and tab
// are dropped.
func SanitizeForTerminal(s string) string {
	s = StripANSI(s)
	return strings.Map(func(r rune) rune {
		if (r < 0x20 && r != '\n' && r != '\t') || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// OneLine sanitizes s and folds all whitespace runs into single spaces.
func OneLine(s string) string {
	return strings.Join(strings.Fields(SanitizeForTerminal(s)), " ")
}
