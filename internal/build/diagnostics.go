package build

import (
	"regexp"
	"strings"
)

var diagnosticLine = regexp.MustCompile(`^\S+\.go:\d+(:\d+)?: `)

// DiagnosticLines counts compiler messages of the form file.go:line:col: in
// output.
func DiagnosticLines(output string) int {
	count := 0
	for _, line := range strings.Split(output, "\n") {
		if diagnosticLine.MatchString(strings.TrimSpace(line)) {
			count++
		}
	}
	return count
}
