package testrun

import (
	"strings"

	"github.com/msageha/relcycle/internal/model"
)

// Test procedures report per-test lines of the form
//
//	TEST <name> PASS|FAIL|ERROR|SKIP
//
// optionally followed by indented detail lines (four spaces or a tab)
// that attach to the preceding test. Everything else is ignored.
const resultLinePrefix = "TEST "

var statusWords = map[string]model.TestStatus{
	"PASS":  model.TestStatusPass,
	"FAIL":  model.TestStatusFail,
	"ERROR": model.TestStatusError,
	"SKIP":  model.TestStatusSkipped,
}

// ParseOutput extracts per-test outcomes from raw procedure output.
func ParseOutput(output string) []model.TestOutcome {
	var outcomes []model.TestOutcome
	var detail []string

	flush := func() {
		if len(outcomes) == 0 || len(detail) == 0 {
			detail = nil
			return
		}
		outcomes[len(outcomes)-1].Output = strings.Join(detail, "\n")
		detail = nil
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimRight(line, "\r")

		if strings.HasPrefix(trimmed, "    ") || strings.HasPrefix(trimmed, "\t") {
			if len(outcomes) > 0 {
				detail = append(detail, strings.TrimLeft(trimmed, " \t"))
			}
			continue
		}
		flush()

		if !strings.HasPrefix(trimmed, resultLinePrefix) {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 3 {
			continue
		}
		status, ok := statusWords[fields[len(fields)-1]]
		if !ok {
			continue
		}
		name := strings.Join(fields[1:len(fields)-1], " ")
		outcomes = append(outcomes, model.TestOutcome{Name: name, Status: status})
	}
	flush()

	return outcomes
}
