package graph

import (
	"strconv"
	"strings"
)

// Violation is one failed compiler check.
type Violation struct {
	Node    string
	Message string
}

// CompileError aggregates every violation found while compiling a
// lifecycle document into a single fatal error, per the rule that the
// process must not start with an invalid graph.
type CompileError struct {
	Violations []Violation
}

func (e *CompileError) Error() string {
	lines := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Node != "" {
			lines = append(lines, v.Node+": "+v.Message)
		} else {
			lines = append(lines, v.Message)
		}
	}
	return "invalid lifecycle graph (" + strconv.Itoa(len(e.Violations)) + " violations):\n  " + strings.Join(lines, "\n  ")
}
