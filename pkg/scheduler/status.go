package scheduler

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	inFlightStyl = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// statusEntry is one row of the in-flight status table.
type statusEntry struct {
	IssueID string
	Step    string
	Started time.Time
}

// StatusTable is a map of issue id -> current step, rendered as a table
// on demand for the supervisor's console output. It has no lock of its
// own; the Scheduler guards every access with its mutex. It never
// drives scheduling decisions; it exists purely for operator visibility.
type StatusTable struct {
	entries map[string]statusEntry
}

func newStatusTable() *StatusTable {
	return &StatusTable{entries: map[string]statusEntry{}}
}

func (s *StatusTable) set(issueID, step string) {
	existing, ok := s.entries[issueID]
	started := time.Now()
	if ok {
		started = existing.Started
	}
	s.entries[issueID] = statusEntry{IssueID: issueID, Step: step, Started: started}
}

func (s *StatusTable) remove(issueID string) {
	delete(s.entries, issueID)
}

// Render writes a table of currently in-flight issues to w.
func (s *StatusTable) Render(w io.Writer) {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("in-flight: %d", len(ids))))
	if len(ids) == 0 {
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Issue", "Step", "Elapsed"})
	for _, id := range ids {
		e := s.entries[id]
		tw.AppendRow(table.Row{
			inFlightStyl.Render(e.IssueID),
			e.Step,
			time.Since(e.Started).Round(time.Second).String(),
		})
	}
	tw.Render()
}
