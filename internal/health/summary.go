package health

import (
	"encoding/json"
	"fmt"
	"io"

	"redelk/internal/ui"
)

// Level is the overall verdict; its value is the process exit code.
type Level int

const (
	OK Level = iota
	Warning
	Critical
	Unknown
)

func (l Level) String() string {
	switch l {
	case OK:
		return "OK"
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// MarshalText renders the level name in JSON.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Summary aggregates a set of results.
type Summary struct {
	Healthy int   `json:"healthy"`
	Total   int   `json:"total"`
	Level   Level `json:"level"`
}

// Summarize applies the thresholds: all healthy is OK, more than half is
// a warning, anything less is critical.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Healthy() {
			s.Healthy++
		}
	}
	switch {
	case s.Healthy == s.Total:
		s.Level = OK
	case s.Healthy*2 > s.Total:
		s.Level = Warning
	default:
		s.Level = Critical
	}
	return s
}

// Nagios renders the single monitoring line.
func (s Summary) Nagios() string {
	perf := fmt.Sprintf("healthy=%d;%d;0;0;%d", s.Healthy, s.Total, s.Total)
	switch s.Level {
	case OK:
		return fmt.Sprintf("OK - All %d services healthy | %s", s.Total, perf)
	case Warning:
		return fmt.Sprintf("WARNING - %d/%d services healthy | %s", s.Healthy, s.Total, perf)
	}
	return fmt.Sprintf("CRITICAL - Only %d/%d services healthy | %s", s.Healthy, s.Total, perf)
}

// NagiosUnknown is printed when the checks could not run at all.
func NagiosUnknown(err error) string {
	return "UNKNOWN - " + err.Error()
}

type report struct {
	Summary  Summary  `json:"summary"`
	Services []Result `json:"services"`
}

// WriteJSON writes the summary and every result as an indented document.
func WriteJSON(w io.Writer, results []Result) error {
	if results == nil {
		results = []Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report{Summary: Summarize(results), Services: results}); err != nil {
		return fmt.Errorf("encode health report: %w", err)
	}
	return nil
}

// WriteUnknownJSON reports a run that could not check anything.
func WriteUnknownJSON(w io.Writer, cause error) error {
	doc := struct {
		Level Level  `json:"level"`
		Error string `json:"error"`
	}{Unknown, cause.Error()}
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("encode health report: %w", err)
	}
	return nil
}

// WriteTable prints the results table and the summary line.
func WriteTable(p *ui.Printer, results []Result) Summary {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		health := r.Health
		if health == "none" {
			health = "no check"
		}
		rows = append(rows, []string{r.Name, r.Status, health, r.CheckText()})
	}
	p.Info("RedELK Health Check Results")
	p.Table([]string{"Service", "Container Status", "Docker Health", "Service Check"}, rows)

	s := Summarize(results)
	switch s.Level {
	case OK:
		p.Success("All services healthy (%d/%d)", s.Healthy, s.Total)
	case Warning:
		p.Warn("Some services unhealthy (%d/%d)", s.Healthy, s.Total)
	default:
		p.Fail("Multiple services unhealthy (%d/%d)", s.Healthy, s.Total)
	}
	return s
}
