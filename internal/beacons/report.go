package beacons

import (
	"time"

	"redelk/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// PrintList renders the active beacons table.
func PrintList(p *ui.Printer, list []Beacon, window time.Duration) {
	p.Info("Active Beacons (last %s)", window)
	if len(list) == 0 {
		p.Subtle("  no beacons checked in")
		return
	}
	rows := make([][]string, 0, len(list))
	for _, b := range list {
		rows = append(rows, []string{
			b.ID, orDash(b.Hostname), orDash(b.User), orDash(b.InternalIP), orDash(b.Program), stamp(b.LastSeen),
		})
	}
	p.Table([]string{"Beacon ID", "Hostname", "User", "Internal IP", "C2", "Last Seen (UTC)"}, rows)
	p.Success("%d active beacons", len(list))
}

// PrintDetails renders everything known about one beacon.
func PrintDetails(p *ui.Printer, b Beacon) {
	p.Panel("Beacon Details",
		"Beacon ID: "+b.ID,
		"Hostname: "+orDash(b.Hostname),
		"User: "+orDash(b.User),
		"Internal IP: "+orDash(b.InternalIP),
		"External IP: "+orDash(b.ExternalIP),
		"Process: "+orDash(b.Process),
		"C2: "+orDash(b.Program),
		"Infrastructure: "+orDash(b.Infra),
		"First Seen: "+stamp(b.FirstSeen),
		"Last Seen: "+stamp(b.LastSeen),
	)
}

// PrintCommands renders the recent operator inputs of a beacon.
func PrintCommands(p *ui.Printer, id string, cmds []Command) {
	p.Info("Recent Commands for %s", id)
	if len(cmds) == 0 {
		p.Subtle("  no commands recorded")
		return
	}
	rows := make([][]string, 0, len(cmds))
	for _, c := range cmds {
		rows = append(rows, []string{stamp(c.Time), orDash(c.Operator), orDash(c.Command), c.Message})
	}
	p.Table([]string{"Time (UTC)", "Operator", "Command", "Message"}, rows)
}

// PrintMatches renders the records that mention an indicator.
func PrintMatches(p *ui.Printer, term string, matches []Match) {
	p.Info("Searching for IOC: %s", term)
	p.Info("Found %d matches", len(matches))
	for _, m := range matches {
		p.Info("  Beacon: %s  Host: %s  %s  %s", orDash(m.BeaconID), orDash(m.Hostname), stamp(m.Time), m.Message)
	}
}
