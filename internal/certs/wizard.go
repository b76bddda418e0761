package certs

import (
	"context"
	"strings"

	"redelk/internal/prompt"
)

// Wizard asks for the server address, subject and extra SAN entries,
// offering the values already in r as defaults.
func Wizard(ctx context.Context, pr *prompt.Prompter, r Request) (Request, error) {
	r = r.withDefaults()
	var err error

	def := r.Address
	if def == "" {
		def = DetectAddress()
	}
	if r.Address, err = pr.Ask(ctx, "Server IP or domain", def); err != nil {
		return r, err
	}

	s := &r.Subject
	fields := []struct {
		question string
		value    *string
	}{
		{"Country (2 letters)", &s.Country},
		{"State/Province", &s.State},
		{"City", &s.City},
		{"Organization", &s.Org},
		{"Organizational Unit", &s.OrgUnit},
		{"Email", &s.Email},
	}
	for _, f := range fields {
		if *f.value, err = pr.Ask(ctx, f.question, *f.value); err != nil {
			return r, err
		}
	}

	more, err := pr.Confirm(ctx, "Add additional DNS names or IPs?", len(r.Additional) > 0)
	if err != nil {
		return r, err
	}
	if more {
		answer, err := pr.Ask(ctx, "Additional names (comma-separated)", strings.Join(r.Additional, ","))
		if err != nil {
			return r, err
		}
		r.Additional = splitList(answer)
	}
	return r, r.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
