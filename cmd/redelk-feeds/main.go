// Command redelk-feeds refreshes the threat-intelligence IP lists and the
// dictionary the Logstash pipeline uses to tag known-bad sources.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"redelk/internal/app"
	"redelk/internal/config"
	"redelk/internal/feeds"
	"redelk/internal/layout"
	"redelk/internal/ui"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(app.Execute(newCommand()))
}

func newCommand() *cobra.Command {
	var (
		opts     app.Options
		dir      string
		only     []string
		attempts uint
		timeout  time.Duration
	)

	cmd := app.NewRoot("redelk-feeds", "Update the RedELK threat-feed lists", &opts)
	cmd.Args = cobra.NoArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		settings, logger, err := app.Setup(cmd, &opts, "feeds")
		if err != nil {
			return err
		}
		if dir == "" {
			// Cron runs without flags; REDELK_PATH in .env or the
			// environment points at the checkout.
			env := config.NewEnvLoader(settings.BaseDir)
			base := env.Value(config.PathEnv, env.Base())
			dir = layout.New(base).ThreatFeedsDir()
		}

		selected, err := selectFeeds(only)
		if err != nil {
			return err
		}

		u := &feeds.Updater{
			Dir:      dir,
			Feeds:    selected,
			Attempts: attempts,
			Logger:   logger,
		}
		if timeout > 0 {
			u.Client = &http.Client{Timeout: timeout}
		}
		outcomes, err := u.Update(cmd.Context())
		if err != nil {
			return err
		}

		p := ui.New(cmd.OutOrStdout())
		rows := make([][]string, 0, len(outcomes))
		failed := 0
		for _, o := range outcomes {
			status := p.Badge("PASS")
			detail := strconv.Itoa(o.Entries) + " entries"
			if o.Err != nil {
				failed++
				status = p.Badge("FAIL")
				detail = o.Err.Error()
			}
			rows = append(rows, []string{o.Feed, status, detail})
		}
		p.Table([]string{"Feed", "Status", "Details"}, rows)
		p.Subtle("Lists written to %s", dir)

		if failed > 0 {
			return fmt.Errorf("%d of %d feeds failed to update", failed, len(outcomes))
		}
		p.Success("Threat feeds updated")
		return nil
	}

	f := cmd.Flags()
	f.StringVar(&dir, "dir", "", "output directory (default elkserver/logstash/threat-feeds)")
	f.StringSliceVar(&only, "feed", nil, "update only these feeds")
	f.UintVar(&attempts, "attempts", 3, "download attempts per URL")
	f.DurationVar(&timeout, "timeout", 60*time.Second, "HTTP timeout per request")
	return cmd
}

func selectFeeds(names []string) ([]feeds.Feed, error) {
	all := feeds.DefaultFeeds()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]feeds.Feed, len(all))
	for _, f := range all {
		byName[f.Name] = f
	}
	out := make([]feeds.Feed, 0, len(names))
	for _, n := range names {
		f, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown feed %q", n)
		}
		out = append(out, f)
	}
	return out, nil
}
