// Package feeds downloads public threat-intelligence IP lists and turns
// them into the files and the translate dictionary Logstash reads.
package feeds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"redelk/internal/layout"
	"redelk/internal/version"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DictionaryFile is the Logstash translate dictionary written next to the lists.
const DictionaryFile = "threat-feeds.yml"

const maxFeedSize = 32 << 20

// Feed is one downloadable list.
type Feed struct {
	Name string
	File string
	URLs []string
	// Dictionary adds the feed's single addresses to threat-feeds.yml.
	Dictionary bool
}

// DefaultFeeds are the lists RedELK tracks.
func DefaultFeeds() []Feed {
	return []Feed{
		{
			Name:       "tor-exit-nodes",
			File:       "tor-exit-nodes.txt",
			URLs:       []string{"https://check.torproject.org/torbulkexitlist"},
			Dictionary: true,
		},
		{
			Name:       "feodo-tracker",
			File:       "feodo-tracker.txt",
			URLs:       []string{"https://feodotracker.abuse.ch/downloads/ipblocklist.txt"},
			Dictionary: true,
		},
		{
			Name:       "emerging-threats",
			File:       "compromised-ips.txt",
			URLs:       []string{"https://rules.emergingthreats.net/blockrules/compromised-ips.txt"},
			Dictionary: true,
		},
		{
			Name:       "talos-reputation",
			File:       "talos-reputation.txt",
			URLs:       []string{"https://www.talosintelligence.com/documents/ip-blacklist"},
			Dictionary: true,
		},
		{
			Name: "cdn-ranges",
			File: "cdn-ip-lists.txt",
			URLs: []string{
				"https://www.cloudflare.com/ips-v4",
				"https://www.cloudflare.com/ips-v6",
				"https://api.fastly.com/public-ip-list",
			},
		},
	}
}

// Outcome reports what happened to one feed.
type Outcome struct {
	Feed    string
	Entries int
	Err     error
}

// Updater fetches feeds into Dir.
type Updater struct {
	Client   *http.Client
	Dir      string
	Feeds    []Feed
	Attempts uint
	Delay    time.Duration
	MaxSize  int64 // largest accepted feed body in bytes
	Logger   *logrus.Entry
}

func (u *Updater) defaults() {
	if u.Client == nil {
		u.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if u.Feeds == nil {
		u.Feeds = DefaultFeeds()
	}
	if u.Attempts == 0 {
		u.Attempts = 3
	}
	if u.Delay == 0 {
		u.Delay = 2 * time.Second
	}
	if u.MaxSize == 0 {
		u.MaxSize = maxFeedSize
	}
	if u.Logger == nil {
		u.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
}

// Update refreshes every feed and rewrites the dictionary. A failing feed
// keeps its previous file; the others continue.
func (u *Updater) Update(ctx context.Context) ([]Outcome, error) {
	u.defaults()
	if err := os.MkdirAll(u.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create feed directory: %w", err)
	}

	var outcomes []Outcome
	for _, f := range u.Feeds {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		n, err := u.updateFeed(ctx, f)
		if err != nil {
			u.Logger.Warnf("feed %s: %v", f.Name, err)
		} else {
			u.Logger.Infof("feed %s: %d entries", f.Name, n)
		}
		outcomes = append(outcomes, Outcome{Feed: f.Name, Entries: n, Err: err})
	}

	if err := u.WriteDictionary(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (u *Updater) updateFeed(ctx context.Context, f Feed) (int, error) {
	var all []netip.Prefix
	for _, url := range f.URLs {
		body, err := u.fetch(ctx, url)
		if err != nil {
			return 0, err
		}
		entries, err := Parse(strings.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", url, err)
		}
		all = append(all, entries...)
	}
	if len(all) == 0 {
		return 0, fmt.Errorf("no valid entries")
	}
	entries := Normalize(all)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s updated %s\n", f.Name, time.Now().UTC().Format(time.RFC3339))
	for _, p := range entries {
		b.WriteString(Format(p) + "\n")
	}
	if err := layout.WriteFileAtomic(filepath.Join(u.Dir, f.File), []byte(b.String()), 0644); err != nil {
		return 0, fmt.Errorf("write %s: %w", f.File, err)
	}
	return len(entries), nil
}

func (u *Updater) fetch(ctx context.Context, url string) (string, error) {
	var body string
	err := retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("User-Agent", "redelk-feeds/"+version.Version)
		resp, err := u.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("GET %s: %s", url, resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(err)
			}
			return err
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, u.MaxSize+1))
		if err != nil {
			return fmt.Errorf("read %s: %w", url, err)
		}
		if int64(len(data)) > u.MaxSize {
			return retry.Unrecoverable(fmt.Errorf("GET %s: body exceeds %d bytes", url, u.MaxSize))
		}
		body = string(data)
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(u.Attempts),
		retry.Delay(u.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return body, err
}

// Parse extracts addresses and CIDR ranges. Comments (# or ;) are
// stripped and any field that is not an address or prefix is ignored, so
// plain lists, CSV and simple JSON arrays all work.
func Parse(r io.Reader) ([]netip.Prefix, error) {
	var out []netip.Prefix
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexAny(line, "#;"); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ',' || r == '"' || r == '[' || r == ']'
		})
		for _, field := range fields {
			if p, ok := parseEntry(field); ok {
				out = append(out, p)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseEntry(s string) (netip.Prefix, bool) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, false
		}
		return p.Masked(), true
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, false
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), true
}

// Normalize sorts entries and drops duplicates.
func Normalize(in []netip.Prefix) []netip.Prefix {
	out := append([]netip.Prefix(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Addr().Compare(out[j].Addr()); c != 0 {
			return c < 0
		}
		return out[i].Bits() < out[j].Bits()
	})
	n := 0
	for i, p := range out {
		if i > 0 && p == out[n-1] {
			continue
		}
		out[n] = p
		n++
	}
	return out[:n]
}

// Format prints single hosts without a prefix length.
func Format(p netip.Prefix) string {
	if p.IsSingleIP() {
		return p.Addr().String()
	}
	return p.String()
}

// WriteDictionary builds threat-feeds.yml from the list files currently
// on disk. An address listed by several feeds maps to all their names.
func (u *Updater) WriteDictionary() error {
	u.defaults()
	dict := make(map[string]string)
	for _, f := range u.Feeds {
		if !f.Dictionary {
			continue
		}
		file, err := os.Open(filepath.Join(u.Dir, f.File))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("open %s: %w", f.File, err)
		}
		entries, err := Parse(file)
		file.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.File, err)
		}
		for _, p := range entries {
			if !p.IsSingleIP() {
				continue
			}
			ip := p.Addr().String()
			if prev, ok := dict[ip]; ok {
				dict[ip] = prev + "," + f.Name
			} else {
				dict[ip] = f.Name
			}
		}
	}

	data, err := yaml.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshal dictionary: %w", err)
	}
	if err := layout.WriteFileAtomic(filepath.Join(u.Dir, DictionaryFile), data, 0644); err != nil {
		return fmt.Errorf("write dictionary: %w", err)
	}
	return nil
}
