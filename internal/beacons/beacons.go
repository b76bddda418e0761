// Package beacons answers operator questions about implants from the
// rtops indices: which beacons are checking in, what is known about one
// of them and which commands were issued to it.
package beacons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"redelk/internal/elastic"
)

// DefaultIndex matches every daily rtops index.
const DefaultIndex = "rtops-*"

// DefaultWindow is how recently a beacon must have been seen to count as active.
const DefaultWindow = 24 * time.Hour

const maxBeacons = 500

// ErrNotFound is returned when no record carries the requested beacon id.
var ErrNotFound = errors.New("beacon not found")

// Searcher runs a query against an index pattern.
type Searcher interface {
	Search(ctx context.Context, index string, query any, out any) error
}

// Beacon is the latest known state of one implant.
type Beacon struct {
	ID         string
	Hostname   string
	User       string
	InternalIP string
	ExternalIP string
	Process    string
	Program    string
	Infra      string
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
}

// Command is one operator input sent to a beacon.
type Command struct {
	Time     time.Time
	Operator string
	Command  string
	Message  string
}

// Match is one record that mentions a searched indicator.
type Match struct {
	Time     time.Time
	BeaconID string
	Hostname string
	Type     string
	Message  string
}

// Manager queries beacon activity.
type Manager struct {
	ES     Searcher
	Index  string
	Window time.Duration
}

func (m *Manager) index() string {
	if m.Index == "" {
		return DefaultIndex
	}
	return m.Index
}

func (m *Manager) window() time.Duration {
	if m.Window <= 0 {
		return DefaultWindow
	}
	return m.Window
}

// document is the part of an rtops record we read.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	Beacon    struct {
		ID         string `json:"id"`
		Hostname   string `json:"hostname"`
		User       string `json:"user"`
		InternalIP string `json:"internal_ip"`
		ExternalIP string `json:"external_ip"`
		Process    string `json:"process"`
		Command    string `json:"command"`
	} `json:"beacon"`
	C2 struct {
		Program  string `json:"program"`
		Operator string `json:"operator"`
		Message  string `json:"message"`
		Log      struct {
			Type string `json:"type"`
		} `json:"log"`
	} `json:"c2"`
	Infra struct {
		Name string `json:"name"`
	} `json:"infra"`
}

func (d document) beacon() Beacon {
	return Beacon{
		ID:         d.Beacon.ID,
		Hostname:   d.Beacon.Hostname,
		User:       d.Beacon.User,
		InternalIP: d.Beacon.InternalIP,
		ExternalIP: d.Beacon.ExternalIP,
		Process:    d.Beacon.Process,
		Program:    d.C2.Program,
		Infra:      d.Infra.Name,
		LastSeen:   d.Timestamp,
	}
}

type hits struct {
	Total struct {
		Value int `json:"value"`
	} `json:"total"`
	Hits []struct {
		Source document `json:"_source"`
	} `json:"hits"`
}

type searchResponse struct {
	Hits         hits `json:"hits"`
	Aggregations struct {
		Beacons struct {
			Buckets []struct {
				Key      string `json:"key"`
				DocCount int    `json:"doc_count"`
				Latest   struct {
					Hits hits `json:"hits"`
				} `json:"latest"`
				FirstSeen struct {
					ValueAsString string `json:"value_as_string"`
				} `json:"first_seen"`
			} `json:"buckets"`
		} `json:"beacons"`
		FirstSeen struct {
			ValueAsString string `json:"value_as_string"`
		} `json:"first_seen"`
	} `json:"aggregations"`
}

func (m *Manager) search(ctx context.Context, query map[string]any) (*searchResponse, error) {
	var resp searchResponse
	if err := m.ES.Search(ctx, m.index(), query, &resp); err != nil {
		// No rtops index yet means no beacons, not a failure.
		if elastic.IsNotFound(err) {
			return &resp, nil
		}
		return nil, fmt.Errorf("search %s: %w", m.index(), err)
	}
	return &resp, nil
}

var latestFirst = []map[string]any{{"@timestamp": map[string]any{"order": "desc"}}}

// List returns the beacons seen within the window, most recent first.
func (m *Manager) List(ctx context.Context) ([]Beacon, error) {
	query := map[string]any{
		"size": 0,
		"query": map[string]any{"bool": map[string]any{"filter": []any{
			map[string]any{"exists": map[string]any{"field": "beacon.id"}},
			map[string]any{"range": map[string]any{"@timestamp": map[string]any{
				"gte": fmt.Sprintf("now-%ds", int(m.window().Seconds())),
			}}},
		}}},
		"aggs": map[string]any{"beacons": map[string]any{
			"terms": map[string]any{
				"field": "beacon.id",
				"size":  maxBeacons,
				"order": map[string]any{"last_seen": "desc"},
			},
			"aggs": map[string]any{
				"last_seen":  map[string]any{"max": map[string]any{"field": "@timestamp"}},
				"first_seen": map[string]any{"min": map[string]any{"field": "@timestamp"}},
				"latest":     map[string]any{"top_hits": map[string]any{"size": 1, "sort": latestFirst}},
			},
		}},
	}
	resp, err := m.search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]Beacon, 0, len(resp.Aggregations.Beacons.Buckets))
	for _, bucket := range resp.Aggregations.Beacons.Buckets {
		b := Beacon{ID: bucket.Key}
		if len(bucket.Latest.Hits.Hits) > 0 {
			b = bucket.Latest.Hits.Hits[0].Source.beacon()
			b.ID = bucket.Key
		}
		b.Events = bucket.DocCount
		b.FirstSeen = parseTime(bucket.FirstSeen.ValueAsString)
		out = append(out, b)
	}
	return out, nil
}

// Details returns the latest state of one beacon.
func (m *Manager) Details(ctx context.Context, id string) (Beacon, error) {
	if strings.TrimSpace(id) == "" {
		return Beacon{}, errors.New("beacon id is empty")
	}
	query := map[string]any{
		"size":             1,
		"track_total_hits": true,
		"sort":             latestFirst,
		"query": map[string]any{"bool": map[string]any{"filter": []any{
			map[string]any{"term": map[string]any{"beacon.id": id}},
		}}},
		"aggs": map[string]any{
			"first_seen": map[string]any{"min": map[string]any{"field": "@timestamp"}},
		},
	}
	resp, err := m.search(ctx, query)
	if err != nil {
		return Beacon{}, err
	}
	if len(resp.Hits.Hits) == 0 {
		return Beacon{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	b := resp.Hits.Hits[0].Source.beacon()
	b.ID = id
	b.Events = resp.Hits.Total.Value
	b.FirstSeen = parseTime(resp.Aggregations.FirstSeen.ValueAsString)
	return b, nil
}

// Commands returns up to limit of the most recent operator inputs to a beacon.
func (m *Manager) Commands(ctx context.Context, id string, limit int) ([]Command, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("beacon id is empty")
	}
	if limit < 1 {
		return nil, fmt.Errorf("invalid command limit %d", limit)
	}
	query := map[string]any{
		"size": limit,
		"sort": latestFirst,
		"query": map[string]any{"bool": map[string]any{"filter": []any{
			map[string]any{"term": map[string]any{"beacon.id": id}},
			map[string]any{"term": map[string]any{"c2.log.type": "input"}},
		}}},
	}
	resp, err := m.search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]Command, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		if len(out) == limit {
			break
		}
		d := h.Source
		out = append(out, Command{
			Time:     d.Timestamp,
			Operator: d.C2.Operator,
			Command:  d.Beacon.Command,
			Message:  d.C2.Message,
		})
	}
	return out, nil
}

// Search finds records mentioning an indicator such as a host name,
// user, address or file hash.
func (m *Manager) Search(ctx context.Context, term string, limit int) ([]Match, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, errors.New("search term is empty")
	}
	if limit < 1 {
		limit = 50
	}
	query := map[string]any{
		"size": limit,
		"sort": latestFirst,
		"query": map[string]any{"multi_match": map[string]any{
			"query":   term,
			"lenient": true,
			"fields": []string{
				"beacon.id", "beacon.hostname", "beacon.user",
				"beacon.internal_ip", "beacon.external_ip", "beacon.process",
				"ioc.*", "c2.message",
			},
		}},
	}
	resp, err := m.search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		d := h.Source
		out = append(out, Match{
			Time:     d.Timestamp,
			BeaconID: d.Beacon.ID,
			Hostname: d.Beacon.Hostname,
			Type:     d.C2.Log.Type,
			Message:  d.C2.Message,
		})
	}
	return out, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
