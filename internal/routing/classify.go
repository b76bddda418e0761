package routing

import (
	"strings"
	"time"
)

// MetadataField holds routing decisions on annotated records.
const MetadataField = "@metadata"

// Target is the outcome of classifying one record.
type Target struct {
	Index string // index prefix, e.g. rtops
	Name  string // full index name, e.g. rtops-2024.03.15
	Rule  string // matching rule, empty for the catch-all
}

func (t Target) String() string {
	return t.Name
}

// Matched reports whether a rule claimed the record.
func (t Target) Matched() bool {
	return t.Rule != ""
}

// Classify picks the destination for record. It depends only on the
// record's fields and on now, which is converted to UTC.
func (rs *RuleSet) Classify(record map[string]any, now time.Time) Target {
	date := now.UTC().Format(rs.DateFormat)
	for _, r := range rs.Rules {
		v, ok := lookup(record, r.Field)
		if !ok {
			continue
		}
		for _, want := range r.Values {
			if v == want {
				return Target{Index: r.Index, Name: r.Index + "-" + date, Rule: r.Name}
			}
		}
	}
	return Target{Index: rs.DefaultIndex, Name: rs.DefaultIndex + "-" + date}
}

// Annotate classifies record and stores the index name under
// @metadata.target_index, as the Logstash filter does.
func (rs *RuleSet) Annotate(record map[string]any, now time.Time) Target {
	t := rs.Classify(record, now)
	meta, ok := record[MetadataField].(map[string]any)
	if !ok {
		meta = make(map[string]any)
		record[MetadataField] = meta
	}
	meta["target_index"] = t.Name
	return t
}

// lookup resolves a dotted path through nested maps. A record shipped
// without fields_under_root may carry the path as one flat key, which is
// tried when the nested walk fails. Only string values count.
func lookup(record map[string]any, path string) (string, bool) {
	var cur any = record
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			cur = nil
			break
		}
		if cur, ok = m[part]; !ok {
			break
		}
	}
	if s, ok := cur.(string); ok {
		return s, true
	}
	if s, ok := record[path].(string); ok {
		return s, true
	}
	return "", false
}
