package routing

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StreamOptions controls ClassifyStream.
type StreamOptions struct {
	// Annotate writes each record back with @metadata.target_index set
	// instead of writing only the index name.
	Annotate bool
	// Now supplies the classification time; defaults to time.Now.
	Now func() time.Time
}

// StreamStats counts records per destination.
type StreamStats struct {
	Records int
	Skipped int
	ByIndex map[string]int
}

// ClassifyStream reads newline-delimited JSON records from r and writes one
// line per record to w. Lines that are not JSON objects are counted as
// skipped.
func (rs *RuleSet) ClassifyStream(r io.Reader, w io.Writer, opts StreamOptions) (StreamStats, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	stats := StreamStats{ByIndex: make(map[string]int)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil || record == nil {
			stats.Skipped++
			continue
		}
		stats.Records++

		if opts.Annotate {
			t := rs.Annotate(record, now())
			stats.ByIndex[t.Index]++
			if err := enc.Encode(record); err != nil {
				return stats, fmt.Errorf("write record: %w", err)
			}
			continue
		}
		t := rs.Classify(record, now())
		stats.ByIndex[t.Index]++
		if _, err := fmt.Fprintln(bw, t.Name); err != nil {
			return stats, fmt.Errorf("write target: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read records: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("flush output: %w", err)
	}
	return stats, nil
}
