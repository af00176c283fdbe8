package health

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	appLog "sleepcal/internal/log"
	"sleepcal/internal/model"
)

// ErrNoSamples is returned when a payload has no recognizable sample list.
var ErrNoSamples = errors.New("payload contains no samples")

// DecodeSamples decodes the sample payload shapes produced by exports and
// iOS Shortcuts:
//
//   - a JSON array of sample objects
//   - an object with a "samples" key holding an array or an NDJSON string
//   - a JSON string holding NDJSON (one object per line)
//   - bare NDJSON text
//
// Entries that are not JSON objects are dropped and counted in skipped.
func DecodeSamples(data []byte) (samples []model.RawSample, skipped int, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, 0, ErrNoSamples
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, 0, fmt.Errorf("decode sample array: %w", err)
		}
		return decodeObjects(items)

	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, 0, fmt.Errorf("decode sample object: %w", err)
		}
		if raw, ok := probe["samples"]; ok {
			return DecodeSamples(raw)
		}
		// A lone sample object.
		return decodeObjects([]json.RawMessage{data})

	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, 0, fmt.Errorf("decode sample string: %w", err)
		}
		return decodeNDJSON(text)

	case 'n':
		if string(data) == "null" {
			return nil, 0, ErrNoSamples
		}
	}

	return decodeNDJSON(string(data))
}

func decodeObjects(items []json.RawMessage) ([]model.RawSample, int, error) {
	out := make([]model.RawSample, 0, len(items))
	skipped := 0
	for i, item := range items {
		var s model.RawSample
		if err := json.Unmarshal(item, &s); err != nil || s == nil {
			skipped++
			appLog.Debug("sample entry is not an object", "index", i)
			continue
		}
		out = append(out, s)
	}
	return out, skipped, nil
}

func decodeNDJSON(text string) ([]model.RawSample, int, error) {
	var (
		out     []model.RawSample
		skipped int
	)
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		l := strings.TrimSpace(sc.Text())
		if l == "" {
			continue
		}
		var s model.RawSample
		if err := json.Unmarshal([]byte(l), &s); err != nil || s == nil {
			skipped++
			appLog.Debug("ndjson line skipped", "line", line)
			continue
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return out, skipped, fmt.Errorf("scan ndjson: %w", err)
	}
	if len(out) == 0 && skipped > 0 {
		return nil, skipped, ErrNoSamples
	}
	return out, skipped, nil
}
