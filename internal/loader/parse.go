package loader

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/okian/engage/internal/domain/model"
)

// Supported input formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// csvColumns are the required CSV header names; metadata is optional.
var csvColumns = []string{"event_id", "lead_id", "event_type", "timestamp"}

// FormatOf infers the input format from a file name.
func FormatOf(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// ReadEvents decodes events from r. Rows are not validated here; the service
// reports invalid items per batch.
func ReadEvents(r io.Reader, format string) ([]model.EventInput, error) {
	switch format {
	case FormatJSON:
		var events []model.EventInput
		if err := json.NewDecoder(r).Decode(&events); err != nil {
			return nil, fmt.Errorf("%w: json: %w", ErrParse, err)
		}
		return events, nil
	case FormatCSV:
		return readCSV(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func readCSV(r io.Reader) ([]model.EventInput, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %w", ErrParse, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range csvColumns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("%w: csv header is missing %q", ErrParse, c)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var events []model.EventInput
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %w", ErrParse, line, err)
		}
		in := model.EventInput{
			EventID:   field(rec, "event_id"),
			LeadID:    field(rec, "lead_id"),
			EventType: field(rec, "event_type"),
			Timestamp: field(rec, "timestamp"),
		}
		if raw := field(rec, "metadata"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &in.Metadata); err != nil {
				return nil, fmt.Errorf("%w: csv line %d: metadata: %w", ErrParse, line, err)
			}
		}
		events = append(events, in)
	}
}
