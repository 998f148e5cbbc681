package loader

import "os"

// ShowHelp prints usage information for the import tool.
func ShowHelp() {
	os.Stdout.WriteString(`Engage Event Loader
===================

Bulk-imports events into a running engage service through POST /events/batch.

Usage:
  go run ./cmd/load-events [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -file string
        CSV or JSON file to import; when empty, synthetic events are generated
  -format string
        Input format: csv or json (default: inferred from the file extension)
  -generate int
        Number of synthetic events when no file is given (default 1000)
  -leads int
        Distinct leads used by synthetic events (default 50)
  -batch int
        Events per batch request (default 500)
  -workers int
        Concurrent batch senders (default 4)
  -timeout duration
        HTTP request timeout (default 30s)
  -verbose
        Log every batch
  -help
        Show this help message

CSV files need a header row with event_id, lead_id, event_type and timestamp
columns; an optional metadata column holds a JSON object. JSON files hold an
array of event objects with the same keys.

Examples:
  go run ./cmd/load-events -file events.csv
  go run ./cmd/load-events -generate 20000 -leads 500 -workers 8
`)
}
