// Package loader reads event files and submits them to a running engage
// service in batches.
package loader

import "time"

// Config holds configuration for one import run.
type Config struct {
	BaseURL   string        // Base URL of the service
	File      string        // Input file; empty generates synthetic events
	Format    string        // "csv", "json" or "" to infer from the extension
	Generate  int           // Number of synthetic events when File is empty
	Leads     int           // Distinct leads used by synthetic events
	BatchSize int           // Events per POST /events/batch
	Workers   int           // Concurrent batch senders
	Timeout   time.Duration // HTTP request timeout
	Verbose   bool          // Log every batch
}

// Stats summarizes an import run.
type Stats struct {
	Events     int
	Batches    int
	Accepted   int
	Duplicates int
	Rejected   int
	FailedReqs int
	Duration   time.Duration
}
