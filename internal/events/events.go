// Package events publishes scan run summaries so downstream consumers can
// react to fresh config without polling the mirrors.
package events

import (
	"context"
	"time"
)

// ScanEvent summarizes one branch scan.
type ScanEvent struct {
	RunID      string    `json:"runId"`
	Repository string    `json:"repository"`
	URL        string    `json:"url"`
	Branch     string    `json:"branch"`
	Commit     string    `json:"commit"`
	FilesFed   int       `json:"filesFed"`
	FullScan   bool      `json:"fullScan"`
	Outcome    string    `json:"outcome"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher emits scan events.
type Publisher interface {
	Publish(ctx context.Context, event *ScanEvent) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, *ScanEvent) error { return nil }
func (Noop) Close() error                              { return nil }
