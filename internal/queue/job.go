// Package queue carries pipeline jobs between stages. A Broker stores jobs;
// a Worker fetches them, runs the registered Handler and settles each
// delivery (ack, retry with backoff, or dead-letter).
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Name identifies a queue. There is one queue per pipeline stage.
type Name string

const (
	Scan     Name = "scan"
	Analyze  Name = "analyze"
	Strategy Name = "strategy"
	Article  Name = "article"
)

// Names returns every queue in pipeline order.
func Names() []Name {
	return []Name{Scan, Analyze, Strategy, Article}
}

// Valid reports whether n is a pipeline queue.
func (n Name) Valid() bool {
	switch n {
	case Scan, Analyze, Strategy, Article:
		return true
	default:
		return false
	}
}

// ParseNames converts queue names, rejecting unknown ones. An empty list
// selects every queue.
func ParseNames(names []string) ([]Name, error) {
	if len(names) == 0 {
		return Names(), nil
	}
	out := make([]Name, 0, len(names))
	for _, s := range names {
		n := Name(s)
		if !n.Valid() {
			return nil, eris.Errorf("queue: unknown queue %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}

// Job is the envelope stored by every broker.
type Job struct {
	ID    string `json:"id"`
	Queue Name   `json:"queue"`
	// Key groups jobs that must not run concurrently within one process.
	// Pipeline jobs use the website id.
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
	// Attempt counts previous deliveries; zero on the first.
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// NewJob wraps payload in a fresh envelope.
func NewJob(queue Name, key string, payload any) (Job, error) {
	if !queue.Valid() {
		return Job{}, eris.Errorf("queue: unknown queue %q", queue)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, eris.Wrapf(err, "queue: marshal %s payload", queue)
	}
	return Job{
		ID:         uuid.New().String(),
		Queue:      queue,
		Key:        key,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error {
	return eris.Wrapf(json.Unmarshal(j.Payload, v), "queue: decode %s job %s", j.Queue, j.ID)
}

// ScanPayload starts the pipeline for a website.
type ScanPayload struct {
	WebsiteID string `json:"websiteId"`
	Debug     bool   `json:"debug,omitempty"`
}

// AnalyzePayload is enqueued by the scan stage.
type AnalyzePayload struct {
	WebsiteID     string `json:"websiteId"`
	Debug         bool   `json:"debug,omitempty"`
	RawScanOutput string `json:"rawScanOutput,omitempty"`
}

// StrategyPayload is enqueued by the analyze stage.
type StrategyPayload struct {
	WebsiteID string `json:"websiteId"`
	Debug     bool   `json:"debug,omitempty"`
}

// ArticlePayload is enqueued by the strategy stage.
type ArticlePayload struct {
	WebsiteID        string `json:"websiteId"`
	ArticleID        string `json:"articleId,omitempty"`
	PlannedArticleID string `json:"plannedArticleId,omitempty"`
}
