// Package calllog records one audit entry per provider invocation. Recording
// never fails the caller: persistence errors are logged and dropped.
package calllog

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sells-group/seo-pipeline/internal/model"
)

// Sink persists call log entries.
type Sink interface {
	AppendCallLog(ctx context.Context, entry *model.AiCallLog) error
}

// Call describes the request half of an entry.
type Call struct {
	WebsiteID    string
	Task         model.Task
	Provider     string
	Model        string
	Variables    map[string]any
	SystemPrompt string
	UserPrompt   string
}

// Recorder writes call log entries when enabled.
type Recorder struct {
	sink    Sink
	enabled bool
	log     *zap.Logger
}

// NewRecorder creates a Recorder. A disabled recorder, or one with a nil
// sink, records nothing.
func NewRecorder(sink Sink, enabled bool) *Recorder {
	return &Recorder{
		sink:    sink,
		enabled: enabled && sink != nil,
		log:     zap.L().With(zap.String("component", "calllog")),
	}
}

// Enabled reports whether entries are persisted.
func (r *Recorder) Enabled() bool {
	return r != nil && r.enabled
}

// Success records a completed call. parsed is stored as JSON when it can be
// marshaled.
func (r *Recorder) Success(ctx context.Context, c Call, raw string, parsed any, usage *model.AiUsage) {
	if !r.Enabled() {
		return
	}
	e := c.entry(model.CallStatusSuccess)
	e.ResponseRaw = raw
	e.Usage = usage
	if parsed != nil {
		if b, err := json.Marshal(parsed); err == nil {
			e.ResponseParsed = b
		}
	}
	r.write(ctx, e)
}

// Failure records a call that ended in err. Error entries carry no parsed
// response and no usage.
func (r *Recorder) Failure(ctx context.Context, c Call, err error) {
	if !r.Enabled() {
		return
	}
	e := c.entry(model.CallStatusError)
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	r.write(ctx, e)
}

func (r *Recorder) write(ctx context.Context, e *model.AiCallLog) {
	if err := r.sink.AppendCallLog(ctx, e); err != nil {
		r.log.Warn("failed to persist call log",
			zap.String("task", string(e.Task)),
			zap.String("website_id", e.WebsiteID),
			zap.Error(err),
		)
	}
}

func (c Call) entry(status model.CallStatus) *model.AiCallLog {
	return &model.AiCallLog{
		WebsiteID:    c.WebsiteID,
		Task:         c.Task,
		Provider:     c.Provider,
		Model:        c.Model,
		Variables:    c.Variables,
		SystemPrompt: c.SystemPrompt,
		UserPrompt:   c.UserPrompt,
		Status:       status,
	}
}

// Totals sums token counts and cost over entries that report usage.
type Totals struct {
	Calls     int
	Errors    int
	Tokens    int
	TotalCost float64
}

// Summarize computes Totals for entries.
func Summarize(entries []model.AiCallLog) Totals {
	var t Totals
	for _, e := range entries {
		t.Calls++
		if e.Status == model.CallStatusError {
			t.Errors++
		}
		if e.Usage != nil {
			t.Tokens += e.Usage.TotalTokens
			t.TotalCost += e.Usage.TotalCost
		}
	}
	return t
}
