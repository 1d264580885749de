package store

import (
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/resilience"
)

var callLogColumns = []string{
	"id", "website_id", "task", "provider", "model", "variables", "system_prompt", "user_prompt",
	"response_raw", "response_parsed", "status", "error_message", "usage", "created_at",
}

var dlqColumns = []string{
	"id", "queue", "job_id", "website_id", "payload", "error", "error_type", "attempts", "created_at",
}

func prepareCallLog(e *model.AiCallLog) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = model.CallStatusSuccess
	}
}

// encodeCallLog marshals the optional JSON columns. Absent values encode to nil.
func encodeCallLog(e *model.AiCallLog) (vars, usage []byte, err error) {
	if len(e.Variables) > 0 {
		if vars, err = json.Marshal(e.Variables); err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal call log variables")
		}
	}
	if e.Usage != nil {
		if usage, err = json.Marshal(e.Usage); err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal call log usage")
		}
	}
	return vars, usage, nil
}

func decodeCallLog(e *model.AiCallLog, vars, parsed, usage []byte) error {
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &e.Variables); err != nil {
			return eris.Wrap(err, "store: unmarshal call log variables")
		}
	}
	if len(parsed) > 0 {
		e.ResponseParsed = json.RawMessage(parsed)
	}
	if len(usage) > 0 {
		e.Usage = &model.AiUsage{}
		if err := json.Unmarshal(usage, e.Usage); err != nil {
			return eris.Wrap(err, "store: unmarshal call log usage")
		}
	}
	return nil
}

func callLogQuery(b sq.StatementBuilderType, f CallLogFilter) sq.SelectBuilder {
	q := b.Select(callLogColumns...).From("ai_call_logs")
	if f.WebsiteID != "" {
		q = q.Where(sq.Eq{"website_id": f.WebsiteID})
	}
	if f.Task != "" {
		q = q.Where(sq.Eq{"task": string(f.Task)})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	return q.OrderBy("created_at DESC").Limit(listLimit(f.Limit))
}

func prepareDLQ(e *resilience.DLQEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ErrorType == "" {
		e.ErrorType = "permanent"
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage("{}")
	}
}

func dlqQuery(b sq.StatementBuilderType, f resilience.DLQFilter) sq.SelectBuilder {
	q := b.Select(dlqColumns...).From("dead_letter_queue")
	if f.Queue != "" {
		q = q.Where(sq.Eq{"queue": f.Queue})
	}
	if f.ErrorType != "" {
		q = q.Where(sq.Eq{"error_type": f.ErrorType})
	}
	return q.OrderBy("created_at DESC").Limit(listLimit(f.Limit))
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
