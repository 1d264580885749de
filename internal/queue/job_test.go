package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	job, err := NewJob(Analyze, "w1", AnalyzePayload{WebsiteID: "w1", RawScanOutput: "{}"})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, Analyze, job.Queue)
	assert.Equal(t, "w1", job.Key)
	assert.Zero(t, job.Attempt)
	assert.False(t, job.EnqueuedAt.IsZero())
	assert.JSONEq(t, `{"websiteId":"w1","rawScanOutput":"{}"}`, string(job.Payload))
}

func TestNewJob_UnknownQueue(t *testing.T) {
	_, err := NewJob("publish", "w1", nil)
	assert.Error(t, err)
}

func TestJob_Decode(t *testing.T) {
	job := Job{Queue: Article, Payload: json.RawMessage(`{"websiteId":"w1","articleId":"a1","plannedArticleId":"p1"}`)}

	var p ArticlePayload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, ArticlePayload{WebsiteID: "w1", ArticleID: "a1", PlannedArticleID: "p1"}, p)

	bad := Job{Queue: Scan, Payload: json.RawMessage(`{`)}
	assert.Error(t, bad.Decode(&p))
}

func TestPayloadJSONKeys(t *testing.T) {
	raw, err := json.Marshal(ScanPayload{WebsiteID: "w1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"websiteId":"w1"}`, string(raw), "debug is omitted when false")

	raw, err = json.Marshal(StrategyPayload{WebsiteID: "w1", Debug: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"websiteId":"w1","debug":true}`, string(raw))
}

func TestParseNames(t *testing.T) {
	all, err := ParseNames(nil)
	require.NoError(t, err)
	assert.Equal(t, Names(), all)

	some, err := ParseNames([]string{"scan", "article"})
	require.NoError(t, err)
	assert.Equal(t, []Name{Scan, Article}, some)

	_, err = ParseNames([]string{"scan", "publish"})
	assert.Error(t, err)
}
