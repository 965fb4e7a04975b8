package statsd

import (
	"testing"
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"

	"pkg.world.dev/world-engine/entitystore/assert"
)

func TestMetricTagToTraceTag(t *testing.T) {
	testCases := []struct {
		tag       string
		wantKey   string
		wantValue any
	}{
		{
			tag:       "backend:leveldb",
			wantKey:   "backend",
			wantValue: "leveldb",
		},
		{
			tag:       "no_value",
			wantKey:   "no_value",
			wantValue: nil,
		},
		{
			tag:       "many:colons:in:this:tag",
			wantKey:   "many",
			wantValue: "colons:in:this:tag",
		},
		{
			tag:       "no_tag_value:",
			wantKey:   "no_tag_value",
			wantValue: nil,
		},
		{
			tag:       ":no_tag_key",
			wantKey:   "no_tag_key",
			wantValue: nil,
		},
	}

	for _, tc := range testCases {
		gotKey, gotValue := tagToTraceTag(tc.tag)
		assert.Equal(t, tc.wantKey, gotKey)
		assert.Equal(t, tc.wantValue, gotValue)
	}
}

func TestTraceAttributes(t *testing.T) {
	attrs := TraceAttributes([]string{"backend:redis", "cold", ":"})
	assert.Len(t, attrs, 2)
	assert.Equal(t, string(attrs[0].Key), "backend")
	assert.Equal(t, attrs[0].Value.AsString(), "redis")
	assert.Equal(t, attrs[1].Value.AsBool(), true)
}

type recordingClient struct {
	*ddstatsd.NoOpClient
	timings []string
	counts  map[string]int64
}

func (r *recordingClient) Timing(name string, _ time.Duration, _ []string, _ float64) error {
	r.timings = append(r.timings, name)
	return nil
}

func (r *recordingClient) Count(name string, value int64, _ []string, _ float64) error {
	r.counts[name] += value
	return nil
}

func TestEmitUsesGlobalClient(t *testing.T) {
	rec := &recordingClient{NoOpClient: &ddstatsd.NoOpClient{}, counts: map[string]int64{}}
	prev := SetClient(rec)
	t.Cleanup(func() { SetClient(prev) })

	EmitTiming(time.Now(), "commit")
	EmitCount("query.materialized", 3)
	EmitCount("query.materialized", 2)

	assert.DeepEqual(t, rec.timings, []string{"commit"})
	assert.Equal(t, rec.counts["query.materialized"], int64(5))
}

func TestInitRequiresAddress(t *testing.T) {
	assert.ErrorContains(t, Init("", nil), "address must not be empty")
}
