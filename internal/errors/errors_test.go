package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestBuildDefaults(t *testing.T) {
	ee := New(fmt.Errorf("boom")).Build()

	assert.Equal(t, "boom", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuilderFluent(t *testing.T) {
	ee := Newf("request %s failed", "abc").
		Component("classifier").
		Category(CategoryNetwork).
		Priority(PriorityHigh).
		Context("attempt", 2).
		Build()

	assert.Equal(t, "request abc failed", ee.Error())
	assert.Equal(t, "classifier", ee.Component)
	assert.Equal(t, CategoryNetwork, ee.Category)
	assert.Equal(t, PriorityHigh, ee.Priority)
	assert.Equal(t, 2, ee.GetContext()["attempt"])
}

func TestTimingAddsOperationAndDuration(t *testing.T) {
	ee := New(NewStd("slow")).
		Component("gbif").
		Timing("gbif_request", 1500*time.Millisecond).
		Build()

	ctx := ee.GetContext()
	assert.Equal(t, "gbif_request", ctx["operation"])
	assert.Equal(t, int64(1500), ctx["duration_ms"])
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.Priority)
}

func TestDetectCategory(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCategory
	}{
		{"Get \"x\": context deadline exceeded", CategoryTimeout},
		{"context canceled", CategoryCancellation},
		{"dial tcp: connection refused", CategoryNetwork},
		{"invalid chat id", CategoryValidation},
		{"species not found", CategoryNotFound},
		{"something else", CategoryGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, New(NewStd(tt.msg)).Build().Category)
		})
	}
}

func TestDetectCategoryFromWrappedEnhancedError(t *testing.T) {
	inner := New(NewStd("quota store down")).Category(CategoryStorage).Build()
	outer := New(fmt.Errorf("consume: %w", inner)).Build()
	assert.Equal(t, CategoryStorage, outer.Category)
}

func TestIsCategoryAndUnwrap(t *testing.T) {
	sentinel := NewStd("sentinel")
	ee := New(sentinel).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("lookup: %w", ee)

	assert.True(t, IsNotFound(wrapped))
	assert.True(t, IsCategory(wrapped, CategoryNotFound))
	assert.False(t, IsCategory(wrapped, CategoryNetwork))
	assert.True(t, Is(wrapped, sentinel))

	var target *EnhancedError
	require.True(t, As(wrapped, &target))
	assert.Same(t, ee, target)
}

func TestEnhancedErrorIsMatchesCategory(t *testing.T) {
	a := New(NewStd("a")).Category(CategoryLimit).Build()
	b := New(NewStd("b")).Category(CategoryLimit).Build()
	c := New(NewStd("c")).Category(CategoryState).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestReporterReceivesBuiltErrors(t *testing.T) {
	rec := &recordingReporter{}
	SetTelemetryReporter(rec)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("reported")).Component("bot").Build()
	require.Len(t, rec.reported, 1)
	assert.True(t, ee.IsReported())

	Report(ee)
	assert.Len(t, rec.reported, 2, "Report forwards explicitly even when already marked")
}

func TestBasicScrub(t *testing.T) {
	msg := "GET https://api.telegram.org/file/bot123456:ABCdefGHIjklMNOpqrSTUvwx/photos/1.jpg?x=1 failed"
	scrubbed := basicScrub(msg)
	assert.NotContains(t, scrubbed, "ABCdefGHIjklMNOpqrSTUvwx")

	scrubbed = basicScrub("config: api_key=secret123 invalid")
	assert.Contains(t, scrubbed, "[API_KEY_REDACTED]")
	assert.NotContains(t, scrubbed, "secret123")

	scrubbed = basicScrub("Authorization: Bearer abc.def")
	assert.NotContains(t, scrubbed, "abc.def")
}

func TestGenerateErrorTitle(t *testing.T) {
	ee := New(NewStd("x")).
		Component("quota").
		Category(CategoryStorage).
		Context("operation", "redis_consume").
		Build()
	assert.Equal(t, "Quota Storage Error Redis Consume", generateErrorTitle(ee))
}
