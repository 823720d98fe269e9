package mediagroup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type result struct {
	batch Batch
	first bool
}

func addAsync(c *Collector, ctx context.Context, id string, p Photo, o Owner) <-chan result {
	out := make(chan result, 1)
	go func() {
		b, ok := c.Add(ctx, id, p, o)
		out <- result{b, ok}
	}()
	return out
}

func TestBatchCollectsInOrder(t *testing.T) {
	c := New(50*time.Millisecond, time.Second)
	owner := Owner{ChatID: -10, UserID: 7}

	firstCh := addAsync(c, t.Context(), "g1", Photo{FileID: "a", MessageID: 1}, owner)
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

	for i, id := range []string{"b", "c", "d"} {
		_, first := c.Add(t.Context(), "g1", Photo{FileID: id, MessageID: i + 2}, owner)
		assert.False(t, first)
	}

	r := <-firstCh
	require.True(t, r.first)
	assert.Equal(t, "g1", r.batch.GroupID)
	assert.Equal(t, int64(-10), r.batch.ChatID)
	ids := make([]string, 0, len(r.batch.Photos))
	for _, p := range r.batch.Photos {
		ids = append(ids, p.FileID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	assert.Equal(t, 0, c.Pending())
}

func TestIndependentGroups(t *testing.T) {
	c := New(30*time.Millisecond, time.Second)

	var wg sync.WaitGroup
	results := make([]Batch, 3)
	for i := range 3 {
		wg.Go(func() {
			b, ok := c.Add(t.Context(), fmt.Sprintf("g%d", i), Photo{FileID: fmt.Sprint(i)}, Owner{UserID: int64(i)})
			assert.True(t, ok)
			results[i] = b
		})
	}
	wg.Wait()

	for i, b := range results {
		require.Len(t, b.Photos, 1)
		assert.Equal(t, fmt.Sprint(i), b.Photos[0].FileID)
		assert.Equal(t, int64(i), b.UserID)
	}
}

func TestMaxWaitCapsDebounce(t *testing.T) {
	c := New(40*time.Millisecond, 120*time.Millisecond)
	start := time.Now()
	firstCh := addAsync(c, t.Context(), "g", Photo{FileID: "0"}, Owner{})

	// Keep feeding faster than the window; the cap must still release.
	stop := time.After(400 * time.Millisecond)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	var r result
loop:
	for {
		select {
		case r = <-firstCh:
			break loop
		case <-tick.C:
			c.Add(t.Context(), "g", Photo{FileID: "x"}, Owner{})
		case <-stop:
			t.Fatal("batch was not released by max wait")
		}
	}
	assert.True(t, r.first)
	assert.Less(t, time.Since(start), 350*time.Millisecond)
	assert.Greater(t, len(r.batch.Photos), 1)
	c.Flush()
}

func TestContextCancelReleasesEarly(t *testing.T) {
	c := New(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(t.Context())
	firstCh := addAsync(c, ctx, "g", Photo{FileID: "a"}, Owner{})
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

	c.Add(t.Context(), "g", Photo{FileID: "b"}, Owner{})
	cancel()

	r := <-firstCh
	assert.True(t, r.first)
	assert.Len(t, r.batch.Photos, 2)
	assert.Equal(t, 0, c.Pending())
}

func TestFlush(t *testing.T) {
	c := New(time.Hour, time.Hour)
	a := addAsync(c, t.Context(), "a", Photo{FileID: "1"}, Owner{})
	b := addAsync(c, t.Context(), "b", Photo{FileID: "2"}, Owner{})
	require.Eventually(t, func() bool { return c.Pending() == 2 }, time.Second, time.Millisecond)

	c.Flush()
	assert.True(t, (<-a).first)
	assert.True(t, (<-b).first)
	assert.Equal(t, 0, c.Pending())
}

func TestLatePhotoOpensNewGroup(t *testing.T) {
	c := New(10*time.Millisecond, time.Second)
	b, ok := c.Add(t.Context(), "g", Photo{FileID: "1"}, Owner{})
	require.True(t, ok)
	require.Len(t, b.Photos, 1)

	b, ok = c.Add(t.Context(), "g", Photo{FileID: "2"}, Owner{})
	require.True(t, ok)
	require.Len(t, b.Photos, 1)
	assert.Equal(t, "2", b.Photos[0].FileID)
}

func TestBatchCaption(t *testing.T) {
	b := Batch{Photos: []Photo{{}, {Caption: "Hanoi; bird"}, {Caption: "other"}}}
	assert.Equal(t, "Hanoi; bird", b.Caption())
}
