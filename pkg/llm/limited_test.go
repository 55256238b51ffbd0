package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateClient blocks every Invoke on a shared channel and records the peak
// number of simultaneous calls.
type gateClient struct {
	mu          sync.Mutex
	active      int
	peak        int
	hadDeadline bool
	release     chan struct{}
}

func (c *gateClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	_, c.hadDeadline = ctx.Deadline()
	c.mu.Unlock()

	<-c.release

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return &Response{Text: "{}"}, nil
}

func (c *gateClient) snapshot() (active, peak int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.peak
}

func TestLimitCapsConcurrentInvocations(t *testing.T) {
	inner := &gateClient{release: make(chan struct{})}
	client := Limit(inner, 2, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Invoke(context.Background(), Request{Prompt: "x"})
			assert.NoError(t, err)
		}()
	}

	// Both slots fill while the other four calls wait on the semaphore.
	require.Eventually(t, func() bool {
		active, _ := inner.snapshot()
		return active == 2
	}, 2*time.Second, 5*time.Millisecond)

	close(inner.release)
	wg.Wait()

	_, peak := inner.snapshot()
	assert.Equal(t, 2, peak)
}

func TestLimitAppliesCallTimeout(t *testing.T) {
	inner := &gateClient{release: make(chan struct{})}
	close(inner.release)
	client := Limit(inner, 1, 30*time.Second)

	_, err := client.Invoke(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)

	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.True(t, inner.hadDeadline, "inner call must carry the per-call deadline")
}

func TestLimitRespectsCancelledContext(t *testing.T) {
	inner := &gateClient{release: make(chan struct{})}
	close(inner.release)
	client := Limit(inner, 1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Invoke(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
