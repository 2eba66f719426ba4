package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottle_SpacesCalls(t *testing.T) {
	ext := Throttle(&StubExtractor{Field: "emails"}, 50*time.Millisecond)

	start := time.Now()
	for range 3 {
		_, err := ext.Extract(context.Background(), "q")
		require.NoError(t, err)
	}
	// First call is immediate, the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, "stub://q", ext.LastLocation())
}

func TestThrottle_ZeroIntervalUnwrapped(t *testing.T) {
	stub := &StubExtractor{}
	assert.Same(t, Extractor(stub), Throttle(stub, 0))
}

func TestThrottle_CancelledContext(t *testing.T) {
	ext := Throttle(&StubExtractor{}, time.Hour)
	_, err := ext.Extract(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ext.Extract(ctx, "second")
	var ue *UnrecoverableError
	assert.ErrorAs(t, err, &ue)
}
