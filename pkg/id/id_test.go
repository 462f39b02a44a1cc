package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableWithinMillisecond(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	prev := ""
	for i := 0; i < 1000; i++ {
		next := NewAt(at)
		assert.Len(t, next, 26)
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 15, 123_000_000, time.UTC)
	got, err := Time(NewAt(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(got))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
