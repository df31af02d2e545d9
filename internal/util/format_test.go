package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "-"},
		{-time.Second, "-"},
		{500 * time.Microsecond, "500µs"},
		{1500*time.Millisecond + 700*time.Microsecond, "1.5s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatElapsed(tt.in), tt.in.String())
	}
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "-", FormatTimestamp(nil))
	assert.Equal(t, "-", FormatTimestamp(&time.Time{}))

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-03-01T09:00:00Z", FormatTimestamp(&ts))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "timeout", FirstLine("timeout\ntraceback"))
	assert.Equal(t, "single", FirstLine("single"))
}
