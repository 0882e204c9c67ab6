package util

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("load", nil))

	base := errors.New("boom")
	err := WrapError("load config", base)
	assert.EqualError(t, err, "failed to load config: boom")
	assert.ErrorIs(t, err, base)
}

func TestExtractLastError(t *testing.T) {
	assert.Equal(t, "", ExtractLastError("  \n\n"))
	assert.Equal(t, "second", ExtractLastError("first\nsecond\n\n"))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	got := ExtractLastError(string(long))
	assert.Len(t, got, maxErrorLineLength+3)
}

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 35*time.Millisecond)

	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
	assert.Equal(t, 35*time.Millisecond, b.Next())
	assert.Equal(t, 35*time.Millisecond, b.Next())

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.Next())
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), NewBackoff(time.Millisecond, time.Millisecond), 3, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), NewBackoff(time.Millisecond, time.Millisecond), 2, func(context.Context) error {
			calls++
			return errors.New("always")
		})
		assert.EqualError(t, err, "always")
		assert.Equal(t, 2, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, NewBackoff(time.Hour, time.Hour), 5, func(context.Context) error {
			return errors.New("fail")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFormatClipLength(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.454, "0.45s"},
		{59.999, "60.00s"},
		{154, "2m 34s"},
		{4980, "1h 23m"},
		{-1, "0.00s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatClipLength(tt.in))
	}
}

func TestFormatHumanTime(t *testing.T) {
	assert.Equal(t, "unknown", FormatHumanTime(""))
	assert.Equal(t, "not-a-time", FormatHumanTime("not-a-time"))
	assert.NotEqual(t, "2024-01-02T03:04:05Z", FormatHumanTime("2024-01-02T03:04:05Z"))
}

func TestDarkenColor(t *testing.T) {
	assert.Equal(t, "#000000", DarkenColor("#FFFFFF", 100))
	assert.Equal(t, "#E6007E", DarkenColor("#E6007E", 0))
	assert.Equal(t, "#7F7F7F", DarkenColor("#FFFFFF", 50))
	assert.Equal(t, "nope", DarkenColor("nope", 10))
}

func TestGenerateBrandCSS(t *testing.T) {
	css := GenerateBrandCSS("#E6007E", "#FF3399")
	assert.Contains(t, css, "--brand:#E6007E")
	assert.Contains(t, css, "prefers-color-scheme:dark")
}

func TestValidatePath(t *testing.T) {
	assert.Error(t, ValidatePath("log", ""))
	assert.Error(t, ValidatePath("log", "../x"))
	assert.NoError(t, ValidatePath("log", "data/events.jsonl"))
}

func TestCheckPathWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CheckPathWritable(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
}
