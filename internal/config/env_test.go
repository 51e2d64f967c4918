package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvStr(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("SHEETPIPE_TEST_STR", "  csv_queue  ")
	assert.Equal(t, "csv_queue", GetEnvStr("SHEETPIPE_TEST_STR", "fallback"))

	t.Setenv("SHEETPIPE_TEST_STR", "   ")
	assert.Equal(t, "fallback", GetEnvStr("SHEETPIPE_TEST_STR", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "valid", value: "250", want: 250},
		{name: "unset", value: "", want: 10000},
		{name: "invalid", value: "ten", want: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SHEETPIPE_TEST_INT", tt.value)
			assert.Equal(t, tt.want, GetEnvInt("SHEETPIPE_TEST_INT", 10000))
		})
	}

	t.Setenv("SHEETPIPE_TEST_INT64", "67108864")
	assert.Equal(t, int64(67108864), GetEnvInt64("SHEETPIPE_TEST_INT64", 1))
}

func TestGetEnvBool(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, v := range []string{"true", "1", "yes", "TRUE"} {
		t.Setenv("SHEETPIPE_TEST_BOOL", v)
		assert.True(t, GetEnvBool("SHEETPIPE_TEST_BOOL", false), v)
	}

	for _, v := range []string{"false", "0", "no"} {
		t.Setenv("SHEETPIPE_TEST_BOOL", v)
		assert.False(t, GetEnvBool("SHEETPIPE_TEST_BOOL", true), v)
	}

	t.Setenv("SHEETPIPE_TEST_BOOL", "maybe")
	assert.True(t, GetEnvBool("SHEETPIPE_TEST_BOOL", true))
}

func TestGetEnvDuration(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("SHEETPIPE_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, GetEnvDuration("SHEETPIPE_TEST_DURATION", time.Minute))

	t.Setenv("SHEETPIPE_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, GetEnvDuration("SHEETPIPE_TEST_DURATION", time.Minute))
}

func TestGetEnvLogLevel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("SHEETPIPE_TEST_LEVEL", "debug")
	assert.Equal(t, slog.LevelDebug, GetEnvLogLevel("SHEETPIPE_TEST_LEVEL", slog.LevelInfo))

	t.Setenv("SHEETPIPE_TEST_LEVEL", "loud")
	assert.Equal(t, slog.LevelInfo, GetEnvLogLevel("SHEETPIPE_TEST_LEVEL", slog.LevelInfo))
}

func TestParseCommaSeparatedList(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseCommaSeparatedList(" a:9092, ,b:9092 "))
	assert.Empty(t, ParseCommaSeparatedList(""))
}
