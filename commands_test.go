package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHour(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 20, 0, 0, time.UTC)

	h, err := parseHour("", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC), h)

	h, err = parseHour("2026-03-01T07", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC), h)

	_, err = parseHour("2026-03-01 07:00", now)
	assert.Error(t, err)
}

func TestParseDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 20, 0, 0, time.UTC)

	d, err := parseDay("", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDay("2026-02-28", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), d)

	_, err = parseDay("yesterday", now)
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["aggregate"])
	assert.True(t, names["regressions"])

	sub := map[string]bool{}
	for _, c := range aggregateCmd.Commands() {
		sub[c.Name()] = true
	}
	assert.Equal(t, map[string]bool{"hourly": true, "daily": true, "all": true}, sub)
}
