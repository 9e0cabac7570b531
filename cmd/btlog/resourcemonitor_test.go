package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceMonitorWritesHeaderEvenWithoutSamples(t *testing.T) {
	dir := t.TempDir()
	mon, err := newResourceMonitor(dir, time.Hour)
	require.NoError(t, err)

	mon.Start()
	require.NoError(t, mon.Stop())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "resource_usage_")

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "timestamp,elapsed_seconds,cpu_percent")
}

func TestResourceMonitorSampleAppendsRow(t *testing.T) {
	dir := t.TempDir()
	mon, err := newResourceMonitor(dir, time.Hour)
	require.NoError(t, err)

	mon.startTime = time.Now()
	mon.sample()
	assert.Len(t, mon.rows, 1)
	assert.Len(t, mon.rows[0], len(resourceMonitorHeader))
}
