package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestFileName(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "depth_fix_20260304_0506.csv", FileName(at))
}

func TestWriterAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "run.csv")
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(at, "D1", MethodRestartOrFallback))
	require.NoError(t, w.Append(at.Add(time.Minute), "D2", MethodReboot))
	require.NoError(t, w.Close())

	assert.Equal(t, [][]string{
		{"timestamp", "device_id", "fix_method"},
		{"2026-10-16T09:30:00Z", "D1", "restart_or_fallback"},
		{"2026-10-16T09:31:00Z", "D2", "reboot"},
	}, readRows(t, path))
}

func TestWriterReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(at, "D1", MethodFailed))
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(at, "D2", MethodReboot))
	require.NoError(t, w.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2026-10-16T09:30:00Z", "D1", "failed"}, rows[1])
	assert.Equal(t, []string{"2026-10-16T09:30:00Z", "D2", "reboot"}, rows[2])
}

func TestWriterConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	w, err := OpenInDir(dir, start)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "depth_fix_20261016_0930.csv"), w.Path())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, w.Append(start, fmt.Sprintf("D%d", i), MethodReboot))
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	rows := readRows(t, w.Path())
	assert.Len(t, rows, 51)
	for _, row := range rows[1:] {
		assert.Len(t, row, 3)
	}
}
