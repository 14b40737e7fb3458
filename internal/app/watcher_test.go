package app

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitcore/internal/shared/testutil"
)

type countingReloader struct {
	calls atomic.Int32
}

func (r *countingReloader) Reload(context.Context) error {
	r.calls.Add(1)
	return nil
}

func startWatcher(t *testing.T, path string, debounce time.Duration) *countingReloader {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	target := &countingReloader{}
	w, err := newLicenseWatcher(path, debounce, target, nil, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return target
}

func TestLicenseWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "license.bin")
	target := startWatcher(t, path, 100*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte(i)}, 0o600))
	}

	require.Eventually(t, func() bool { return target.calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestLicenseWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	target := startWatcher(t, filepath.Join(dir, "license.bin"), 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, target.calls.Load())
}

func TestLicenseWatcher_SeesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "license.bin")
	require.NoError(t, os.WriteFile(path, []byte{1}, 0o600))
	target := startWatcher(t, path, 10*time.Millisecond)

	tmp := filepath.Join(dir, ".license-tmp")
	require.NoError(t, os.WriteFile(tmp, []byte{2}, 0o600))
	require.NoError(t, os.Rename(tmp, path))

	assert.Eventually(t, func() bool { return target.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestLicenseWatcher_MissingDirectory(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	_, err := newLicenseWatcher(filepath.Join(t.TempDir(), "absent", "license.bin"), time.Millisecond, &countingReloader{}, nil, logger)
	assert.Error(t, err)
}
