package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Flagfile")
	require.NoError(t, os.WriteFile(path, []byte("FF-a -> TRUE\n"), 0o644))

	reloaded := make(chan []byte, 4)
	w := New(path, func(raw []byte) error {
		reloaded <- raw
		return nil
	}, zap.NewNop())

	require.NoError(t, w.Open())
	defer w.Close()

	select {
	case raw := <-reloaded:
		require.Equal(t, "FF-a -> TRUE\n", string(raw))
	case <-time.After(time.Second):
		t.Fatal("expected initial synchronous reload")
	}

	require.NoError(t, os.WriteFile(path, []byte("FF-a -> FALSE\n"), 0o644))

	select {
	case raw := <-reloaded:
		require.Equal(t, "FF-a -> FALSE\n", string(raw))
	case <-time.After(3 * time.Second):
		t.Fatal("expected reload after file change")
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Flagfile")
	require.NoError(t, os.WriteFile(path, []byte("FF-a -> TRUE\n"), 0o644))

	reloaded := make(chan []byte, 4)
	w := New(path, func(raw []byte) error {
		reloaded <- raw
		return nil
	}, zap.NewNop())

	require.NoError(t, w.Open())
	defer w.Close()

	<-reloaded // initial reload

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("unrelated file change should not trigger reload")
	case <-time.After(750 * time.Millisecond):
	}
}
