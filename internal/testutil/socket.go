package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SocketPath returns a fresh Unix socket path in a private directory.
//
// t.TempDir paths embed the test name and easily exceed the 108 byte
// sun_path limit, so the directory is created directly under os.TempDir.
func SocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "wn")
	if err != nil {
		t.Fatalf("creating socket dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "socket")
}
