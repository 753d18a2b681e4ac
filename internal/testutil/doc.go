// Package testutil provides shared test helpers for waynotify.
//
// Keep helpers small and register cleanup via t.Cleanup so tests stay
// leak-free. Most daemon tests start with:
//
//	logger := testutil.TestLogger(t)
//	socket := testutil.SocketPath(t)
package testutil
