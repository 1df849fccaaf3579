// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if PUSHDECK_TEST_SKIP_NETWORK is set.
// Tests that bind loopback listeners (httptest servers, websocket
// accepts) call it so they can be turned off in sandboxes without TCP.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("PUSHDECK_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: PUSHDECK_TEST_SKIP_NETWORK is set")
	}
}
