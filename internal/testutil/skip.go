// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if APPROVALQ_TEST_SKIP_NETWORK is set.
// Use this for tests that require TCP/network connectivity which may
// not be available in sandboxed environments.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("APPROVALQ_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: APPROVALQ_TEST_SKIP_NETWORK is set")
	}
}

// RequireRedis returns the Redis address from APPROVALQ_TEST_REDIS_ADDR or
// skips the test.
func RequireRedis(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("APPROVALQ_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping redis test: APPROVALQ_TEST_REDIS_ADDR is not set")
	}
	return addr
}
