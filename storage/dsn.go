package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// The reward ledger is written on every settlement while the gateway reads
// loyalty aggregates concurrently, so the on-disk database runs in WAL mode
// with a busy timeout instead of failing fast on contention.
const fileQuery = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

// FileDSN builds the sqlite DSN hookd opens at boot from the configured
// database path. The path is resolved to an absolute one so the daemon finds
// the same ledger regardless of the directory it was launched from.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve database path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, fileQuery), nil
}
