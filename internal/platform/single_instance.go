package platform

import (
	"errors"
	"strings"
)

// ErrInstanceAlreadyRunning means another client process holds the instance
// lock, so the sqlite cache is already in use.
var ErrInstanceAlreadyRunning = errors.New("instance already running")

// ErrInstanceLockUnsupported means this platform has no lock backend; callers
// may choose to continue without the guard.
var ErrInstanceLockUnsupported = errors.New("instance lock unsupported")

// InstanceLock is a held single-instance lock, released on shutdown.
type InstanceLock interface {
	Release() error
}

// AcquireInstanceLock takes the per-user lock for the given app id. It fails
// with ErrInstanceAlreadyRunning while another process holds it.
func AcquireInstanceLock(appID string) (InstanceLock, error) {
	return acquireInstanceLock(normalizeInstanceLockComponent(appID, "app"))
}

func normalizeInstanceLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
