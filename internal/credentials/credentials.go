// Package credentials hands out registry credentials as short-lived leases.
// Lease values never appear in logs: String and LogValue are redacted.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/config"
)

// ErrReleased is returned when a released lease is used.
var ErrReleased = errors.New("credential lease released")

// Provider acquires registry credentials for a single use.
type Provider interface {
	Acquire(ctx context.Context) (*Lease, error)
}

// Lease is a scoped credential. Call Release when done with it.
type Lease struct {
	Server   string
	Username string

	mu        sync.Mutex
	password  string
	released  bool
	onRelease func()
}

// NewLease creates a lease. onRelease may be nil.
func NewLease(server, username, password string, onRelease func()) *Lease {
	return &Lease{Server: server, Username: username, password: password, onRelease: onRelease}
}

// Password returns the secret, or ErrReleased once the lease was released.
func (l *Lease) Password() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return "", ErrReleased
	}
	return l.password, nil
}

// Release wipes the secret. It is safe to call more than once.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.password = ""
	if l.onRelease != nil {
		l.onRelease()
	}
}

func (l *Lease) String() string {
	server := l.Server
	if server == "" {
		server = "default registry"
	}
	return fmt.Sprintf("%s@%s [REDACTED]", l.Username, server)
}

// LogValue keeps the password out of structured logs.
func (l *Lease) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("server", l.Server),
		slog.String("username", l.Username),
		slog.String("password", "[REDACTED]"),
	)
}

// FileProvider reads credentials from secret files on every Acquire, so
// rotated Docker or Kubernetes secrets are picked up without a restart.
type FileProvider struct {
	Server       string
	UsernameFile string
	PasswordFile string
}

// Acquire reads both files. Missing or empty secrets are an auth error.
func (p FileProvider) Acquire(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	username := config.GetSecretFile(p.UsernameFile)
	if username == "" {
		return nil, apperrors.Auth("credentials.acquire", fmt.Errorf("registry username not available from %q", p.UsernameFile))
	}
	password := config.GetSecretFile(p.PasswordFile)
	if password == "" {
		return nil, apperrors.Auth("credentials.acquire", fmt.Errorf("registry password not available from %q", p.PasswordFile))
	}
	return NewLease(p.Server, username, password, nil), nil
}

// StaticProvider returns fixed credentials.
type StaticProvider struct {
	Server   string
	Username string
	Password string
}

// Acquire returns a new lease over the static values.
func (p StaticProvider) Acquire(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Username == "" || p.Password == "" {
		return nil, apperrors.Auth("credentials.acquire", errors.New("no registry credentials configured"))
	}
	return NewLease(p.Server, p.Username, p.Password, nil), nil
}
