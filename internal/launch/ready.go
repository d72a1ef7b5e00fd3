package launch

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fpp-125/docbot/internal/manifest"
	"golang.org/x/time/rate"
)

const DefaultReadyTimeout = 60 * time.Second

// DefaultAddr is where the app listens when the manifest does not override the port.
var DefaultAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(manifest.DefaultPort))

// WaitReady dials addr until it accepts a TCP connection or timeout elapses.
// Attempts are paced at four per second.
func WaitReady(ctx context.Context, addr string, timeout time.Duration) error {
	if addr == "" {
		addr = DefaultAddr
	}
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(250*time.Millisecond), 1)
	dialer := net.Dialer{Timeout: time.Second}
	var lastErr error
	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return fmt.Errorf("%s not ready after %s: %w", addr, timeout, lastErr)
}

// PortFree reports whether addr can be bound right now.
func PortFree(addr string) bool {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
