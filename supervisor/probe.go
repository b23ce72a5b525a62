package supervisor

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	probeInitialInterval = 100 * time.Millisecond
	probeMaxInterval     = 2 * time.Second
	probeDialTimeout     = time.Second
)

// WaitReady polls the server's listening address with exponential backoff
// until a TCP connection succeeds, the deadline passes, or the server
// process dies. An optional settle delay is applied after the probe
// succeeds, for servers that accept connections before they can serve.
func (s *Supervisor) WaitReady(ctx context.Context, handle *Handle, addr string, deadline, settle time.Duration) error {
	s.cfg.Log.Info("Waiting for server readiness", "addr", addr, "deadline", deadline)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = probeInitialInterval
	b.MaxInterval = probeMaxInterval
	b.MaxElapsedTime = deadline

	probe := func() error {
		if handle.Exited() {
			return backoff.Permanent(&ServerStartError{
				Err: fmt.Errorf("server pid %d exited before becoming ready: %v", handle.PID, handle.WaitErr()),
			})
		}
		conn, err := net.DialTimeout("tcp", addr, probeDialTimeout)
		if err != nil {
			return err
		}
		return conn.Close()
	}

	if err := backoff.Retry(probe, backoff.WithContext(b, ctx)); err != nil {
		if IsServerStartError(err) {
			return err
		}
		return &ServerNotReadyError{Addr: addr, Timeout: deadline, Err: err}
	}

	s.cfg.Log.Info("Server is accepting connections", "addr", addr)

	if settle > 0 {
		s.cfg.Log.Debug("Applying settle delay", "settle", settle)
		select {
		case <-time.After(settle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
