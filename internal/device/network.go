package device

import (
	"context"
	"net"
	"time"

	"irrigation_controller/internal/logger"
)

const checkDialTimeout = 2 * time.Second

// DialNetwork treats the uplink as up once a TCP dial to a known host
// succeeds. Connect polls until its own timeout runs out.
type DialNetwork struct {
	addr     string
	timeout  time.Duration
	interval time.Duration
	log      *logger.Logger
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewDialNetwork(addr string, timeout, interval time.Duration, log *logger.Logger) *DialNetwork {
	d := &net.Dialer{Timeout: checkDialTimeout}
	return &DialNetwork{
		addr:     addr,
		timeout:  timeout,
		interval: interval,
		log:      logger.OrNop(log),
		dial:     d.DialContext,
	}
}

func (n *DialNetwork) Connect(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	t := time.NewTicker(n.interval)
	defer t.Stop()
	for polls := 1; ; polls++ {
		conn, err := n.dial(ctx, "tcp", n.addr)
		if err == nil {
			_ = conn.Close()
			n.log.Debugw("link_up", "addr", n.addr, "polls", polls)
			return true
		}
		select {
		case <-ctx.Done():
			n.log.Debugw("link_down", "addr", n.addr, "polls", polls, "err", err)
			return false
		case <-t.C:
		}
	}
}

// Disconnect is a no-op on a host; the uplink is managed by the OS.
func (n *DialNetwork) Disconnect() {}
