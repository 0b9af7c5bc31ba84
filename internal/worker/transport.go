package worker

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/phishsense/sendjobs/internal/pkg/logger"
)

// transport owns the SMTP session of one job run.
type transport struct {
	dialer TransportDialer
	conn   gomail.SendCloser
}

func (t *transport) open(ctx context.Context) error {
	conn, err := t.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("smtp transport: %w", err)
	}
	t.conn = conn
	return nil
}

// ready redials when the previous send left the session unusable.
func (t *transport) ready(ctx context.Context) error {
	if t.conn != nil {
		h, ok := t.conn.(healthReporter)
		if !ok || h.Healthy() {
			return nil
		}
		t.conn.Close()
		t.conn = nil
	}
	return t.open(ctx)
}

func (t *transport) send(m *gomail.Message) error {
	return gomail.Send(t.conn, m)
}

func (t *transport) close(log *logger.Logger) {
	if t.conn == nil {
		return
	}
	if err := t.conn.Close(); err != nil {
		log.Debug("smtp close", "error", err.Error())
	}
	t.conn = nil
}
