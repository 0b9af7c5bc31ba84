package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/phishsense/sendjobs/internal/config"
)

// TransportDialer opens a verified SMTP session. Each Process call dials
// its own session and closes it when the job run ends.
type TransportDialer interface {
	Dial(ctx context.Context) (gomail.SendCloser, error)
}

// healthReporter is implemented by sessions that can tell whether a failed
// send left the connection unusable.
type healthReporter interface {
	Healthy() bool
}

// SMTPDialer dials the configured relay. Connect, greeting and per-command
// timeouts are applied separately.
type SMTPDialer struct {
	host            string
	port            int
	user            string
	pass            string
	secure          bool
	allowInvalidTLS bool
	localName       string

	connectTimeout  time.Duration
	greetingTimeout time.Duration
	socketTimeout   time.Duration
}

// NewSMTPDialer creates a dialer from the SMTP settings.
func NewSMTPDialer(cfg config.SMTPConfig) *SMTPDialer {
	d := &SMTPDialer{
		host:            cfg.Host,
		port:            cfg.Port,
		user:            cfg.User,
		pass:            cfg.Pass,
		secure:          cfg.Secure,
		allowInvalidTLS: cfg.AllowInvalidTLS,
		connectTimeout:  cfg.ConnectTimeout(),
		greetingTimeout: cfg.GreetingTimeout(),
		socketTimeout:   cfg.SocketTimeout(),
	}
	if d.connectTimeout <= 0 {
		d.connectTimeout = 10 * time.Second
	}
	if d.greetingTimeout <= 0 {
		d.greetingTimeout = 10 * time.Second
	}
	if d.socketTimeout <= 0 {
		d.socketTimeout = 10 * time.Second
	}
	return d
}

func (d *SMTPDialer) addr() string {
	return net.JoinHostPort(d.host, strconv.Itoa(d.port))
}

func (d *SMTPDialer) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: d.host, InsecureSkipVerify: d.allowInvalidTLS}
}

// Dial connects, reads the greeting, upgrades to TLS when offered,
// authenticates and confirms the session with NOOP.
func (d *SMTPDialer) Dial(ctx context.Context) (gomail.SendCloser, error) {
	netDialer := &net.Dialer{Timeout: d.connectTimeout}

	var (
		conn net.Conn
		err  error
	)
	if d.secure {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: d.tlsConfig()}
		conn, err = tlsDialer.DialContext(ctx, "tcp", d.addr())
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", d.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("SMTP connect to %s: %w", d.addr(), err)
	}

	conn.SetDeadline(time.Now().Add(d.greetingTimeout))
	c, err := smtp.NewClient(conn, d.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP greeting: %w", err)
	}

	s := &smtpSession{conn: conn, client: c, timeout: d.socketTimeout}
	s.extend()

	if d.localName != "" {
		if err := c.Hello(d.localName); err != nil {
			s.abort()
			return nil, fmt.Errorf("SMTP EHLO: %w", err)
		}
	}
	if !d.secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(d.tlsConfig()); err != nil {
				s.abort()
				return nil, fmt.Errorf("SMTP STARTTLS: %w", err)
			}
		}
	}
	if d.user != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(&plainAuth{user: d.user, pass: d.pass}); err != nil {
				s.abort()
				return nil, fmt.Errorf("SMTP AUTH: %w", err)
			}
		}
	}
	if err := c.Noop(); err != nil {
		s.abort()
		return nil, fmt.Errorf("SMTP verify: %w", err)
	}
	return s, nil
}

// smtpSession is one open SMTP connection. It is not safe for concurrent
// use; a job sends to its recipients one at a time.
type smtpSession struct {
	conn    net.Conn
	client  *smtp.Client
	timeout time.Duration
	broken  bool
}

var _ gomail.SendCloser = (*smtpSession)(nil)

func (s *smtpSession) extend() {
	s.conn.SetDeadline(time.Now().Add(s.timeout))
}

func (s *smtpSession) Send(from string, to []string, msg io.WriterTo) error {
	if s.broken {
		return errors.New("SMTP connection closed")
	}
	s.extend()
	if err := s.client.Mail(from); err != nil {
		return s.fail("MAIL FROM", err)
	}
	for _, addr := range to {
		if err := s.client.Rcpt(addr); err != nil {
			return s.fail("RCPT TO", err)
		}
	}
	w, err := s.client.Data()
	if err != nil {
		return s.fail("DATA", err)
	}
	if _, err := msg.WriteTo(w); err != nil {
		s.broken = true
		return fmt.Errorf("DATA write: %w", err)
	}
	if err := w.Close(); err != nil {
		return s.fail("DATA close", err)
	}
	return nil
}

// fail resets the transaction after a server rejection. Anything other than
// an SMTP reply means the connection itself is gone.
func (s *smtpSession) fail(stage string, err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		s.extend()
		if rerr := s.client.Reset(); rerr != nil {
			s.broken = true
		}
	} else {
		s.broken = true
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// Healthy reports whether the session can carry another message.
func (s *smtpSession) Healthy() bool { return !s.broken }

func (s *smtpSession) Close() error {
	if s.broken {
		return s.client.Close()
	}
	s.extend()
	if err := s.client.Quit(); err != nil {
		s.client.Close()
		return err
	}
	return nil
}

func (s *smtpSession) abort() {
	s.broken = true
	s.client.Close()
}

// plainAuth implements AUTH PLAIN without the TLS check of smtp.PlainAuth.
// Relays on private networks often accept plaintext submission.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, errors.New("unexpected server challenge")
	}
	return nil, nil
}
