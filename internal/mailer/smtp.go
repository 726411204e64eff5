package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/domain"
	"go.uber.org/zap"
)

// TLS modes for the SMTP connection.
const (
	TLSModeSMTPS    = "smtps"
	TLSModeStartTLS = "starttls"
	TLSModeNone     = "none"
)

type SMTPConfig struct {
	Port       int
	TLSMode    string
	SkipVerify bool
	Timeout    time.Duration
}

// SMTPSender sends probes through each account's own SMTP server.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *zap.Logger
	dialer *net.Dialer
	now    func() time.Time
}

func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) (*SMTPSender, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid smtp port %d", domain.ErrValidation, cfg.Port)
	}
	switch cfg.TLSMode {
	case "":
		cfg.TLSMode = TLSModeSMTPS
	case TLSModeSMTPS, TLSModeStartTLS, TLSModeNone:
	default:
		return nil, fmt.Errorf("%w: invalid smtp tls mode %q", domain.ErrValidation, cfg.TLSMode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMTPSender{
		cfg:    cfg,
		logger: logger,
		dialer: &net.Dialer{Timeout: cfg.Timeout},
		now:    time.Now,
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, account domain.Account, probe Probe) error {
	accountID := account.ID()
	fail := func(stage string, err error) error {
		return &SendError{AccountID: accountID, Stage: stage, Err: err}
	}

	message, err := BuildMessage(account, probe, s.now())
	if err != nil {
		return fail("build", err)
	}

	host := strings.TrimSpace(account.SMTPHost)
	client, err := s.dial(ctx, host)
	if err != nil {
		return fail("connect", err)
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", account.LoginUser(), account.Password, host)); err != nil {
		return fail("auth", err)
	}
	if err := client.Mail(strings.TrimSpace(account.FromEmail)); err != nil {
		return fail("mail from", err)
	}
	for _, to := range probe.Recipients {
		if err := client.Rcpt(to); err != nil {
			return fail("rcpt "+to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fail("data", err)
	}
	if _, err := w.Write(message); err != nil {
		return fail("write", err)
	}
	if err := w.Close(); err != nil {
		return fail("data close", err)
	}
	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp quit failed", zap.String("account", accountID), zap.Error(err))
	}

	return nil
}

// dial connects and greets the server. The whole session shares one deadline.
func (s *SMTPSender) dial(ctx context.Context, host string) (*smtp.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: s.cfg.SkipVerify,
	}

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.cfg.Timeout)
	}
	_ = conn.SetDeadline(deadline)

	if s.cfg.TLSMode == TLSModeSMTPS {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp greeting: %w", err)
	}

	if s.cfg.TLSMode == TLSModeStartTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}

	return client, nil
}
