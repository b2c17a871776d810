package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jordan-wright/email"
	"github.com/mcdev12/primegavel/go/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	// ErrQueueFull is returned when the send queue cannot take another mail
	ErrQueueFull = errors.New("mail queue full")
	// ErrUnknownTemplate is returned for a notice naming no known template
	ErrUnknownTemplate = errors.New("unknown mail template")
	// ErrNotRunning is returned when notifying a stopped mailer
	ErrNotRunning = errors.New("mailer not running")
)

type Config struct {
	DefaultSender string `yaml:"default_sender"`
	QueueSize     int    `yaml:"queue_size"`
	Workers       int    `yaml:"workers"`
}

func DefaultConfig() Config {
	return Config{
		DefaultSender: "no-reply@primegavel.local",
		QueueSize:     256,
		Workers:       2,
	}
}

// Mailer renders notices into emails and sends them from a background queue.
type Mailer struct {
	Transport MailTransporter

	config    Config
	templates map[string]mailTemplate

	mu      sync.RWMutex
	running bool
	queue   chan *email.Email
	wg      sync.WaitGroup
}

func New(config Config, transport MailTransporter) *Mailer {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	return &Mailer{
		Transport: transport,
		config:    config,
	}
}

// ParseTemplates compiles the built-in mail templates. It must run before Start.
func (m *Mailer) ParseTemplates() error {
	templates, err := parseTemplates()
	if err != nil {
		return err
	}
	m.templates = templates
	return nil
}

// Start launches the send workers
func (m *Mailer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("mailer already running")
	}
	if m.templates == nil {
		return fmt.Errorf("mailer templates not parsed")
	}
	m.queue = make(chan *email.Email, m.config.QueueSize)
	m.running = true

	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.run(m.queue)
	}

	log.Info().
		Int("workers", m.config.Workers).
		Int("queue_size", m.config.QueueSize).
		Msg("mailer started")
	return nil
}

// Stop closes the queue and waits for queued mail to be sent.
func (m *Mailer) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	log.Info().Msg("mailer stopped")
}

// NotifyWinner renders the notice and queues it. It returns once the mail is
// queued; delivery failures are only logged.
func (m *Mailer) NotifyWinner(ctx context.Context, notice models.WinNotice) error {
	mail, err := m.compose(notice)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return ErrNotRunning
	}

	select {
	case m.queue <- mail:
		log.Debug().
			Str("auction_id", notice.AuctionID).
			Str("recipient", notice.Recipient).
			Msg("queued win notification")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (m *Mailer) compose(notice models.WinNotice) (*email.Email, error) {
	tmpl, ok := m.templates[notice.Template]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, notice.Template)
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, notice); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", notice.Template, err)
	}

	mail := email.NewEmail()
	mail.From = m.config.DefaultSender
	mail.To = []string{notice.Recipient}
	mail.Subject = tmpl.subject
	mail.Text = body.Bytes()
	return mail, nil
}

func (m *Mailer) run(queue <-chan *email.Email) {
	defer m.wg.Done()
	for mail := range queue {
		if err := m.Transport.Send(mail); err != nil {
			log.Error().
				Err(err).
				Strs("to", mail.To).
				Str("subject", mail.Subject).
				Msg("failed to send mail")
			continue
		}
		log.Info().Strs("to", mail.To).Str("subject", mail.Subject).Msg("mail sent")
	}
}
