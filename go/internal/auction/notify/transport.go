package notify

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"sync"

	"github.com/jordan-wright/email"
)

// MailTransporter delivers a composed email
type MailTransporter interface {
	Send(mail *email.Email) error
}

// SMTPConfig holds SMTP server settings
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SMTPMailTransport sends mail through an SMTP server. Port 465 uses implicit TLS.
type SMTPMailTransport struct {
	config SMTPConfig
	auth   smtp.Auth
}

func NewSMTP(config SMTPConfig) *SMTPMailTransport {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &SMTPMailTransport{config: config, auth: auth}
}

func (t *SMTPMailTransport) Send(mail *email.Email) error {
	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)
	if t.config.Port == 465 {
		return mail.SendWithTLS(addr, t.auth, &tls.Config{ServerName: t.config.Host})
	}
	return mail.Send(addr, t.auth)
}

// MockMailTransport records mail instead of sending it
type MockMailTransport struct {
	mu   sync.Mutex
	mail []*email.Email
	err  error
}

func NewMock() *MockMailTransport {
	return &MockMailTransport{}
}

// FailWith makes every later Send return err
func (m *MockMailTransport) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockMailTransport) Send(mail *email.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.mail = append(m.mail, mail)
	return nil
}

func (m *MockMailTransport) GetLastSentMail() *email.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.mail) == 0 {
		return nil
	}
	return m.mail[len(m.mail)-1]
}

func (m *MockMailTransport) GetSentMails() []*email.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*email.Email(nil), m.mail...)
}
