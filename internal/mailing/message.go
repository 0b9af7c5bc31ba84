package mailing

import (
	"strings"

	"gopkg.in/gomail.v2"
)

// SendingDomainHeader tags each message with the project's sending domain.
const SendingDomainHeader = "X-PhishSense-Sending-Domain"

// NoSubject is used when a template has a blank subject.
const NoSubject = "(no subject)"

// Envelope carries the addressing for one outgoing message.
type Envelope struct {
	FromName      string
	FromEmail     string
	To            string
	Subject       string
	SendingDomain string
}

// BuildMessage assembles a multipart/alternative message with a plain-text
// part and an HTML part.
func BuildMessage(env Envelope, body Composed) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", env.FromEmail, env.FromName)
	m.SetHeader("To", env.To)

	subject := strings.TrimSpace(env.Subject)
	if subject == "" {
		subject = NoSubject
	}
	m.SetHeader("Subject", subject)

	if d := strings.TrimSpace(env.SendingDomain); d != "" {
		m.SetHeader(SendingDomainHeader, d)
	}

	m.SetBody("text/plain", body.Text)
	m.AddAlternative("text/html", body.HTML)
	return m
}
