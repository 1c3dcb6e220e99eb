// Package services содержит сервис отправки писем поверх SMTP транспорта.
package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/membership-notifier/internal/eventlog"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/smtp"
	"github.com/magabrotheeeer/membership-notifier/internal/metrics"
)

// SenderService отправляет письма через SMTP транспорт, фиксируя исход
// в журнале событий и счетчиках Prometheus.
type SenderService struct {
	transport smtp.TransportInterface
	elog      *eventlog.Log
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(transport smtp.TransportInterface, elog *eventlog.Log, log *slog.Logger) *SenderService {
	return &SenderService{
		transport: transport,
		elog:      elog,
		log:       log,
	}
}

// SendMail отправляет HTML-письмо получателю. Возвращает признак успеха:
// отказ транспорта — это временная ошибка отправки, она журналируется
// как FAILED и не приводит к повторным попыткам на этом уровне.
func (s *SenderService) SendMail(ctx context.Context, to, subject, htmlBody string, headers []string) bool {
	if err := s.send(to, subject, htmlBody, headers); err != nil {
		s.log.Error("failed to send email", slog.String("to", to), sl.Err(err))
		metrics.EmailsFailed.Inc()
		s.elog.Add(ctx, eventlog.TypeFailed, "email send failed", map[string]eventlog.Value{
			"to":      eventlog.String(to),
			"subject": eventlog.String(subject),
		})
		return false
	}

	s.log.Info("email sent successfully", slog.String("to", to))
	metrics.EmailsSent.Inc()
	s.elog.Add(ctx, eventlog.TypeSent, "email sent", map[string]eventlog.Value{
		"to":      eventlog.String(to),
		"subject": eventlog.String(subject),
	})
	return true
}

func (s *SenderService) send(to, subject, htmlBody string, headers []string) error {
	lines := []string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=\"UTF-8\"",
	}
	lines = append(lines, headers...)
	lines = append(lines, "", htmlBody)
	msg := strings.Join(lines, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err = wc.Write([]byte(msg)); err != nil {
		return err
	}
	if err = wc.Close(); err != nil {
		return err
	}

	return client.Quit()
}
