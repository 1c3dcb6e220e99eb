package services

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/membership-notifier/internal/config"
	"github.com/magabrotheeeer/membership-notifier/internal/models"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

type userProviderStub struct {
	user *models.User
	err  error
}

func (s *userProviderStub) GetUser(_ context.Context, _ int64) (*models.User, error) {
	return s.user, s.err
}

type senderStub struct {
	to      string
	subject string
	html    string
	headers []string
	fail    bool
}

func (s *senderStub) SendMail(_ context.Context, to, subject, htmlBody string, headers []string) bool {
	s.to = to
	s.subject = subject
	s.html = htmlBody
	s.headers = headers
	return !s.fail
}

type linkerStub struct {
	url string
	err error
}

func (l *linkerStub) UnsubscribeURLFor(_ context.Context, _ int64) (string, error) {
	return l.url, l.err
}

func newDelivery(t *testing.T, sender *senderStub, links UnsubscribeLinker) *DeliveryService {
	t.Helper()
	cfg := config.Notifier{SiteName: "Membership", SiteURL: "https://membership.example"}
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	repo := &userProviderStub{user: &models.User{ID: 5, Email: "member@example.com", Username: "member"}}
	return NewDeliveryService(repo, templates.New(cfg), sender, links, cfg, log)
}

func TestHandlePlanExpired(t *testing.T) {
	sender := &senderStub{}
	links := &linkerStub{url: "https://membership.example/unsubscribe?u=5&t=tok"}
	svc := newDelivery(t, sender, links)

	err := svc.HandlePlanExpired(context.Background(), 5, []any{"monthly"})
	require.NoError(t, err)

	assert.Equal(t, "member@example.com", sender.to)
	assert.Contains(t, sender.subject, "истек")
	assert.Contains(t, sender.html, "member")
	assert.Contains(t, sender.html, "monthly")
	require.Len(t, sender.headers, 1)
	assert.Contains(t, sender.headers[0], "List-Unsubscribe")
}

func TestHandlePlanReminder_ArgsSurviveJSONRoundTrip(t *testing.T) {
	sender := &senderStub{}
	svc := newDelivery(t, sender, nil)

	// После JSON-восстановления очереди числовой аргумент приходит как float64.
	err := svc.HandlePlanReminder(context.Background(), 5, []any{"yearly", float64(2)})
	require.NoError(t, err)

	assert.Contains(t, sender.html, "yearly")
	assert.Contains(t, sender.html, "2")
}

func TestHandlePlanReminder_BadArgs(t *testing.T) {
	svc := newDelivery(t, &senderStub{}, nil)

	tests := []struct {
		name string
		args []any
	}{
		{name: "no args", args: nil},
		{name: "missing days", args: []any{"monthly"}},
		{name: "plan is not a string", args: []any{42, int64(1)}},
		{name: "days is not a number", args: []any{"monthly", "tomorrow"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, svc.HandlePlanReminder(context.Background(), 5, tt.args))
		})
	}
}

func TestHandlePlanExpired_SendFailure(t *testing.T) {
	sender := &senderStub{fail: true}
	svc := newDelivery(t, sender, nil)

	err := svc.HandlePlanExpired(context.Background(), 5, []any{"trial"})
	require.Error(t, err)
}
