package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/membership-notifier/internal/config"
	"github.com/magabrotheeeer/membership-notifier/internal/eventlog"
	"github.com/magabrotheeeer/membership-notifier/internal/kvstore"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/clock"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/membership-notifier/internal/models"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

type fakeRepo struct {
	mu    sync.Mutex
	users map[int64]*models.User
	meta  map[int64]map[string]string
}

func newFakeRepo(users ...*models.User) *fakeRepo {
	r := &fakeRepo{
		users: make(map[int64]*models.User),
		meta:  make(map[int64]map[string]string),
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeRepo) GetUser(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrValidation
	}
	copied := *u
	return &copied, nil
}

func (r *fakeRepo) GetUserMeta(_ context.Context, userID int64, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.meta[userID][key]
	return value, ok, nil
}

func (r *fakeRepo) SetUserMeta(_ context.Context, userID int64, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta[userID] == nil {
		r.meta[userID] = make(map[string]string)
	}
	r.meta[userID][key] = value
	return nil
}

func (r *fakeRepo) DeleteUserMeta(_ context.Context, userID int64, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.meta[userID], key)
	return nil
}

func (r *fakeRepo) SetVerifiedAt(_ context.Context, id int64, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].VerifiedAt = ts
	return nil
}

func (r *fakeRepo) SetMarketingOptOut(_ context.Context, id int64, optOut bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].MarketingOptOut = optOut
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) Publish(routingKey string, _ any) error {
	p.mu.Lock()
	p.events = append(p.events, routingKey)
	p.mu.Unlock()
	return nil
}

type fakeSender struct {
	sent []string
	fail bool
}

func (s *fakeSender) SendMail(_ context.Context, to, _, _ string, _ []string) bool {
	s.sent = append(s.sent, to)
	return !s.fail
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newTestService(t *testing.T, users ...*models.User) (*VerificationService, *fakeRepo, *fakePublisher, *clock.Fake) {
	t.Helper()
	repo := newFakeRepo(users...)
	publisher := &fakePublisher{}
	clk := &clock.Fake{Current: 1700000000}
	cfg := config.Notifier{
		SiteName:           "Membership",
		SiteURL:            "https://membership.example",
		VerifyBaseURL:      "https://membership.example/verify",
		UnsubscribeBaseURL: "https://membership.example/unsubscribe",
		VerifyTokenTTL:     48 * time.Hour,
	}
	elog := eventlog.New(kvstore.NewMemory(), clk, newNoopLogger())
	svc := NewVerificationService(repo, templates.New(cfg), &fakeSender{}, publisher, elog, clk, cfg, newNoopLogger())
	return svc, repo, publisher, clk
}

func testUser() *models.User {
	return &models.User{ID: 42, Email: "member@example.com", Username: "member", SubscriptionStatus: "trial"}
}

func TestVerify_Success(t *testing.T) {
	svc, repo, publisher, _ := newTestService(t, testUser())
	ctx := context.Background()

	tok, err := svc.IssueVerificationToken(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, svc.Verify(ctx, 42, tok))

	user, err := repo.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.True(t, user.IsVerified())
	assert.Equal(t, []string{rabbitmq.KeyVerified}, publisher.events)
}

func TestVerify_SingleUse(t *testing.T) {
	svc, _, _, _ := newTestService(t, testUser())
	ctx := context.Background()

	tok, err := svc.IssueVerificationToken(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, svc.Verify(ctx, 42, tok))
	err = svc.Verify(ctx, 42, tok)
	require.ErrorIs(t, err, ErrValidation, "token record is deleted on success, replay fails")
}

func TestVerify_TTLBoundary(t *testing.T) {
	tests := []struct {
		name    string
		advance int64
		wantErr error
	}{
		{name: "one second before expiry", advance: 172799, wantErr: nil},
		{name: "one second after expiry", advance: 172801, wantErr: ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, clk := newTestService(t, testUser())
			ctx := context.Background()

			tok, err := svc.IssueVerificationToken(ctx, 42)
			require.NoError(t, err)

			clk.Advance(tt.advance)
			err = svc.Verify(ctx, 42, tok)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestVerify_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t, testUser())
	ctx := context.Background()

	tok, err := svc.IssueVerificationToken(ctx, 42)
	require.NoError(t, err)

	tests := []struct {
		name   string
		userID int64
		token  string
	}{
		{name: "zero user id", userID: 0, token: tok},
		{name: "negative user id", userID: -1, token: tok},
		{name: "empty token", userID: 42, token: ""},
		{name: "wrong token", userID: 42, token: "deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, svc.Verify(ctx, tt.userID, tt.token), ErrValidation)
		})
	}
}

func TestVerify_RotationInvalidatesOldToken(t *testing.T) {
	svc, _, _, _ := newTestService(t, testUser())
	ctx := context.Background()

	oldTok, err := svc.IssueVerificationToken(ctx, 42)
	require.NoError(t, err)
	newTok, err := svc.IssueVerificationToken(ctx, 42)
	require.NoError(t, err)

	require.ErrorIs(t, svc.Verify(ctx, 42, oldTok), ErrValidation)
	require.NoError(t, svc.Verify(ctx, 42, newTok))
}

func TestVerify_NeverExpiresWithZeroTTL(t *testing.T) {
	svc, _, _, clk := newTestService(t, testUser())
	svc.cfg.VerifyTokenTTL = 0
	ctx := context.Background()

	tok, err := svc.IssueVerificationToken(ctx, 42)
	require.NoError(t, err)

	clk.Advance(10 * 365 * 86400)
	require.NoError(t, svc.Verify(ctx, 42, tok))
}

func TestUnsubscribe_RotatesToken(t *testing.T) {
	svc, repo, publisher, _ := newTestService(t, testUser())
	ctx := context.Background()

	tok, err := svc.IssueUnsubscribeToken(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, svc.Unsubscribe(ctx, 42, tok))

	user, err := repo.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.True(t, user.MarketingOptOut)
	assert.Equal(t, []string{rabbitmq.KeyUnsubscribed}, publisher.events)

	// The used link is dead, the freshly rotated one works.
	require.ErrorIs(t, svc.Unsubscribe(ctx, 42, tok), ErrValidation)

	raw, found, err := repo.GetUserMeta(ctx, 42, models.MetaUnsubscribeToken)
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, raw, tok, "stored token differs after rotation")

	var record models.TokenRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &record))
	require.NoError(t, svc.Unsubscribe(ctx, 42, record.Token))
}

func TestSendVerificationEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t, testUser())
	sender := &fakeSender{}
	svc.sender = sender
	ctx := context.Background()

	require.NoError(t, svc.SendVerificationEmail(ctx, testUser()))
	assert.Equal(t, []string{"member@example.com"}, sender.sent)
}

func TestSendVerificationEmail_TransientFailure(t *testing.T) {
	svc, _, _, _ := newTestService(t, testUser())
	svc.sender = &fakeSender{fail: true}

	err := svc.SendVerificationEmail(context.Background(), testUser())
	require.Error(t, err)
}

func TestResendVerification(t *testing.T) {
	svc, repo, _, _ := newTestService(t, testUser())
	sender := &fakeSender{}
	svc.sender = sender
	ctx := context.Background()

	require.NoError(t, svc.ResendVerification(ctx, 42))
	require.Len(t, sender.sent, 1)

	// После подтверждения повторная отправка отклоняется.
	raw, _, err := repo.GetUserMeta(ctx, 42, models.MetaVerifyToken)
	require.NoError(t, err)
	var rec models.TokenRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	require.NoError(t, svc.Verify(ctx, 42, rec.Token))

	err = svc.ResendVerification(ctx, 42)
	require.ErrorIs(t, err, ErrAlreadyVerified)
	assert.Len(t, sender.sent, 1)
}

func TestUnsubscribeURLFor(t *testing.T) {
	svc, _, _, _ := newTestService(t, testUser())
	ctx := context.Background()

	first, err := svc.UnsubscribeURLFor(ctx, 42)
	require.NoError(t, err)
	assert.Contains(t, first, "https://membership.example/unsubscribe?u=42&t=")

	second, err := svc.UnsubscribeURLFor(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, first, second, "existing token is reused, not rotated")
}
