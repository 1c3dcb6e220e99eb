package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
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

const scanNow = int64(1700000000)

type fakeDirectory struct {
	users    []*models.User
	meta     map[int64]map[string]string
	metaErrs map[string]error
}

func newFakeDirectory(users ...*models.User) *fakeDirectory {
	return &fakeDirectory{users: users, meta: make(map[int64]map[string]string)}
}

func (d *fakeDirectory) putMeta(userID int64, key, value string) {
	if d.meta[userID] == nil {
		d.meta[userID] = make(map[string]string)
	}
	d.meta[userID][key] = value
}

func (d *fakeDirectory) FindExpiringWithin(_ context.Context, now, window int64) ([]*models.User, error) {
	var out []*models.User
	for _, u := range d.users {
		if u.ExpiryTimestamp > 0 && u.ExpiryTimestamp <= now+window {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *fakeDirectory) FindWithExpiry(_ context.Context) ([]*models.User, error) {
	var out []*models.User
	for _, u := range d.users {
		if u.ExpiryTimestamp > 0 {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetUserMeta(_ context.Context, userID int64, key string) (string, bool, error) {
	if err := d.metaErrs[key]; err != nil {
		return "", false, err
	}
	value, ok := d.meta[userID][key]
	return value, ok, nil
}

func (d *fakeDirectory) SetUserMeta(_ context.Context, userID int64, key, value string) error {
	d.putMeta(userID, key, value)
	return nil
}

func (d *fakeDirectory) DeleteUserMeta(_ context.Context, userID int64, key string) error {
	delete(d.meta[userID], key)
	return nil
}

func (d *fakeDirectory) HasUserMeta(_ context.Context, userID int64, key string) (bool, error) {
	if err := d.metaErrs[key]; err != nil {
		return false, err
	}
	_, ok := d.meta[userID][key]
	return ok, nil
}

type enqueuedJob struct {
	hookID string
	userID int64
	args   []any
}

type fakeQueue struct {
	jobs    []enqueuedJob
	failFor map[int64]error
}

func (q *fakeQueue) Enqueue(_ context.Context, hookID string, userID int64, args []any) error {
	if err := q.failFor[userID]; err != nil {
		return err
	}
	q.jobs = append(q.jobs, enqueuedJob{hookID: hookID, userID: userID, args: args})
	return nil
}

type fakeBus struct {
	events []string
}

func (b *fakeBus) Publish(routingKey string, _ any) error {
	b.events = append(b.events, routingKey)
	return nil
}

type fakeMailer struct {
	sent []string
	fail bool
}

func (m *fakeMailer) SendMail(_ context.Context, to, _, _ string, _ []string) bool {
	if m.fail {
		return false
	}
	m.sent = append(m.sent, to)
	return true
}

func newScanner(t *testing.T, dir *fakeDirectory) (*ScannerService, *fakeQueue, *fakeBus, *fakeMailer) {
	t.Helper()
	q := &fakeQueue{}
	bus := &fakeBus{}
	mailer := &fakeMailer{}
	clk := &clock.Fake{Current: scanNow}
	cfg := config.Notifier{
		SiteName:       "Membership",
		SiteURL:        "https://membership.example",
		VerifyTokenTTL: 48 * time.Hour,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	elog := eventlog.New(kvstore.NewMemory(), clk, log)
	svc := NewScannerService(dir, q, bus, mailer, nil, templates.New(cfg), elog, clk, cfg, log)
	return svc, q, bus, mailer
}

func trialUser(id int64, expiry int64) *models.User {
	return &models.User{
		ID:                 id,
		Email:              "trial@example.com",
		Username:           "trial-user",
		SubscriptionStatus: models.PlanTrial,
		ExpiryTimestamp:    expiry,
	}
}

func monthlyUser(id int64, expiry int64) *models.User {
	return &models.User{
		ID:                 id,
		Email:              "monthly@example.com",
		Username:           "monthly-user",
		SubscriptionStatus: "active",
		ExpiryTimestamp:    expiry,
	}
}

func TestRunScan_ExpiredTrialFiresOnce(t *testing.T) {
	dir := newFakeDirectory(trialUser(1, scanNow-10))
	dir.putMeta(1, models.MetaPlanID, "trial")
	svc, q, bus, _ := newScanner(t, dir)

	stats := svc.RunScan(context.Background())

	require.Len(t, q.jobs, 1)
	assert.Equal(t, HookPlanExpired, q.jobs[0].hookID)
	assert.Equal(t, int64(1), q.jobs[0].userID)
	assert.Equal(t, []any{models.PlanTrial}, q.jobs[0].args)
	assert.Equal(t, []string{rabbitmq.KeyTrialExpired}, bus.events)
	assert.Equal(t, 1, stats.Enqueued)

	// Повторный проход: флаг уже стоит, ничего не дублируется,
	// пользователь учитывается как пропущенный.
	stats = svc.RunScan(context.Background())
	assert.Len(t, q.jobs, 1)
	assert.Len(t, bus.events, 1)
	assert.Equal(t, 0, stats.Enqueued)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRunScan_ExpiredPaidUsesSubscriptionFlag(t *testing.T) {
	dir := newFakeDirectory(monthlyUser(2, scanNow-10))
	dir.putMeta(2, models.MetaPlanID, "monthly")
	svc, q, bus, _ := newScanner(t, dir)

	svc.RunScan(context.Background())

	require.Len(t, q.jobs, 1)
	assert.Equal(t, []string{rabbitmq.KeySubscriptionExpired}, bus.events)
	_, hasTrialFlag := dir.meta[2][models.MetaSentTrialExpired]
	assert.False(t, hasTrialFlag)
	_, hasSubFlag := dir.meta[2][models.MetaSentSubExpired]
	assert.True(t, hasSubFlag)
}

func TestRunScan_ReminderFlagGated(t *testing.T) {
	// Истекает через 12 часов: daysRemaining = 1.
	dir := newFakeDirectory(monthlyUser(3, scanNow+43200))
	dir.putMeta(3, models.MetaPlanID, "month")
	svc, q, bus, mailer := newScanner(t, dir)

	svc.RunScan(context.Background())

	require.Len(t, q.jobs, 1)
	assert.Equal(t, HookPlanReminder, q.jobs[0].hookID)
	assert.Equal(t, []any{models.PlanMonthly, int64(1)}, q.jobs[0].args)
	assert.Empty(t, bus.events)
	// Флаг напоминания стоит, значит прямой путь за 3 дня тоже молчит.
	assert.Empty(t, mailer.sent)

	svc.RunScan(context.Background())
	assert.Len(t, q.jobs, 1, "flag prevents re-enqueueing on the next run")
}

func TestRunScan_LegacyPlanMetaFallback(t *testing.T) {
	dir := newFakeDirectory(monthlyUser(4, scanNow-10))
	dir.putMeta(4, models.MetaPlanIDLegacy, "Yearly")
	svc, q, _, _ := newScanner(t, dir)

	svc.RunScan(context.Background())

	require.Len(t, q.jobs, 1)
	assert.Equal(t, []any{models.PlanYearly}, q.jobs[0].args)
}

func TestRunScan_UnmappedPlanSkipped(t *testing.T) {
	dir := newFakeDirectory(monthlyUser(5, scanNow-10))
	dir.putMeta(5, models.MetaPlanID, "lifetime")
	svc, q, bus, _ := newScanner(t, dir)

	stats := svc.RunScan(context.Background())

	assert.Empty(t, q.jobs)
	assert.Empty(t, bus.events)
	assert.GreaterOrEqual(t, stats.Skipped, 1)
	_, flagged := dir.meta[5][models.MetaSentSubExpired]
	assert.False(t, flagged, "no flag is set for a skipped user")
}

func TestRunScan_DirectReminderThreeDays(t *testing.T) {
	// Вне суточного окна очереди, но внутри трехдневного окна прямой отправки.
	dir := newFakeDirectory(monthlyUser(6, scanNow+2*86400))
	dir.putMeta(6, models.MetaPlanID, "monthly")
	svc, q, _, mailer := newScanner(t, dir)

	stats := svc.RunScan(context.Background())

	assert.Empty(t, q.jobs)
	require.Equal(t, []string{"monthly@example.com"}, mailer.sent)
	assert.Equal(t, 1, stats.Sent)
	_, flagged := dir.meta[6][models.MetaSentPlanReminder]
	assert.True(t, flagged)

	svc.RunScan(context.Background())
	assert.Len(t, mailer.sent, 1, "direct reminder fires at most once")
}

func TestRunScan_Comeback(t *testing.T) {
	dir := newFakeDirectory(monthlyUser(7, scanNow-31*86400))
	svc, _, _, mailer := newScanner(t, dir)

	svc.RunScan(context.Background())

	require.Equal(t, []string{"monthly@example.com"}, mailer.sent)
	_, flagged := dir.meta[7][models.MetaSentComeback]
	assert.True(t, flagged)

	svc.RunScan(context.Background())
	assert.Len(t, mailer.sent, 1)
}

func TestRunScan_ComebackRespectsOptOut(t *testing.T) {
	user := monthlyUser(8, scanNow-31*86400)
	user.MarketingOptOut = true
	dir := newFakeDirectory(user)
	svc, _, _, mailer := newScanner(t, dir)

	svc.RunScan(context.Background())

	assert.Empty(t, mailer.sent)
	_, flagged := dir.meta[8][models.MetaSentComeback]
	assert.False(t, flagged)
}

func TestRunScan_FailureDoesNotHaltScan(t *testing.T) {
	dir := newFakeDirectory(trialUser(9, scanNow-10), monthlyUser(10, scanNow-10))
	dir.putMeta(9, models.MetaPlanID, "trial")
	dir.putMeta(10, models.MetaPlanID, "monthly")
	svc, q, _, _ := newScanner(t, dir)
	q.failFor = map[int64]error{9: errors.New("queue storage down")}

	stats := svc.RunScan(context.Background())

	require.Len(t, q.jobs, 1, "second user is still processed")
	assert.Equal(t, int64(10), q.jobs[0].userID)
	assert.Equal(t, 1, stats.Failed)
	_, flagged := dir.meta[9][models.MetaSentTrialExpired]
	assert.False(t, flagged, "flag is not set when enqueue fails")
}

func TestCeilDays(t *testing.T) {
	tests := []struct {
		diff int64
		want int64
	}{
		{diff: 1, want: 1},
		{diff: 86400, want: 1},
		{diff: 86401, want: 2},
		{diff: 3 * 86400, want: 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ceilDays(tt.diff))
	}
}
