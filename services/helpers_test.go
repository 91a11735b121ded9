package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"challenge-tasks/database"
	"challenge-tasks/events"
	"challenge-tasks/metrics"
	"challenge-tasks/models"
	"challenge-tasks/utils"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sentNotification struct {
	UserID  string
	Payload models.NotificationPayload
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentNotification
	failFor map[string]bool
}

func (n *recordingNotifier) AddNotification(_ context.Context, userID string, p models.NotificationPayload) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[userID] {
		return nil, errors.New("sink unavailable")
	}
	n.sent = append(n.sent, sentNotification{UserID: userID, Payload: p})
	return &models.Notification{ID: "n", UserID: userID, NotificationPayload: p}, nil
}

func (n *recordingNotifier) forUser(userID string) []models.NotificationPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.NotificationPayload
	for _, s := range n.sent {
		if s.UserID == userID {
			out = append(out, s.Payload)
		}
	}
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	db        *gorm.DB
	clock     *clockwork.FakeClock
	calendar  *utils.Calendar
	notifier  *recordingNotifier
	publisher *recordingPublisher
	metrics   *metrics.Metrics

	stats     *StatsService
	wallets   *WalletService
	lifecycle *LifecycleService
	scores    *ScoresService
	reminders *ReminderService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// A single connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// newTestEnv wires every service against sqlite with the clock frozen at now.
func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(now)
	calendar, err := utils.LoadCalendar(clock, utils.DefaultTimezone)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	converter, err := utils.NewCurrencyConverter("RWF")
	if err != nil {
		t.Fatalf("converter: %v", err)
	}
	log := zerolog.Nop()
	m := metrics.New(prometheus.NewRegistry())
	notifier := &recordingNotifier{failFor: map[string]bool{}}
	publisher := &recordingPublisher{}

	stats := NewStatsService(db, calendar, converter, log)
	wallets := NewWalletService(db, clock, 100, publisher, m, log)
	return &testEnv{
		db:        db,
		clock:     clock,
		calendar:  calendar,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		stats:     stats,
		wallets:   wallets,
		lifecycle: NewLifecycleService(db, stats, notifier, publisher, calendar, m, log),
		scores:    NewScoresService(db, wallets, stats, notifier, publisher, converter, calendar, 3, m, log),
		reminders: NewReminderService(db, notifier, calendar, 3, m, log),
	}
}

func (e *testEnv) create(t *testing.T, records ...any) {
	t.Helper()
	for _, r := range records {
		if err := e.db.Create(r).Error; err != nil {
			t.Fatalf("create %T: %v", r, err)
		}
	}
}

func (e *testEnv) challenge(t *testing.T, id string) models.Challenge {
	t.Helper()
	var ch models.Challenge
	if err := e.db.Where("id = ?", id).First(&ch).Error; err != nil {
		t.Fatalf("load challenge %s: %v", id, err)
	}
	return ch
}

func (e *testEnv) enrollment(t *testing.T, id string) models.Enrollment {
	t.Helper()
	var en models.Enrollment
	if err := e.db.Where("id = ?", id).First(&en).Error; err != nil {
		t.Fatalf("load enrollment %s: %v", id, err)
	}
	return en
}

func (e *testEnv) metric(t *testing.T, subject models.StatSubject, subjectID, name string) *models.StatMetric {
	t.Helper()
	var m models.StatMetric
	err := e.db.Where("document_id = ? AND name = ?", models.StatDocumentID(subject, subjectID), name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("load metric %s: %v", name, err)
	}
	return &m
}

func newChallenge(id string, status models.ChallengeStatus, deadline time.Time) *models.Challenge {
	return &models.Challenge{
		ID:             id,
		Title:          "Challenge " + id,
		OrganizationID: "org-1",
		Visibility:     models.VisibilityPublic,
		Status:         status,
		Deadline:       deadline,
		TotalPrize:     decimal.Zero,
		Currency:       "USD",
	}
}

func withPrizes(ch *models.Challenge, currency string, first, second, third int64) *models.Challenge {
	ch.Currency = currency
	ch.PrizeDistribution = datatypes.NewJSONType(models.PrizeDistribution{
		First:  decimal.NewFromInt(first),
		Second: decimal.NewFromInt(second),
		Third:  decimal.NewFromInt(third),
	})
	ch.TotalPrize = decimal.NewFromInt(first + second + third)
	return ch
}

func score(v float64) *float64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func kigali(t *testing.T, year int, month time.Month, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(utils.DefaultTimezone)
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}
