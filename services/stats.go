package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"challenge-tasks/models"
	"challenge-tasks/utils"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsService maintains the per-subject stat documents. Every write is a
// row-locked read-modify-write inside a transaction, so concurrent writers
// never lose an array element or an increment.
type StatsService struct {
	DB        *gorm.DB
	calendar  *utils.Calendar
	converter *utils.CurrencyConverter
	logger    zerolog.Logger
}

func NewStatsService(db *gorm.DB, calendar *utils.Calendar, converter *utils.CurrencyConverter, logger zerolog.Logger) *StatsService {
	return &StatsService{
		DB:        db,
		calendar:  calendar,
		converter: converter,
		logger:    logger.With().Str("component", "stats").Logger(),
	}
}

func (s *StatsService) Get(ctx context.Context, subject models.StatSubject, subjectID string) (*models.StatDocument, error) {
	var doc models.StatDocument
	err := s.DB.WithContext(ctx).
		Preload("Metrics", func(db *gorm.DB) *gorm.DB { return db.Order("name") }).
		Where("id = ?", models.StatDocumentID(subject, subjectID)).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ArrayRemove drops ids from an array metric. Missing documents or metrics
// are left alone.
func (s *StatsService) ArrayRemove(ctx context.Context, subject models.StatSubject, subjectID, name string, ids ...string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return arrayRemove(tx, models.StatDocumentID(subject, subjectID), name, ids...)
	})
}

// ArrayUnion adds ids to an array metric, creating it when needed.
func (s *StatsService) ArrayUnion(ctx context.Context, subject models.StatSubject, subjectID, name string, ids ...string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docID, err := ensureDocument(tx, subject, subjectID)
		if err != nil {
			return err
		}
		metric, err := lockOrCreateMetric(tx, docID, name, models.MetricKindArray)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if !containsString(metric.IDs, id) {
				metric.IDs = append(metric.IDs, id)
			}
		}
		return saveMetric(tx, metric)
	})
}

// Increment adds delta to a scalar metric.
func (s *StatsService) Increment(ctx context.Context, subject models.StatSubject, subjectID, name string, delta float64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docID, err := ensureDocument(tx, subject, subjectID)
		if err != nil {
			return err
		}
		metric, err := lockOrCreateMetric(tx, docID, name, models.MetricKindScalar)
		if err != nil {
			return err
		}
		metric.Value += delta
		return saveMetric(tx, metric)
	})
}

// AddPrizeOnce adds amount to a prize-pool metric unless trackingID was
// already counted. It reports whether the amount was added.
func (s *StatsService) AddPrizeOnce(ctx context.Context, subject models.StatSubject, subjectID, name, trackingID string, amount float64) (bool, error) {
	var added bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		added, err = addPrizeOnce(tx, subject, subjectID, name, trackingID, amount)
		return err
	})
	return added, err
}

// CompletionRateUpdate is the outcome of folding one closed challenge into
// an organization's weighted completion rate.
type CompletionRateUpdate struct {
	Previous            float64
	Current             float64
	TrackedParticipants int64
	TrackedSubmissions  int64
}

// ApplyChallengeClosed folds a closed challenge into the organization's
// stats within tx: the challenge leaves activeChallengeIds and the weighted
// completion rate absorbs its counts, keeping the old rate as prev.
func (s *StatsService) ApplyChallengeClosed(tx *gorm.DB, orgID, challengeID string, participants, submissions int) (*CompletionRateUpdate, error) {
	docID, err := ensureDocument(tx, models.StatSubjectOrganization, orgID)
	if err != nil {
		return nil, err
	}
	var doc models.StatDocument
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", docID).First(&doc).Error; err != nil {
		return nil, fmt.Errorf("lock stats %s: %w", docID, err)
	}

	if err := arrayRemove(tx, docID, models.MetricActiveChallengeIDs, challengeID); err != nil {
		return nil, err
	}

	doc.TrackedParticipants += int64(participants)
	doc.TrackedSubmissions += int64(submissions)
	if err := tx.Model(&doc).Updates(map[string]any{
		"tracked_participants": doc.TrackedParticipants,
		"tracked_submissions":  doc.TrackedSubmissions,
	}).Error; err != nil {
		return nil, fmt.Errorf("update tracked counts %s: %w", docID, err)
	}

	metric, err := lockOrCreateMetric(tx, docID, models.MetricCompletionRate, models.MetricKindScalar)
	if err != nil {
		return nil, err
	}
	update := &CompletionRateUpdate{
		Previous:            metric.Value,
		Current:             float64(percent(doc.TrackedSubmissions, doc.TrackedParticipants)),
		TrackedParticipants: doc.TrackedParticipants,
		TrackedSubmissions:  doc.TrackedSubmissions,
	}
	metric.Prev = update.Previous
	metric.Value = update.Current
	if err := saveMetric(tx, metric); err != nil {
		return nil, err
	}
	return update, nil
}

// ApplyPrizesDistributed records a completed challenge on its organization
// within tx: it leaves activeChallengeIds and its USD prize total is added
// to prizesDistributed once.
func (s *StatsService) ApplyPrizesDistributed(tx *gorm.DB, orgID, challengeID string, usd decimal.Decimal) error {
	docID := models.StatDocumentID(models.StatSubjectOrganization, orgID)
	if err := arrayRemove(tx, docID, models.MetricActiveChallengeIDs, challengeID); err != nil {
		return err
	}
	_, err := addPrizeOnce(tx, models.StatSubjectOrganization, orgID, models.MetricPrizesDistributed, challengeID, usd.InexactFloat64())
	return err
}

type RolloverSummary struct {
	Skipped   bool
	Period    string
	Documents int
	Metrics   int
	Failed    int
}

// RolloverMonthly copies every metric's current magnitude into prev. It only
// acts on the first day of the month and at most once per document per month.
func (s *StatsService) RolloverMonthly(ctx context.Context) (*RolloverSummary, error) {
	if !s.calendar.IsFirstOfMonth() {
		s.logger.Debug().Msg("not the first of the month, rollover skipped")
		return &RolloverSummary{Skipped: true}, nil
	}
	period := s.calendar.Period()
	summary := &RolloverSummary{Period: period}

	var docIDs []string
	err := s.DB.WithContext(ctx).Model(&models.StatDocument{}).
		Where("last_rollover_period IS NULL OR last_rollover_period <> ?", period).
		Order("id").
		Pluck("id", &docIDs).Error
	if err != nil {
		return nil, fmt.Errorf("list stat documents: %w", err)
	}

	for _, docID := range docIDs {
		n, err := s.rolloverDocument(ctx, docID, period)
		if err != nil {
			summary.Failed++
			s.logger.Error().Err(err).Str("document", docID).Msg("rollover failed")
			continue
		}
		if n >= 0 {
			summary.Documents++
			summary.Metrics += n
		}
	}

	s.logger.Info().
		Str("period", period).
		Int("documents", summary.Documents).
		Int("metrics", summary.Metrics).
		Int("failed", summary.Failed).
		Msg("monthly stats rollover finished")
	return summary, nil
}

// rolloverDocument returns the number of metrics rolled, or -1 when another
// run already handled this period.
func (s *StatsService) rolloverDocument(ctx context.Context, docID, period string) (int, error) {
	rolled := -1
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.StatDocument
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", docID).First(&doc).Error; err != nil {
			return err
		}
		if doc.LastRolloverPeriod == period {
			return nil
		}
		var metrics []models.StatMetric
		if err := tx.Where("document_id = ?", docID).Find(&metrics).Error; err != nil {
			return err
		}
		for i := range metrics {
			m := &metrics[i]
			if err := tx.Model(m).Update("prev", m.Magnitude()).Error; err != nil {
				return fmt.Errorf("roll %s: %w", m.Name, err)
			}
		}
		if err := tx.Model(&doc).Update("last_rollover_period", period).Error; err != nil {
			return err
		}
		rolled = len(metrics)
		return nil
	})
	return rolled, err
}

type PublicStats struct {
	TotalChallenges   int64
	TotalParticipants int64
	TotalPrizes       decimal.Decimal
}

// RecomputePublicStats rebuilds the landing-page counters from source
// records. Each value's prior reading becomes its prev.
func (s *StatsService) RecomputePublicStats(ctx context.Context) (*PublicStats, error) {
	db := s.DB.WithContext(ctx)
	out := &PublicStats{TotalPrizes: decimal.Zero}

	err := db.Model(&models.Challenge{}).
		Where("visibility = ? AND status IN ?", models.VisibilityPublic,
			[]models.ChallengeStatus{models.ChallengeStatusActive, models.ChallengeStatusCompleted}).
		Count(&out.TotalChallenges).Error
	if err != nil {
		return nil, fmt.Errorf("count public challenges: %w", err)
	}

	err = db.Model(&models.User{}).Where("user_type = ?", models.UserTypeParticipant).Count(&out.TotalParticipants).Error
	if err != nil {
		return nil, fmt.Errorf("count participants: %w", err)
	}

	var completed []models.Challenge
	err = db.Select("id", "total_prize", "currency").
		Where("status = ?", models.ChallengeStatusCompleted).
		Find(&completed).Error
	if err != nil {
		return nil, fmt.Errorf("load completed challenges: %w", err)
	}
	for _, ch := range completed {
		out.TotalPrizes = out.TotalPrizes.Add(s.converter.ToUSD(ch.TotalPrize, ch.Currency))
	}

	values := map[string]float64{
		models.MetricTotalChallenges:   float64(out.TotalChallenges),
		models.MetricTotalParticipants: float64(out.TotalParticipants),
		models.MetricTotalPrizes:       out.TotalPrizes.InexactFloat64(),
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		docID, err := ensureDocument(tx, models.StatSubjectGlobal, models.PublicStatsID)
		if err != nil {
			return err
		}
		for _, name := range []string{models.MetricTotalChallenges, models.MetricTotalParticipants, models.MetricTotalPrizes} {
			metric, err := lockOrCreateMetric(tx, docID, name, models.MetricKindScalar)
			if err != nil {
				return err
			}
			metric.Prev = metric.Value
			metric.Value = values[name]
			if err := saveMetric(tx, metric); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("write public stats: %w", err)
	}

	s.logger.Info().
		Int64("challenges", out.TotalChallenges).
		Int64("participants", out.TotalParticipants).
		Str("prizes_usd", out.TotalPrizes.StringFixed(2)).
		Msg("public stats recomputed")
	return out, nil
}

func ensureDocument(tx *gorm.DB, subject models.StatSubject, subjectID string) (string, error) {
	doc := models.StatDocument{
		ID:        models.StatDocumentID(subject, subjectID),
		Subject:   subject,
		SubjectID: subjectID,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&doc).Error; err != nil {
		return "", fmt.Errorf("ensure stats %s: %w", doc.ID, err)
	}
	return doc.ID, nil
}

func lockMetric(tx *gorm.DB, docID, name string) (*models.StatMetric, error) {
	var metric models.StatMetric
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("document_id = ? AND name = ?", docID, name).
		First(&metric).Error
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

func lockOrCreateMetric(tx *gorm.DB, docID, name string, kind models.MetricKind) (*models.StatMetric, error) {
	metric, err := lockMetric(tx, docID, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fresh := models.StatMetric{
			DocumentID: docID,
			Name:       name,
			Kind:       kind,
			IDs:        datatypes.JSONSlice[string]{},
			TrackedIDs: datatypes.JSONSlice[string]{},
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
			return nil, fmt.Errorf("create metric %s/%s: %w", docID, name, err)
		}
		metric, err = lockMetric(tx, docID, name)
	}
	if err != nil {
		return nil, fmt.Errorf("lock metric %s/%s: %w", docID, name, err)
	}
	if metric.Kind != kind {
		return nil, fmt.Errorf("%w: %s/%s is %s, want %s", ErrMetricKindMismatch, docID, name, metric.Kind, kind)
	}
	return metric, nil
}

func saveMetric(tx *gorm.DB, metric *models.StatMetric) error {
	if err := tx.Save(metric).Error; err != nil {
		return fmt.Errorf("save metric %s/%s: %w", metric.DocumentID, metric.Name, err)
	}
	return nil
}

func arrayRemove(tx *gorm.DB, docID, name string, ids ...string) error {
	metric, err := lockMetric(tx, docID, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock metric %s/%s: %w", docID, name, err)
	}
	if metric.Kind != models.MetricKindArray {
		return fmt.Errorf("%w: %s/%s is %s, want %s", ErrMetricKindMismatch, docID, name, metric.Kind, models.MetricKindArray)
	}
	kept := make(datatypes.JSONSlice[string], 0, len(metric.IDs))
	for _, existing := range metric.IDs {
		if !containsString(ids, existing) {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(metric.IDs) {
		return nil
	}
	metric.IDs = kept
	return saveMetric(tx, metric)
}

func addPrizeOnce(tx *gorm.DB, subject models.StatSubject, subjectID, name, trackingID string, amount float64) (bool, error) {
	docID, err := ensureDocument(tx, subject, subjectID)
	if err != nil {
		return false, err
	}
	metric, err := lockOrCreateMetric(tx, docID, name, models.MetricKindPrizePool)
	if err != nil {
		return false, err
	}
	if containsString(metric.TrackedIDs, trackingID) {
		return false, nil
	}
	metric.Value += amount
	metric.TrackedIDs = append(metric.TrackedIDs, trackingID)
	return true, saveMetric(tx, metric)
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// percent returns round(100*part/whole), or 0 when whole is 0.
func percent[T int | int64](part, whole T) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}
