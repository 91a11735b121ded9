package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"challenge-tasks/events"
	"challenge-tasks/metrics"
	"challenge-tasks/models"
	"challenge-tasks/utils"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScoresService completes judged challenges whose scores were released:
// winners are paid, every submitter hears the results, and the challenge
// moves to completed.
type ScoresService struct {
	DB        *gorm.DB
	wallets   *WalletService
	stats     *StatsService
	courier   courier
	publisher events.Publisher
	converter *utils.CurrencyConverter
	calendar  *utils.Calendar
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	// maxAttempts bounds how many runs retry a release whose credits keep
	// failing before the challenge completes with those awards unpaid.
	maxAttempts int
}

func NewScoresService(db *gorm.DB, wallets *WalletService, stats *StatsService, notifier Notifier, publisher events.Publisher, converter *utils.CurrencyConverter, calendar *utils.Calendar, maxAttempts int, m *metrics.Metrics, logger zerolog.Logger) *ScoresService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	logger = logger.With().Str("component", "scores").Logger()
	return &ScoresService{
		DB:        db,
		wallets:   wallets,
		stats:     stats,
		courier:   courier{notifier: notifier, metrics: m, logger: logger},
		publisher: publisher,
		converter: converter,
		calendar:  calendar,
		metrics:   m,
		logger:    logger,

		maxAttempts: maxAttempts,
	}
}

type ReleaseSummary struct {
	Challenges           int
	Completed            int
	Failed               int
	WinnersProcessed     int
	ParticipantsNotified int
	TotalDistributed     decimal.Decimal
}

// ProcessReleasedScores handles every judging challenge with released scores.
func (s *ScoresService) ProcessReleasedScores(ctx context.Context) (*ReleaseSummary, error) {
	var challenges []models.Challenge
	err := s.DB.WithContext(ctx).
		Where("status = ? AND scores_released = ?", models.ChallengeStatusJudging, true).
		Order("id").
		Find(&challenges).Error
	if err != nil {
		return nil, fmt.Errorf("load released challenges: %w", err)
	}

	summary := &ReleaseSummary{TotalDistributed: decimal.Zero}
	for i := range challenges {
		ch := &challenges[i]
		summary.Challenges++
		stats, err := s.releaseChallenge(ctx, ch)
		if err != nil {
			summary.Failed++
			s.logger.Error().Err(err).Str("challenge_id", ch.ID).Msg("score release failed")
			continue
		}
		summary.Completed++
		summary.WinnersProcessed += stats.WinnersProcessed
		summary.ParticipantsNotified += stats.ParticipantsNotified
		summary.TotalDistributed = summary.TotalDistributed.Add(stats.TotalPrizeDistributed)
	}

	s.logger.Info().
		Int("challenges", summary.Challenges).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Str("distributed_usd", summary.TotalDistributed.StringFixed(2)).
		Msg("released scores processed")
	return summary, nil
}

func (s *ScoresService) releaseChallenge(ctx context.Context, ch *models.Challenge) (*models.PrizeDistributionStats, error) {
	if !ch.Status.CanTransitionTo(models.ChallengeStatusCompleted) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ch.Status, models.ChallengeStatusCompleted)
	}
	log := s.logger.With().Str("challenge_id", ch.ID).Logger()

	awards, err := s.resolveAwards(ctx, ch)
	if err != nil {
		return nil, err
	}

	stats := models.PrizeDistributionStats{TotalPrizeDistributed: decimal.Zero}
	winners := make(map[string]struct{})
	announced := make(map[string]struct{}, len(ch.AwardsNotified))
	for _, key := range ch.AwardsNotified {
		announced[key] = struct{}{}
	}
	var unpaid []string
	skipped := make(map[string]int)
	retryable := 0

	for _, p := range awards.Placements() {
		if p.Entry.ParticipantID == "" && p.Entry.TeamID == "" {
			log.Error().Str("award", p.Key).Msg("award names no winner, skipping")
			skipped["no_winner"]++
			unpaid = append(unpaid, p.Key)
			continue
		}
		recipients, err := s.recipients(ctx, p.Entry.ParticipantID, p.Entry.TeamID)
		if err != nil {
			log.Error().Err(err).Str("award", p.Key).Msg("award recipients not resolved")
			unpaid = append(unpaid, p.Key)
			retryable++
			continue
		}

		usd := s.converter.ToUSD(p.Entry.Prize, ch.Currency)
		req := CreditRequest{
			OwnerType:      models.OwnerTypeUser,
			OwnerID:        p.Entry.ParticipantID,
			Amount:         usd,
			Description:    fmt.Sprintf("%s prize for \"%s\" in %s", p.Label, p.Entry.ProjectTitle, ch.Title),
			ChallengeID:    ch.ID,
			AwardKey:       ch.ID + ":" + p.Key,
			SourceAmount:   p.Entry.Prize,
			SourceCurrency: ch.Currency,
		}
		if p.Entry.IsTeam() {
			req.OwnerType = models.OwnerTypeTeam
			req.OwnerID = p.Entry.TeamID
		}
		res, err := s.wallets.Credit(ctx, req)
		if errors.Is(err, ErrInvalidCredit) {
			log.Error().Err(err).Str("award", p.Key).Msg("award cannot be credited, skipping")
			skipped["invalid"]++
			unpaid = append(unpaid, p.Key)
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("award", p.Key).Msg("prize not credited")
			unpaid = append(unpaid, p.Key)
			retryable++
			continue
		}
		stats.WinnersProcessed++
		if res.Applied || res.Duplicate {
			stats.TotalPrizeDistributed = stats.TotalPrizeDistributed.Add(usd)
		}

		for _, userID := range recipients {
			winners[userID] = struct{}{}
		}
		// Each award is announced once, even across retries.
		if _, done := announced[p.Key]; done {
			continue
		}
		for _, userID := range recipients {
			if s.courier.send(ctx, userID, winnerNotice(ch, p, usd)) {
				stats.ParticipantsNotified++
			}
		}
		announced[p.Key] = struct{}{}
		s.markAnnounced(ctx, ch, p.Key)
	}

	attempts := ch.ReleaseAttempts + 1
	if retryable > 0 {
		if attempts < s.maxAttempts {
			s.recordAttempt(ctx, ch, attempts)
			// Credits are keyed per award, so the next run can safely retry.
			return nil, fmt.Errorf("%d award(s) not paid on attempt %d of %d, challenge left in judging", retryable, attempts, s.maxAttempts)
		}
		log.Error().
			Strs("unpaid_awards", unpaid).
			Int("attempts", attempts).
			Msg("release attempts exhausted, completing with unpaid awards")
		skipped["exhausted"] += retryable
	}
	stats.UnpaidAwards = unpaid

	var submissions []models.Submission
	err = s.DB.WithContext(ctx).
		Where("challenge_id = ? AND status = ?", ch.ID, models.SubmissionSubmitted).
		Order("id").
		Find(&submissions).Error
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	for _, sub := range submissions {
		recipients, err := s.recipients(ctx, sub.ParticipantID, sub.TeamID)
		if err != nil {
			log.Error().Err(err).Str("submission_id", sub.ID).Msg("submission recipients not resolved")
			continue
		}
		for _, userID := range recipients {
			if _, seen := winners[userID]; seen {
				continue
			}
			winners[userID] = struct{}{}
			if s.courier.send(ctx, userID, resultsNotice(ch)) {
				stats.ParticipantsNotified++
			}
		}
	}

	now := s.calendar.Now().UTC()
	stats.ProcessedAt = now
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Challenge{}).
			Where("id = ? AND status = ?", ch.ID, models.ChallengeStatusJudging).
			Updates(map[string]any{
				"status":                   models.ChallengeStatusCompleted,
				"completed_at":             now,
				"completed_reason":         models.ReasonScoresReleased,
				"prize_distribution_stats": datatypes.NewJSONType(stats),
				"release_attempts":         attempts,
			})
		if res.Error != nil {
			return fmt.Errorf("complete challenge: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: challenge %s is no longer judging", ErrInvalidTransition, ch.ID)
		}
		if ch.OrganizationID == "" {
			return nil
		}
		if err := s.stats.ApplyPrizesDistributed(tx, ch.OrganizationID, ch.ID, stats.TotalPrizeDistributed); err != nil {
			return fmt.Errorf("update organization stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ch.Status = models.ChallengeStatusCompleted
	s.metrics.IncChallengeAdvanced(string(models.ChallengeStatusCompleted))
	for reason, n := range skipped {
		s.metrics.AddUnpaidAwards(reason, n)
	}
	log.Info().
		Int("winners", stats.WinnersProcessed).
		Int("notified", stats.ParticipantsNotified).
		Str("distributed_usd", stats.TotalPrizeDistributed.StringFixed(2)).
		Msg("challenge completed")

	evt := events.New(events.TypeChallengeCompleted, ch.ID, events.ChallengeCompletedEvent{
		ChallengeID:           ch.ID,
		OrganizationID:        ch.OrganizationID,
		Title:                 ch.Title,
		WinnersProcessed:      stats.WinnersProcessed,
		ParticipantsNotified:  stats.ParticipantsNotified,
		TotalPrizeDistributed: stats.TotalPrizeDistributed.StringFixed(2),
	}, now)
	if err := s.publisher.Publish(ctx, evt); err != nil {
		log.Warn().Err(err).Msg("completed event not published")
	}
	return &stats, nil
}

// markAnnounced records that an award's winners were told, so a retried
// release does not tell them again.
func (s *ScoresService) markAnnounced(ctx context.Context, ch *models.Challenge, key string) {
	ch.AwardsNotified = append(ch.AwardsNotified, key)
	err := s.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ?", ch.ID).
		Update("awards_notified", ch.AwardsNotified).Error
	if err != nil {
		s.logger.Warn().Err(err).Str("challenge_id", ch.ID).Str("award", key).Msg("announced award not recorded")
	}
}

func (s *ScoresService) recordAttempt(ctx context.Context, ch *models.Challenge, attempts int) {
	err := s.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ?", ch.ID).
		Update("release_attempts", attempts).Error
	if err != nil {
		s.logger.Warn().Err(err).Str("challenge_id", ch.ID).Msg("release attempt not recorded")
		return
	}
	ch.ReleaseAttempts = attempts
}

// resolveAwards returns the challenge's awards, building and storing them
// from scored submissions when none were recorded yet.
func (s *ScoresService) resolveAwards(ctx context.Context, ch *models.Challenge) (models.Awards, error) {
	existing := ch.Awards.Data()
	if !existing.IsEmpty() {
		if err := s.fillTitles(ctx, &existing); err != nil {
			return models.Awards{}, err
		}
		return existing, nil
	}

	var scored []models.Submission
	err := s.DB.WithContext(ctx).
		Where("challenge_id = ? AND status = ? AND score IS NOT NULL", ch.ID, models.SubmissionSubmitted).
		Find(&scored).Error
	if err != nil {
		return models.Awards{}, fmt.Errorf("load scored submissions: %w", err)
	}
	awards := BuildAwards(ch.PrizeDistribution.Data(), rankSubmissions(scored), s.submissionLookup(ctx))
	if awards.IsEmpty() {
		return awards, nil
	}
	now := s.calendar.Now().UTC()
	awards.AwardedAt = &now

	res := s.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ?", ch.ID).
		Update("awards", datatypes.NewJSONType(awards))
	if res.Error != nil {
		return models.Awards{}, fmt.Errorf("store awards: %w", res.Error)
	}
	ch.Awards = datatypes.NewJSONType(awards)
	return awards, nil
}

// rankSubmissions orders by score descending; an earlier submission wins a tie.
func rankSubmissions(subs []models.Submission) []models.Submission {
	ranked := append([]models.Submission(nil), subs...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if *a.Score != *b.Score {
			return *a.Score > *b.Score
		}
		switch {
		case a.SubmittedAt == nil:
			return false
		case b.SubmittedAt == nil:
			return true
		default:
			return a.SubmittedAt.Before(*b.SubmittedAt)
		}
	})
	return ranked
}

// BuildAwards fills the podium from ranked submissions and attaches each
// additional prize that names a submission.
func BuildAwards(dist models.PrizeDistribution, ranked []models.Submission, lookup func(id string) (*models.Submission, error)) models.Awards {
	var awards models.Awards
	podium := []struct {
		slot  **models.AwardEntry
		prize decimal.Decimal
	}{
		{&awards.First, dist.First},
		{&awards.Second, dist.Second},
		{&awards.Third, dist.Third},
	}
	for i, p := range podium {
		if i >= len(ranked) {
			break
		}
		entry := awardEntry(ranked[i], p.prize)
		*p.slot = &entry
	}
	for _, extra := range dist.Additional {
		if extra.SubmissionID == "" {
			continue
		}
		sub, err := lookup(extra.SubmissionID)
		if err != nil || sub == nil {
			continue
		}
		awards.SpecialAwards = append(awards.SpecialAwards, models.SpecialAward{
			Name:       extra.Name,
			AwardEntry: awardEntry(*sub, extra.Amount),
		})
	}
	return awards
}

func awardEntry(sub models.Submission, prize decimal.Decimal) models.AwardEntry {
	return models.AwardEntry{
		SubmissionID:  sub.ID,
		ProjectTitle:  sub.ProjectTitle,
		Prize:         prize,
		ParticipantID: sub.ParticipantID,
		TeamID:        sub.TeamID,
	}
}

func (s *ScoresService) submissionLookup(ctx context.Context) func(id string) (*models.Submission, error) {
	return func(id string) (*models.Submission, error) {
		var sub models.Submission
		if err := s.DB.WithContext(ctx).Where("id = ? AND status = ?", id, models.SubmissionSubmitted).First(&sub).Error; err != nil {
			return nil, err
		}
		return &sub, nil
	}
}

// fillTitles resolves missing project titles of recorded awards.
func (s *ScoresService) fillTitles(ctx context.Context, awards *models.Awards) error {
	lookup := s.submissionLookup(ctx)
	fill := func(e *models.AwardEntry) error {
		if e == nil || e.ProjectTitle != "" || e.SubmissionID == "" {
			return nil
		}
		sub, err := lookup(e.SubmissionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("resolve submission %s: %w", e.SubmissionID, err)
		}
		e.ProjectTitle = sub.ProjectTitle
		return nil
	}
	for _, e := range []*models.AwardEntry{awards.First, awards.Second, awards.Third} {
		if err := fill(e); err != nil {
			return err
		}
	}
	for i := range awards.SpecialAwards {
		if err := fill(&awards.SpecialAwards[i].AwardEntry); err != nil {
			return err
		}
	}
	return nil
}

// recipients returns the users behind a submission: the team's active
// members, or the participant.
func (s *ScoresService) recipients(ctx context.Context, participantID, teamID string) ([]string, error) {
	if teamID == "" {
		if participantID == "" {
			return nil, fmt.Errorf("entry has neither participant nor team")
		}
		return []string{participantID}, nil
	}
	var userIDs []string
	err := s.DB.WithContext(ctx).Model(&models.TeamMember{}).
		Where("team_id = ? AND status = ?", teamID, models.MemberStatusActive).
		Order("user_id").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("load members of team %s: %w", teamID, err)
	}
	return userIDs, nil
}

func winnerNotice(ch *models.Challenge, p models.Placement, usd decimal.Decimal) models.NotificationPayload {
	msg := fmt.Sprintf("Congratulations! Your project \"%s\" won %s in \"%s\".", p.Entry.ProjectTitle, p.Label, ch.Title)
	if usd.IsPositive() {
		target := "your wallet"
		if p.Entry.IsTeam() {
			target = "your team's wallet"
		}
		msg += fmt.Sprintf(" %s has been credited to %s.", utils.FormatMoney(usd, "USD"), target)
	}
	return models.NotificationPayload{
		Type:    models.NotificationAchievement,
		Title:   fmt.Sprintf("You won %s!", p.Label),
		Message: msg,
		Link:    challengeLink(ch.ID) + "/results",
		Metadata: map[string]any{
			"challengeId":  ch.ID,
			"submissionId": p.Entry.SubmissionID,
			"award":        p.Key,
			"prizeUsd":     usd.StringFixed(2),
		},
	}
}

func resultsNotice(ch *models.Challenge) models.NotificationPayload {
	return models.NotificationPayload{
		Type:     models.NotificationInfo,
		Title:    "Results Announced",
		Message:  fmt.Sprintf("The results for \"%s\" are out. Thanks for taking part!", ch.Title),
		Link:     challengeLink(ch.ID) + "/results",
		Metadata: map[string]any{"challengeId": ch.ID},
	}
}
