package services

import (
	"context"
	"fmt"

	"challenge-tasks/events"
	"challenge-tasks/metrics"
	"challenge-tasks/models"
	"challenge-tasks/utils"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LifecycleService moves active challenges whose deadline has passed into
// judging, settling their enrollments and teams on the way.
type LifecycleService struct {
	DB        *gorm.DB
	stats     *StatsService
	courier   courier
	publisher events.Publisher
	calendar  *utils.Calendar
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewLifecycleService(db *gorm.DB, stats *StatsService, notifier Notifier, publisher events.Publisher, calendar *utils.Calendar, m *metrics.Metrics, logger zerolog.Logger) *LifecycleService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	logger = logger.With().Str("component", "lifecycle").Logger()
	return &LifecycleService{
		DB:        db,
		stats:     stats,
		courier:   courier{notifier: notifier, metrics: m, logger: logger},
		publisher: publisher,
		calendar:  calendar,
		metrics:   m,
		logger:    logger,
	}
}

type DeadlineSummary struct {
	Checked               int
	Advanced              int
	Failed                int
	ParticipantsCompleted int
	ParticipantsExpired   int
	TeamsClosed           int
}

// ProcessDeadlines closes every active challenge whose deadline day is
// before today. A failing challenge stays active and is retried next run.
func (s *LifecycleService) ProcessDeadlines(ctx context.Context) (*DeadlineSummary, error) {
	var active []models.Challenge
	if err := s.DB.WithContext(ctx).Where("status = ?", models.ChallengeStatusActive).Order("deadline, id").Find(&active).Error; err != nil {
		return nil, fmt.Errorf("load active challenges: %w", err)
	}

	summary := &DeadlineSummary{}
	for i := range active {
		ch := &active[i]
		if !s.calendar.HasPassed(ch.Deadline) {
			continue
		}
		summary.Checked++
		stats, err := s.closeChallenge(ctx, ch)
		if err != nil {
			summary.Failed++
			s.logger.Error().Err(err).Str("challenge_id", ch.ID).Msg("deadline processing failed")
			continue
		}
		summary.Advanced++
		summary.ParticipantsCompleted += stats.ParticipantsCompleted
		summary.ParticipantsExpired += stats.ParticipantsExpired
		summary.TeamsClosed += stats.TeamsDisabled
	}

	s.logger.Info().
		Int("checked", summary.Checked).
		Int("advanced", summary.Advanced).
		Int("failed", summary.Failed).
		Msg("deadline processing finished")
	return summary, nil
}

func (s *LifecycleService) closeChallenge(ctx context.Context, ch *models.Challenge) (*models.CompletionStats, error) {
	if !ch.Status.CanTransitionTo(models.ChallengeStatusJudging) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ch.Status, models.ChallengeStatusJudging)
	}
	log := s.logger.With().Str("challenge_id", ch.ID).Logger()

	if err := s.settleEnrollments(ctx, ch, models.EnrollmentSubmitted, models.EnrollmentCompleted); err != nil {
		return nil, err
	}
	if err := s.settleEnrollments(ctx, ch, models.EnrollmentInProgress, models.EnrollmentExpired); err != nil {
		return nil, err
	}
	if err := s.closeTeams(ctx, ch); err != nil {
		return nil, err
	}
	completed, expired, closed, submitted, err := s.settledCounts(ctx, ch)
	if err != nil {
		return nil, err
	}

	now := s.calendar.Now().UTC()
	total := completed + expired
	stats := models.CompletionStats{
		TotalParticipants:     total,
		ParticipantsCompleted: completed,
		ParticipantsExpired:   expired,
		CompletionRate:        percent(completed, total),
		TeamsDisabled:         closed,
		TeamsSubmitted:        submitted,
		TeamCompletionRate:    percent(submitted, closed),
		ProcessedAt:           now,
	}

	// The status change and the organization's rate move together so a
	// failure leaves the challenge active with its org counters untouched.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Challenge{}).
			Where("id = ? AND status = ?", ch.ID, models.ChallengeStatusActive).
			Updates(map[string]any{
				"status":             models.ChallengeStatusJudging,
				"judging_started_at": now,
				"judging_reason":     models.ReasonDeadlinePassed,
				"completion_stats":   datatypes.NewJSONType(stats),
			})
		if res.Error != nil {
			return fmt.Errorf("move challenge to judging: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: challenge %s is no longer active", ErrInvalidTransition, ch.ID)
		}
		if ch.OrganizationID == "" {
			return nil
		}
		update, err := s.stats.ApplyChallengeClosed(tx, ch.OrganizationID, ch.ID, total, completed)
		if err != nil {
			return fmt.Errorf("update organization stats: %w", err)
		}
		log.Debug().Float64("rate", update.Current).Float64("prev", update.Previous).Msg("organization completion rate updated")
		return nil
	})
	if err != nil {
		return nil, err
	}

	ch.Status = models.ChallengeStatusJudging
	s.metrics.IncChallengeAdvanced(string(models.ChallengeStatusJudging))
	log.Info().
		Int("completed", completed).
		Int("expired", expired).
		Int("teams_closed", closed).
		Int("completion_rate", stats.CompletionRate).
		Msg("challenge moved to judging")

	evt := events.New(events.TypeChallengeJudgingStarted, ch.ID, events.ChallengeJudgingStartedEvent{
		ChallengeID:           ch.ID,
		OrganizationID:        ch.OrganizationID,
		Title:                 ch.Title,
		ParticipantsCompleted: completed,
		ParticipantsExpired:   expired,
		TeamsClosed:           closed,
		CompletionRate:        stats.CompletionRate,
	}, now)
	if err := s.publisher.Publish(ctx, evt); err != nil {
		log.Warn().Err(err).Msg("judging event not published")
	}
	return &stats, nil
}

// settledCounts tallies everything deadline processing has settled for ch,
// including records moved by an earlier attempt that failed later on.
func (s *LifecycleService) settledCounts(ctx context.Context, ch *models.Challenge) (completed, expired, closed, submitted int, err error) {
	db := s.DB.WithContext(ctx)
	var n [4]int64
	queries := []*gorm.DB{
		db.Model(&models.Enrollment{}).Where("challenge_id = ? AND status = ? AND completed_reason = ?", ch.ID, models.EnrollmentCompleted, models.ReasonDeadlinePassed),
		db.Model(&models.Enrollment{}).Where("challenge_id = ? AND status = ? AND expired_reason = ?", ch.ID, models.EnrollmentExpired, models.ReasonDeadlinePassed),
		db.Model(&models.Team{}).Where("challenge_id = ? AND status = ? AND closed_reason = ?", ch.ID, models.TeamStatusClosed, models.ReasonDeadlinePassed),
		db.Model(&models.Team{}).Where("challenge_id = ? AND status = ? AND closed_reason = ? AND has_submitted = ?", ch.ID, models.TeamStatusClosed, models.ReasonDeadlinePassed, true),
	}
	for i, q := range queries {
		if err := q.Count(&n[i]).Error; err != nil {
			return 0, 0, 0, 0, fmt.Errorf("count settled records: %w", err)
		}
	}
	return int(n[0]), int(n[1]), int(n[2]), int(n[3]), nil
}

// settleEnrollments moves every enrollment in from to the final status to.
// One enrollment failing does not stop the rest.
func (s *LifecycleService) settleEnrollments(ctx context.Context, ch *models.Challenge, from, to models.EnrollmentStatus) error {
	var enrollments []models.Enrollment
	err := s.DB.WithContext(ctx).
		Where("challenge_id = ? AND status = ?", ch.ID, from).
		Order("id").
		Find(&enrollments).Error
	if err != nil {
		return fmt.Errorf("load %s enrollments: %w", from, err)
	}

	now := s.calendar.Now().UTC()
	updates := map[string]any{"status": to}
	if to == models.EnrollmentCompleted {
		updates["completed_at"] = now
		updates["completed_reason"] = models.ReasonDeadlinePassed
	} else {
		updates["expired_at"] = now
		updates["expired_reason"] = models.ReasonDeadlinePassed
	}

	for _, e := range enrollments {
		res := s.DB.WithContext(ctx).Model(&models.Enrollment{}).
			Where("id = ? AND status = ?", e.ID, from).
			Updates(updates)
		if res.Error != nil {
			s.logger.Error().Err(res.Error).Str("enrollment_id", e.ID).Msg("enrollment not updated")
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		if err := s.stats.ArrayRemove(ctx, models.StatSubjectUser, e.UserID, models.MetricActiveChallengeIDs, ch.ID); err != nil {
			s.logger.Error().Err(err).Str("user_id", e.UserID).Msg("user active challenges not updated")
		}
		s.courier.send(ctx, e.UserID, enrollmentNotice(ch, to))
	}
	return nil
}

// closeTeams closes the challenge's active teams and tells their active members.
func (s *LifecycleService) closeTeams(ctx context.Context, ch *models.Challenge) error {
	var teams []models.Team
	err := s.DB.WithContext(ctx).
		Preload("Members", "status = ?", models.MemberStatusActive).
		Where("challenge_id = ? AND status = ?", ch.ID, models.TeamStatusActive).
		Order("id").
		Find(&teams).Error
	if err != nil {
		return fmt.Errorf("load active teams: %w", err)
	}

	now := s.calendar.Now().UTC()
	for _, team := range teams {
		res := s.DB.WithContext(ctx).Model(&models.Team{}).
			Where("id = ? AND status = ?", team.ID, models.TeamStatusActive).
			Updates(map[string]any{
				"status":        models.TeamStatusClosed,
				"closed_at":     now,
				"closed_reason": models.ReasonDeadlinePassed,
			})
		if res.Error != nil {
			s.logger.Error().Err(res.Error).Str("team_id", team.ID).Msg("team not closed")
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		for _, member := range team.Members {
			if err := s.stats.ArrayRemove(ctx, models.StatSubjectUser, member.UserID, models.MetricActiveTeamIDs, team.ID); err != nil {
				s.logger.Error().Err(err).Str("user_id", member.UserID).Msg("user active teams not updated")
			}
			s.courier.send(ctx, member.UserID, models.NotificationPayload{
				Type:    models.NotificationInfo,
				Title:   "Team Closed",
				Message: fmt.Sprintf("Your team \"%s\" for \"%s\" has been closed because the challenge deadline has passed.", team.Name, ch.Title),
				Link:    challengeLink(ch.ID),
				Metadata: map[string]any{
					"challengeId": ch.ID,
					"teamId":      team.ID,
					"reason":      models.ReasonDeadlinePassed,
				},
			})
		}
	}
	return nil
}

func enrollmentNotice(ch *models.Challenge, status models.EnrollmentStatus) models.NotificationPayload {
	meta := map[string]any{"challengeId": ch.ID, "reason": models.ReasonDeadlinePassed}
	if status == models.EnrollmentCompleted {
		return models.NotificationPayload{
			Type:     models.NotificationSuccess,
			Title:    "Challenge Completed",
			Message:  fmt.Sprintf("The deadline for \"%s\" has passed and your submission is now under review.", ch.Title),
			Link:     challengeLink(ch.ID),
			Metadata: meta,
		}
	}
	return models.NotificationPayload{
		Type:     models.NotificationWarning,
		Title:    "Challenge Expired",
		Message:  fmt.Sprintf("The deadline for \"%s\" passed before you submitted. Your enrollment has expired.", ch.Title),
		Link:     challengeLink(ch.ID),
		Metadata: meta,
	}
}

func challengeLink(challengeID string) string {
	return "/challenges/" + challengeID
}
