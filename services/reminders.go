package services

import (
	"context"
	"fmt"
	"time"

	"challenge-tasks/metrics"
	"challenge-tasks/models"
	"challenge-tasks/utils"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ReminderService warns participants who still owe a submission when a
// challenge deadline is a few days out.
type ReminderService struct {
	DB       *gorm.DB
	courier  courier
	calendar *utils.Calendar
	leadDays int
	logger   zerolog.Logger
}

func NewReminderService(db *gorm.DB, notifier Notifier, calendar *utils.Calendar, leadDays int, m *metrics.Metrics, logger zerolog.Logger) *ReminderService {
	if leadDays <= 0 {
		leadDays = 3
	}
	logger = logger.With().Str("component", "reminders").Logger()
	return &ReminderService{
		DB:       db,
		courier:  courier{notifier: notifier, metrics: m, logger: logger},
		calendar: calendar,
		leadDays: leadDays,
		logger:   logger,
	}
}

type ReminderSummary struct {
	Challenges int
	Sent       int
	Failed     int
}

// SendDeadlineReminders notifies, once per user and challenge, every
// in-progress participant and every member of a team that has not yet
// submitted, for active challenges due in exactly leadDays days.
func (s *ReminderService) SendDeadlineReminders(ctx context.Context) (*ReminderSummary, error) {
	var active []models.Challenge
	if err := s.DB.WithContext(ctx).Where("status = ?", models.ChallengeStatusActive).Order("id").Find(&active).Error; err != nil {
		return nil, fmt.Errorf("load active challenges: %w", err)
	}

	summary := &ReminderSummary{}
	for i := range active {
		ch := &active[i]
		if !s.calendar.IsDaysAway(ch.Deadline, s.leadDays) {
			continue
		}
		summary.Challenges++

		recipients, err := s.pendingUsers(ctx, ch.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("challenge_id", ch.ID).Msg("reminder recipients not loaded")
			continue
		}
		for _, r := range recipients {
			if s.courier.send(ctx, r.userID, s.reminderNotice(ch, r.teamName)) {
				summary.Sent++
			} else {
				summary.Failed++
			}
		}
	}

	s.logger.Info().
		Int("challenges", summary.Challenges).
		Int("sent", summary.Sent).
		Int("failed", summary.Failed).
		Msg("deadline reminders sent")
	return summary, nil
}

type pendingUser struct {
	userID   string
	teamName string
}

// pendingUsers lists each user at most once; solo enrollments come first.
func (s *ReminderService) pendingUsers(ctx context.Context, challengeID string) ([]pendingUser, error) {
	db := s.DB.WithContext(ctx)

	var soloIDs []string
	err := db.Model(&models.Enrollment{}).
		Where("challenge_id = ? AND status = ?", challengeID, models.EnrollmentInProgress).
		Order("user_id").
		Pluck("user_id", &soloIDs).Error
	if err != nil {
		return nil, fmt.Errorf("load in-progress enrollments: %w", err)
	}

	var teams []models.Team
	err = db.Preload("Members", "status = ?", models.MemberStatusActive).
		Where("challenge_id = ? AND status = ? AND has_submitted = ?", challengeID, models.TeamStatusActive, false).
		Order("id").
		Find(&teams).Error
	if err != nil {
		return nil, fmt.Errorf("load pending teams: %w", err)
	}

	seen := make(map[string]struct{})
	var out []pendingUser
	for _, id := range soloIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, pendingUser{userID: id})
	}
	for _, team := range teams {
		for _, m := range team.Members {
			if _, ok := seen[m.UserID]; ok {
				continue
			}
			seen[m.UserID] = struct{}{}
			out = append(out, pendingUser{userID: m.UserID, teamName: team.Name})
		}
	}
	return out, nil
}

func (s *ReminderService) reminderNotice(ch *models.Challenge, teamName string) models.NotificationPayload {
	msg := fmt.Sprintf("Only %d days left to submit your project for \"%s\".", s.leadDays, ch.Title)
	if teamName != "" {
		msg = fmt.Sprintf("Your team \"%s\" hasn't submitted yet for \"%s\". The deadline is in %d days.", teamName, ch.Title, s.leadDays)
	}
	return models.NotificationPayload{
		Type:    models.NotificationWarning,
		Title:   "Deadline Approaching",
		Message: msg,
		Link:    challengeLink(ch.ID),
		Metadata: map[string]any{
			"challengeId": ch.ID,
			"deadline":    ch.Deadline.UTC().Format(time.RFC3339),
			"daysLeft":    s.leadDays,
		},
	}
}
