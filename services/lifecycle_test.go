package services

import (
	"context"
	"testing"
	"time"

	"challenge-tasks/events"
	"challenge-tasks/models"
)

// 2026-10-16 00:05 in Kigali.
var lifecycleNow = time.Date(2026, 10, 15, 22, 5, 0, 0, time.UTC)

func seedExpiredChallenge(t *testing.T, env *testEnv) {
	t.Helper()
	deadline := kigali(t, 2026, 10, 15, 18, 0)
	env.create(t,
		newChallenge("c1", models.ChallengeStatusActive, deadline),
		&models.Enrollment{ID: "e-a", UserID: "userA", ChallengeID: "c1", Status: models.EnrollmentSubmitted},
		&models.Enrollment{ID: "e-b", UserID: "userB", ChallengeID: "c1", Status: models.EnrollmentInProgress},
		&models.Team{ID: "teamX", ChallengeID: "c1", Name: "Team X", Status: models.TeamStatusActive},
		&models.TeamMember{ID: "m-a", TeamID: "teamX", UserID: "memberA", Status: models.MemberStatusActive},
		&models.TeamMember{ID: "m-b", TeamID: "teamX", UserID: "memberB", Status: models.MemberStatusActive},
		&models.TeamMember{ID: "m-c", TeamID: "teamX", UserID: "memberC", Status: models.MemberStatusLeft},
	)
	ctx := context.Background()
	for _, u := range []string{"userA", "userB"} {
		if err := env.stats.ArrayUnion(ctx, models.StatSubjectUser, u, models.MetricActiveChallengeIDs, "c1", "other"); err != nil {
			t.Fatal(err)
		}
	}
	for _, u := range []string{"memberA", "memberB"} {
		if err := env.stats.ArrayUnion(ctx, models.StatSubjectUser, u, models.MetricActiveTeamIDs, "teamX"); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.stats.ArrayUnion(ctx, models.StatSubjectOrganization, "org-1", models.MetricActiveChallengeIDs, "c1"); err != nil {
		t.Fatal(err)
	}
}

func hasTitle(payloads []models.NotificationPayload, title string) int {
	n := 0
	for _, p := range payloads {
		if p.Title == title {
			n++
		}
	}
	return n
}

func TestProcessDeadlinesMovesExpiredChallengeToJudging(t *testing.T) {
	env := newTestEnv(t, lifecycleNow)
	seedExpiredChallenge(t, env)

	summary, err := env.lifecycle.ProcessDeadlines(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Advanced != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	ch := env.challenge(t, "c1")
	if ch.Status != models.ChallengeStatusJudging {
		t.Errorf("status = %s, want judging", ch.Status)
	}
	if ch.JudgingStartedAt == nil || ch.JudgingReason != models.ReasonDeadlinePassed {
		t.Errorf("judging stamp missing: %v %q", ch.JudgingStartedAt, ch.JudgingReason)
	}
	stats := ch.CompletionStats.Data()
	if stats.TotalParticipants != 2 || stats.ParticipantsCompleted != 1 || stats.ParticipantsExpired != 1 || stats.CompletionRate != 50 {
		t.Errorf("completion stats = %+v", stats)
	}
	if stats.TeamsDisabled != 1 || stats.TeamsSubmitted != 0 || stats.TeamCompletionRate != 0 {
		t.Errorf("team stats = %+v", stats)
	}

	if e := env.enrollment(t, "e-a"); e.Status != models.EnrollmentCompleted || e.CompletedReason != models.ReasonDeadlinePassed {
		t.Errorf("userA enrollment = %s/%s", e.Status, e.CompletedReason)
	}
	if e := env.enrollment(t, "e-b"); e.Status != models.EnrollmentExpired || e.ExpiredAt == nil {
		t.Errorf("userB enrollment = %s", e.Status)
	}

	var team models.Team
	env.db.Where("id = ?", "teamX").First(&team)
	if team.Status != models.TeamStatusClosed || team.ClosedAt == nil {
		t.Errorf("team = %s", team.Status)
	}

	for _, u := range []string{"userA", "userB"} {
		m := env.metric(t, models.StatSubjectUser, u, models.MetricActiveChallengeIDs)
		if len(m.IDs) != 1 || m.IDs[0] != "other" {
			t.Errorf("%s activeChallengeIds = %v", u, m.IDs)
		}
	}
	for _, u := range []string{"memberA", "memberB"} {
		if m := env.metric(t, models.StatSubjectUser, u, models.MetricActiveTeamIDs); len(m.IDs) != 0 {
			t.Errorf("%s activeTeamIds = %v", u, m.IDs)
		}
	}

	if n := hasTitle(env.notifier.forUser("userA"), "Challenge Completed"); n != 1 {
		t.Errorf("userA completed notices = %d", n)
	}
	if n := hasTitle(env.notifier.forUser("userB"), "Challenge Expired"); n != 1 {
		t.Errorf("userB expired notices = %d", n)
	}
	for _, u := range []string{"memberA", "memberB"} {
		if n := hasTitle(env.notifier.forUser(u), "Team Closed"); n != 1 {
			t.Errorf("%s team closed notices = %d", u, n)
		}
	}
	if len(env.notifier.forUser("memberC")) != 0 {
		t.Error("member who left was notified")
	}

	rate := env.metric(t, models.StatSubjectOrganization, "org-1", models.MetricCompletionRate)
	if rate == nil || rate.Value != 50 {
		t.Errorf("org completionRate = %+v, want 50", rate)
	}
	if m := env.metric(t, models.StatSubjectOrganization, "org-1", models.MetricActiveChallengeIDs); len(m.IDs) != 0 {
		t.Errorf("org activeChallengeIds = %v", m.IDs)
	}
	if got := env.publisher.ofType(events.TypeChallengeJudgingStarted); len(got) != 1 || got[0].Key != "c1" {
		t.Errorf("judging events = %+v", got)
	}
}

func TestProcessDeadlinesIsIdempotent(t *testing.T) {
	env := newTestEnv(t, lifecycleNow)
	seedExpiredChallenge(t, env)
	ctx := context.Background()

	if _, err := env.lifecycle.ProcessDeadlines(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sent := env.notifier.count()
	summary, err := env.lifecycle.ProcessDeadlines(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Checked != 0 {
		t.Errorf("second run checked %d challenges", summary.Checked)
	}
	if env.notifier.count() != sent {
		t.Errorf("second run sent %d notifications", env.notifier.count()-sent)
	}
	var doc models.StatDocument
	env.db.Where("id = ?", models.StatDocumentID(models.StatSubjectOrganization, "org-1")).First(&doc)
	if doc.TrackedParticipants != 2 || doc.TrackedSubmissions != 1 {
		t.Errorf("tracked = %d/%d, want 2/1", doc.TrackedParticipants, doc.TrackedSubmissions)
	}
}

func TestProcessDeadlinesLeavesTodaysDeadlineActive(t *testing.T) {
	env := newTestEnv(t, lifecycleNow)
	// Late on the 15th in UTC is already the 16th in Kigali.
	env.create(t, newChallenge("today", models.ChallengeStatusActive, time.Date(2026, 10, 15, 23, 0, 0, 0, time.UTC)))

	summary, err := env.lifecycle.ProcessDeadlines(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Checked != 0 {
		t.Errorf("checked = %d, want 0", summary.Checked)
	}
	if ch := env.challenge(t, "today"); ch.Status != models.ChallengeStatusActive {
		t.Errorf("status = %s, want active", ch.Status)
	}
}

func TestProcessDeadlinesSurvivesNotificationFailures(t *testing.T) {
	env := newTestEnv(t, lifecycleNow)
	seedExpiredChallenge(t, env)
	env.notifier.failFor["memberA"] = true
	env.notifier.failFor["userA"] = true

	if _, err := env.lifecycle.ProcessDeadlines(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if ch := env.challenge(t, "c1"); ch.Status != models.ChallengeStatusJudging {
		t.Errorf("status = %s, want judging", ch.Status)
	}
	if n := hasTitle(env.notifier.forUser("memberB"), "Team Closed"); n != 1 {
		t.Errorf("memberB notices = %d, want 1", n)
	}
	if e := env.enrollment(t, "e-a"); e.Status != models.EnrollmentCompleted {
		t.Errorf("userA enrollment = %s", e.Status)
	}
}

func TestProcessDeadlinesWithoutOrganization(t *testing.T) {
	env := newTestEnv(t, lifecycleNow)
	ch := newChallenge("solo", models.ChallengeStatusActive, kigali(t, 2026, 10, 1, 12, 0))
	ch.OrganizationID = ""
	env.create(t, ch)

	summary, err := env.lifecycle.ProcessDeadlines(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Advanced != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	got := env.challenge(t, "solo").CompletionStats.Data()
	if got.TotalParticipants != 0 || got.CompletionRate != 0 {
		t.Errorf("completion stats = %+v, want zeros", got)
	}
}

func TestProcessDeadlinesLeavesChallengeActiveWhenOrgStatsFail(t *testing.T) {
	env := newTestEnv(t, lifecycleNow)
	seedExpiredChallenge(t, env)
	ctx := context.Background()
	// completionRate stored as an array cannot take the scalar update.
	if err := env.stats.ArrayUnion(ctx, models.StatSubjectOrganization, "org-1", models.MetricCompletionRate, "bogus"); err != nil {
		t.Fatal(err)
	}

	summary, err := env.lifecycle.ProcessDeadlines(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Advanced != 0 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	ch := env.challenge(t, "c1")
	if ch.Status != models.ChallengeStatusActive || ch.JudgingStartedAt != nil {
		t.Errorf("challenge = %s, want active", ch.Status)
	}
	if m := env.metric(t, models.StatSubjectOrganization, "org-1", models.MetricActiveChallengeIDs); m == nil || len(m.IDs) != 1 {
		t.Errorf("org activeChallengeIds rolled forward: %+v", m)
	}
	if got := env.publisher.ofType(events.TypeChallengeJudgingStarted); len(got) != 0 {
		t.Errorf("judging events = %d, want 0", len(got))
	}

	// The next run picks the challenge up again and keeps the full snapshot.
	if err := env.db.Where("name = ?", models.MetricCompletionRate).Delete(&models.StatMetric{}).Error; err != nil {
		t.Fatal(err)
	}
	summary, err = env.lifecycle.ProcessDeadlines(ctx)
	if err != nil || summary.Advanced != 1 {
		t.Fatalf("retry = %+v, %v", summary, err)
	}
	ch = env.challenge(t, "c1")
	if ch.Status != models.ChallengeStatusJudging {
		t.Errorf("status = %s, want judging", ch.Status)
	}
	stats := ch.CompletionStats.Data()
	if stats.TotalParticipants != 2 || stats.ParticipantsCompleted != 1 || stats.TeamsDisabled != 1 {
		t.Errorf("completion stats after retry = %+v", stats)
	}
	if got := hasTitle(env.notifier.forUser("userA"), "Challenge Completed"); got != 1 {
		t.Errorf("userA completion notices = %d, want 1", got)
	}
}
