package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// AwardEntry is one winning submission. Exactly one of ParticipantID and
// TeamID is meaningful.
type AwardEntry struct {
	SubmissionID  string          `json:"submissionId"`
	ProjectTitle  string          `json:"projectTitle"`
	Prize         decimal.Decimal `json:"prize"`
	ParticipantID string          `json:"participantId,omitempty"`
	TeamID        string          `json:"teamId,omitempty"`
}

func (e AwardEntry) IsTeam() bool {
	return e.TeamID != ""
}

type SpecialAward struct {
	Name string `json:"name"`
	AwardEntry
}

// Awards is the winner snapshot written once when a challenge completes.
type Awards struct {
	First         *AwardEntry    `json:"first"`
	Second        *AwardEntry    `json:"second"`
	Third         *AwardEntry    `json:"third"`
	SpecialAwards []SpecialAward `json:"specialAwards,omitempty"`
	AwardedAt     *time.Time     `json:"awardedAt,omitempty"`
}

func (a Awards) IsEmpty() bool {
	return a.First == nil && a.Second == nil && a.Third == nil && len(a.SpecialAwards) == 0
}

// Placement is a flattened award with a stable key used for idempotency.
type Placement struct {
	Key   string
	Label string
	Entry AwardEntry
}

// Placements returns podium places first, then special awards in order.
func (a Awards) Placements() []Placement {
	var out []Placement
	podium := []struct {
		key, label string
		entry      *AwardEntry
	}{
		{"first", "1st Place", a.First},
		{"second", "2nd Place", a.Second},
		{"third", "3rd Place", a.Third},
	}
	for _, p := range podium {
		if p.entry != nil {
			out = append(out, Placement{Key: p.key, Label: p.label, Entry: *p.entry})
		}
	}
	for i, s := range a.SpecialAwards {
		label := s.Name
		if label == "" {
			label = "Special Award"
		}
		out = append(out, Placement{
			Key:   "special_" + strconv.Itoa(i),
			Label: label,
			Entry: s.AwardEntry,
		})
	}
	return out
}

// TotalPrize sums the prize of every placement.
func (a Awards) TotalPrize() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.Placements() {
		total = total.Add(p.Entry.Prize)
	}
	return total
}
