package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OwnerType string

const (
	OwnerTypeUser OwnerType = "user"
	OwnerTypeTeam OwnerType = "team"
)

// TeamWalletPrefix keys team wallets apart from user wallets.
const TeamWalletPrefix = "team_"

// WalletID returns the wallet key for an owner.
func WalletID(ownerType OwnerType, ownerID string) string {
	if ownerType == OwnerTypeTeam {
		return TeamWalletPrefix + ownerID
	}
	return ownerID
}

// Wallet is an internal USD ledger. Balance is the sum of all credits ever
// applied; Transactions keeps only the most recent entries, newest first.
type Wallet struct {
	ID                string                                 `gorm:"primaryKey;type:varchar(128)" json:"id"`
	OwnerID           string                                 `gorm:"not null;index" json:"owner_id"`
	OwnerType         OwnerType                              `gorm:"type:varchar(8);not null" json:"owner_type"`
	Currency          string                                 `gorm:"type:varchar(3);default:'USD'" json:"currency"`
	Balance           decimal.Decimal                        `gorm:"type:numeric(14,2);not null;default:0" json:"balance"`
	Transactions      datatypes.JSONSlice[WalletTransaction] `json:"transactions"`
	CreditedAwardKeys datatypes.JSONSlice[string]            `json:"-"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// HasCredited reports whether the idempotency key was already applied.
func (w *Wallet) HasCredited(key string) bool {
	for _, k := range w.CreditedAwardKeys {
		if k == key {
			return true
		}
	}
	return false
}

type TransactionType string

const TransactionCredit TransactionType = "credit"

type WalletTransaction struct {
	ID             string          `json:"id"`
	Type           TransactionType `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	ChallengeID    string          `json:"challengeId,omitempty"`
	AwardKey       string          `json:"awardKey,omitempty"`
	SourceAmount   decimal.Decimal `json:"sourceAmount"`
	SourceCurrency string          `json:"sourceCurrency,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}
