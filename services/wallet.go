package services

import (
	"context"
	"errors"
	"fmt"

	"challenge-tasks/events"
	"challenge-tasks/metrics"
	"challenge-tasks/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditRequest describes one USD credit. AwardKey, when set, makes the
// credit idempotent per wallet.
type CreditRequest struct {
	OwnerType      models.OwnerType
	OwnerID        string
	Amount         decimal.Decimal
	Description    string
	ChallengeID    string
	AwardKey       string
	SourceAmount   decimal.Decimal
	SourceCurrency string
}

type CreditResult struct {
	WalletID    string
	Applied     bool
	Duplicate   bool
	Balance     decimal.Decimal
	Transaction *models.WalletTransaction
}

type WalletService struct {
	DB           *gorm.DB
	clock        clockwork.Clock
	historyLimit int
	publisher    events.Publisher
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

func NewWalletService(db *gorm.DB, clock clockwork.Clock, historyLimit int, publisher events.Publisher, m *metrics.Metrics, logger zerolog.Logger) *WalletService {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &WalletService{
		DB:           db,
		clock:        clock,
		historyLimit: historyLimit,
		publisher:    publisher,
		metrics:      m,
		logger:       logger.With().Str("component", "wallets").Logger(),
	}
}

// Credit adds a positive amount to a wallet inside a row-locked transaction,
// creating the wallet on first use. Non-positive amounts are ignored.
func (s *WalletService) Credit(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: missing owner id", ErrInvalidCredit)
	}
	walletID := models.WalletID(req.OwnerType, req.OwnerID)
	result := &CreditResult{WalletID: walletID}
	if !req.Amount.IsPositive() {
		s.metrics.IncWalletCredit("skipped")
		return result, nil
	}

	var wallet models.Wallet
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockWallet(tx, walletID, req, &wallet); err != nil {
			return err
		}
		if req.AwardKey != "" && wallet.HasCredited(req.AwardKey) {
			return ErrAlreadyCredited
		}

		txn := models.WalletTransaction{
			ID:             uuid.NewString(),
			Type:           models.TransactionCredit,
			Amount:         req.Amount,
			Description:    req.Description,
			ChallengeID:    req.ChallengeID,
			AwardKey:       req.AwardKey,
			SourceAmount:   req.SourceAmount,
			SourceCurrency: req.SourceCurrency,
			CreatedAt:      s.clock.Now().UTC(),
		}
		history := make([]models.WalletTransaction, 0, len(wallet.Transactions)+1)
		history = append(history, txn)
		history = append(history, wallet.Transactions...)
		if len(history) > s.historyLimit {
			history = history[:s.historyLimit]
		}

		wallet.Transactions = history
		wallet.Balance = wallet.Balance.Add(req.Amount)
		if req.AwardKey != "" {
			wallet.CreditedAwardKeys = append(wallet.CreditedAwardKeys, req.AwardKey)
		}
		if err := tx.Save(&wallet).Error; err != nil {
			return fmt.Errorf("save wallet %s: %w", walletID, err)
		}
		result.Transaction = &txn
		return nil
	})
	if errors.Is(err, ErrAlreadyCredited) {
		s.metrics.IncWalletCredit("duplicate")
		s.logger.Info().Str("wallet_id", walletID).Str("award_key", req.AwardKey).Msg("award already credited, skipping")
		result.Duplicate = true
		result.Balance = wallet.Balance
		return result, nil
	}
	if err != nil {
		s.metrics.IncWalletCredit("failed")
		return nil, err
	}

	result.Applied = true
	result.Balance = wallet.Balance
	s.metrics.IncWalletCredit("applied")
	s.metrics.AddWalletCreditAmount(req.Amount.InexactFloat64())
	s.logger.Info().
		Str("wallet_id", walletID).
		Str("amount", req.Amount.StringFixed(2)).
		Str("balance", wallet.Balance.StringFixed(2)).
		Msg("wallet credited")

	evt := events.New(events.TypeWalletCredited, walletID, events.WalletCreditedEvent{
		WalletID:    walletID,
		OwnerID:     req.OwnerID,
		OwnerType:   string(req.OwnerType),
		Amount:      req.Amount.StringFixed(2),
		Balance:     wallet.Balance.StringFixed(2),
		ChallengeID: req.ChallengeID,
		AwardKey:    req.AwardKey,
	}, result.Transaction.CreatedAt)
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("wallet_id", walletID).Msg("wallet event not published")
	}
	return result, nil
}

// lockWallet loads the wallet FOR UPDATE, creating an empty one if missing.
func lockWallet(tx *gorm.DB, walletID string, req CreditRequest, wallet *models.Wallet) error {
	locking := clause.Locking{Strength: "UPDATE"}
	err := tx.Clauses(locking).Where("id = ?", walletID).First(wallet).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load wallet %s: %w", walletID, err)
	}

	*wallet = models.Wallet{
		ID:                walletID,
		OwnerID:           req.OwnerID,
		OwnerType:         req.OwnerType,
		Currency:          "USD",
		Balance:           decimal.Zero,
		Transactions:      datatypes.JSONSlice[models.WalletTransaction]{},
		CreditedAwardKeys: datatypes.JSONSlice[string]{},
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(wallet)
	if res.Error != nil {
		return fmt.Errorf("create wallet %s: %w", walletID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Created concurrently; take the lock on the winner's row.
		if err := tx.Clauses(locking).Where("id = ?", walletID).First(wallet).Error; err != nil {
			return fmt.Errorf("load wallet %s: %w", walletID, err)
		}
	}
	return nil
}

func (s *WalletService) Get(ctx context.Context, walletID string) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := s.DB.WithContext(ctx).Where("id = ?", walletID).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}
