// Package fraud scores payment attempts before they reach a gateway.
// Scoring is additive: each signal contributes a fixed weight, and an
// attempt crossing the suspicion threshold is flagged but not rejected.
// Only an explicit blocklist entry rejects outright.
package fraud

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sokoworks/payment-hub/internal"
	"github.com/sokoworks/payment-hub/pkg/logger"
)

// ErrBlocked is returned when the user is on the blocklist. It is the
// only error Check produces: infrastructure failures degrade to an
// unscored pass instead of rejecting payments.
var ErrBlocked = errors.New("account is blocked for payments")

const (
	scoreFailureVelocity = 40
	scoreHighAmount      = 35
	scoreFirstPayment    = 20
	scoreCountryMismatch = 25
)

const (
	SignalFailureVelocity = "high_failure_velocity"
	SignalHighAmount      = "amount_exceeds_limit"
	SignalFirstPayment    = "large_first_payment"
	SignalCountryMismatch = "country_mismatch"
)

// suspicionStrikeLimit is how many suspicious attempts a user gets
// before the blocklist takes over.
const suspicionStrikeLimit = 3

type History interface {
	CountFailedForUserSince(userID int64, since time.Time) (int64, error)
	HasSuccessfulPayment(userID int64) (bool, error)
}

type Blocklist interface {
	IsBlocked(ctx context.Context, userID int64) (bool, error)
	Block(ctx context.Context, userID int64, ttl time.Duration) error
	Unblock(ctx context.Context, userID int64) error
	RecordSuspicion(ctx context.Context, userID int64) (int64, error)
}

type CurrencyConverter interface {
	ToUSD(amount decimal.Decimal, from string) (decimal.Decimal, error)
}

type CheckInput struct {
	UserID         int64
	Amount         decimal.Decimal
	Currency       string
	CountryCode    string
	BillingCountry string
}

type Assessment struct {
	Score      int
	Signals    []string
	Suspicious bool
}

type Scorer struct {
	cfg       internal.FraudConfig
	history   History
	blocklist Blocklist
	converter CurrencyConverter
}

func NewScorer(cfg internal.FraudConfig, history History, blocklist Blocklist, converter CurrencyConverter) *Scorer {
	return &Scorer{
		cfg:       cfg,
		history:   history,
		blocklist: blocklist,
		converter: converter,
	}
}

// Check scores one payment attempt. A blocklisted user gets ErrBlocked;
// everyone else gets an assessment. Store and history failures are
// logged and treated as absent signals so payments keep flowing when
// redis or the database wobbles.
func (s *Scorer) Check(ctx context.Context, input CheckInput) (*Assessment, error) {
	log := logger.From(ctx)

	blocked, err := s.blocklist.IsBlocked(ctx, input.UserID)
	if err != nil {
		log.Warn("blocklist check failed, continuing unblocked", "user_id", input.UserID, "error", err)
	} else if blocked {
		return nil, ErrBlocked
	}

	assessment := &Assessment{}

	failedCount, err := s.history.CountFailedForUserSince(input.UserID, time.Now().Add(-s.cfg.FailureWindow))
	if err != nil {
		log.Warn("failed payment count unavailable", "user_id", input.UserID, "error", err)
	} else if failedCount >= int64(s.cfg.MaxFailedAttempts) {
		assessment.Score += scoreFailureVelocity
		assessment.Signals = append(assessment.Signals, SignalFailureVelocity)
	}

	usdAmount, err := s.converter.ToUSD(input.Amount, input.Currency)
	if err != nil {
		log.Warn("usd conversion unavailable for fraud scoring", "currency", input.Currency, "error", err)
	} else {
		if usdAmount.GreaterThan(decimal.NewFromInt(s.cfg.MaxAmountUSD)) {
			assessment.Score += scoreHighAmount
			assessment.Signals = append(assessment.Signals, SignalHighAmount)
		}

		hasSuccess, err := s.history.HasSuccessfulPayment(input.UserID)
		if err != nil {
			log.Warn("payment history unavailable", "user_id", input.UserID, "error", err)
		} else if !hasSuccess && usdAmount.GreaterThan(decimal.NewFromInt(s.cfg.FirstPaymentMaxUSD)) {
			assessment.Score += scoreFirstPayment
			assessment.Signals = append(assessment.Signals, SignalFirstPayment)
		}
	}

	if input.BillingCountry != "" && input.CountryCode != "" &&
		!strings.EqualFold(input.BillingCountry, input.CountryCode) {
		assessment.Score += scoreCountryMismatch
		assessment.Signals = append(assessment.Signals, SignalCountryMismatch)
	}

	assessment.Suspicious = assessment.Score > s.cfg.SuspicionThreshold
	if assessment.Suspicious {
		s.recordSuspicion(ctx, input.UserID)
	}
	return assessment, nil
}

func (s *Scorer) recordSuspicion(ctx context.Context, userID int64) {
	log := logger.From(ctx)

	strikes, err := s.blocklist.RecordSuspicion(ctx, userID)
	if err != nil {
		log.Warn("could not record suspicion strike", "user_id", userID, "error", err)
		return
	}
	log.Info("suspicious payment attempt recorded", "user_id", userID, "strikes", strikes)

	if strikes >= suspicionStrikeLimit {
		if err := s.blocklist.Block(ctx, userID, s.cfg.BlockTTL); err != nil {
			log.Warn("could not block user after repeated suspicion", "user_id", userID, "error", err)
			return
		}
		log.Warn("user blocked after repeated suspicious attempts", "user_id", userID, "strikes", strikes)
	}
}
