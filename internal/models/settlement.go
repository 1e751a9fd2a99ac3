package models

import (
	"errors"
	"time"
)

// SettlementStatus is the outcome of a callResult submission.
type SettlementStatus string

const (
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
)

// Settlement records one price submission for a round. It is written for
// auditing only and is never read back to drive the oracle loop.
type Settlement struct {
	ID          string           `json:"id"`
	RoundID     uint64           `json:"round_id"`
	Symbol      string           `json:"symbol"`
	QuotePrice  string           `json:"quote_price"`
	FixedPoint  int64            `json:"fixed_point"`
	TxHash      string           `json:"tx_hash,omitempty"`
	Status      SettlementStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// Validate checks settlement field constraints.
func (s *Settlement) Validate() error {
	if s.ID == "" {
		return errors.New("settlement ID must not be empty")
	}
	if s.Symbol == "" {
		return errors.New("settlement symbol must not be empty")
	}
	switch s.Status {
	case SettlementConfirmed:
		if s.TxHash == "" {
			return errors.New("confirmed settlement must carry a tx hash")
		}
	case SettlementFailed:
		if s.Error == "" {
			return errors.New("failed settlement must carry an error")
		}
	default:
		return errors.New("settlement status must be confirmed or failed")
	}
	if s.SubmittedAt.IsZero() {
		return errors.New("submitted at must be set")
	}
	return nil
}
