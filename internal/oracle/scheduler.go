// Package oracle runs the round settlement cycle: read the current round from
// the contract, wait for its resolution instant, fetch a price with bounded
// retries, submit it, pause, and repeat.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/roundoracle/internal/logger"
	"github.com/rewired-gh/roundoracle/internal/models"
)

// Contract is the subset of the game contract the scheduler depends on.
type Contract interface {
	StartTime(ctx context.Context) (int64, error)
	Settings(ctx context.Context) (models.GameSettings, error)
	CurrentGame(ctx context.Context) (uint64, error)
	// CallResult submits the fixed-point price and returns the transaction
	// hash once the transaction is confirmed.
	CallResult(ctx context.Context, price *big.Int) (string, error)
}

// PriceFeed fetches one quote per call and never retries.
type PriceFeed interface {
	FetchPrice(ctx context.Context, symbol string) (*models.PriceQuote, error)
}

// ErrFetchExhausted is returned when every fetch attempt of an iteration failed.
var ErrFetchExhausted = errors.New("unable to fetch price")

// SubmissionError is returned when callResult fails. It is never retried:
// the transaction may already be mined.
type SubmissionError struct {
	RoundID    uint64
	FixedPoint *big.Int
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit result %s for round %d: %v", e.FixedPoint, e.RoundID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Config holds scheduler configuration.
type Config struct {
	Symbol           string
	MaxFetchAttempts int
	RetryDelay       time.Duration
	LoopDelay        time.Duration
}

// DefaultConfig returns the production timing: 3 attempts, 30s between
// failed attempts, 60s between iterations.
func DefaultConfig() Config {
	return Config{
		MaxFetchAttempts: 3,
		RetryDelay:       30 * time.Second,
		LoopDelay:        60 * time.Second,
	}
}

// Scheduler drives the settlement cycle one state at a time.
type Scheduler struct {
	contract Contract
	feed     PriceFeed
	clock    Clock
	observer Observer
	cfg      Config

	params *models.RoundParameters
	state  State
	iter   Iteration
}

// New creates a scheduler positioned at READ_ROUND. A nil clock uses the
// wall clock; a nil observer discards events.
func New(contract Contract, feed PriceFeed, clock Clock, observer Observer, cfg Config) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if cfg.MaxFetchAttempts <= 0 {
		cfg.MaxFetchAttempts = DefaultConfig().MaxFetchAttempts
	}
	return &Scheduler{
		contract: contract,
		feed:     feed,
		clock:    clock,
		observer: observer,
		cfg:      cfg,
		state:    StateReadRound,
	}
}

// State returns the state the next Step will execute.
func (s *Scheduler) State() State { return s.state }

// Iteration returns a copy of the current iteration's working state.
func (s *Scheduler) Iteration() Iteration { return s.iter }

// LoadParameters reads START_TIME() and settings() once and caches them.
func (s *Scheduler) LoadParameters(ctx context.Context) (models.RoundParameters, error) {
	if s.params != nil {
		return *s.params, nil
	}
	start, err := s.contract.StartTime(ctx)
	if err != nil {
		return models.RoundParameters{}, fmt.Errorf("failed to read start time: %w", err)
	}
	settings, err := s.contract.Settings(ctx)
	if err != nil {
		return models.RoundParameters{}, fmt.Errorf("failed to read settings: %w", err)
	}
	params := models.NewRoundParameters(start, settings)
	if err := params.Validate(); err != nil {
		return models.RoundParameters{}, fmt.Errorf("invalid round parameters: %w", err)
	}
	s.params = &params
	logger.Info("Round parameters: start=%d window=%ds lockout=%ds",
		params.StartTime, params.WindowTime, params.LockoutTime)
	return params, nil
}

// WaitDuration is how long to wait before settling roundID at now. Round 0
// means no round has started and never waits; overdue rounds do not wait.
func WaitDuration(params models.RoundParameters, roundID uint64, now time.Time) time.Duration {
	if roundID == 0 {
		return 0
	}
	wait := params.ResolutionUnix(roundID) - now.Unix()
	if wait <= 0 {
		return 0
	}
	return time.Duration(wait) * time.Second
}

// Step executes the current state and advances to the next one. On error
// the state is left unchanged.
func (s *Scheduler) Step(ctx context.Context) error {
	var err error
	switch s.state {
	case StateReadRound:
		err = s.readRound(ctx)
	case StateAwaitWindow:
		err = s.awaitWindow(ctx)
	case StateFetchPrice:
		err = s.fetchPrice(ctx)
	case StateSubmit:
		err = s.submit(ctx)
	case StateSleep:
		err = s.sleep(ctx)
	default:
		err = fmt.Errorf("unknown state %d", s.state)
	}
	if err != nil {
		return err
	}
	s.state = s.state.next()
	return nil
}

// RunIteration steps through one full cycle, ending back at READ_ROUND.
func (s *Scheduler) RunIteration(ctx context.Context) error {
	for {
		if err := s.Step(ctx); err != nil {
			return err
		}
		if s.state == StateReadRound {
			return nil
		}
	}
}

// Run loops until ctx is cancelled (returns nil) or a fatal error occurs.
// An unrelated error that surfaces after cancellation is still returned.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		err := s.RunIteration(ctx)
		if err == nil {
			continue
		}
		var subErr *SubmissionError
		if errors.As(err, &subErr) {
			return err
		}
		// Only an error caused by the cancellation itself is a clean stop.
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			logger.Info("Oracle loop stopped in state %s", s.state)
			return nil
		}
		return err
	}
}

func (s *Scheduler) readRound(ctx context.Context) error {
	if _, err := s.LoadParameters(ctx); err != nil {
		return err
	}
	roundID, err := s.contract.CurrentGame(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current game: %w", err)
	}
	s.iter = Iteration{Number: s.iter.Number + 1, RoundID: roundID}
	logger.Info("Update game %d result", roundID)
	return nil
}

func (s *Scheduler) awaitWindow(ctx context.Context) error {
	wait := WaitDuration(*s.params, s.iter.RoundID, s.clock.Now())
	s.iter.Wait = wait
	s.observer.OnRound(s.iter.RoundID, wait)
	if wait <= 0 {
		return nil
	}
	logger.Info("Waiting for %d seconds until round %d resolves", int64(wait/time.Second), s.iter.RoundID)
	return s.clock.Sleep(ctx, wait)
}

func (s *Scheduler) fetchPrice(ctx context.Context) error {
	symbol := s.cfg.Symbol
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxFetchAttempts; attempt++ {
		s.iter.Attempts = attempt
		logger.Debug("Fetch %s price, attempt %d/%d", symbol, attempt, s.cfg.MaxFetchAttempts)

		quote, err := s.feed.FetchPrice(ctx, symbol)
		if err == nil {
			if quote == nil {
				err = errors.New("feed returned no quote")
			} else {
				err = quote.Validate()
			}
		}
		if err == nil {
			s.observer.OnFetchAttempt(symbol, attempt, nil)
			s.iter.Quote = quote
			logger.Info("Fetched %s price %s", symbol, quote.Price)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		s.observer.OnFetchAttempt(symbol, attempt, err)
		logger.Warn("Fetch price attempt %d failed: %v", attempt, err)

		if attempt < s.cfg.MaxFetchAttempts {
			if err := s.clock.Sleep(ctx, s.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrFetchExhausted, s.cfg.MaxFetchAttempts, lastErr)
}

func (s *Scheduler) submit(ctx context.Context) error {
	quote := s.iter.Quote
	price, err := FormatPrice(quote.Price)
	if err != nil {
		return err
	}
	fixed, err := ToFixedPoint(quote.Price)
	if err != nil {
		return err
	}
	s.iter.Price = price
	s.iter.FixedPoint = fixed

	settlement := &models.Settlement{
		ID:          uuid.NewString(),
		RoundID:     s.iter.RoundID,
		Symbol:      quote.Symbol,
		QuotePrice:  quote.Price,
		SubmittedAt: s.clock.Now(),
	}
	if fixed.IsInt64() {
		settlement.FixedPoint = fixed.Int64()
	}

	logger.Info("Submitting result %s (%s) for game %d", price, fixed, s.iter.RoundID)

	// A started submission runs to confirmation even if shutdown is requested.
	txHash, err := s.contract.CallResult(context.WithoutCancel(ctx), fixed)
	settlement.TxHash = txHash
	if err != nil {
		settlement.Status = models.SettlementFailed
		settlement.Error = err.Error()
		s.observer.OnSettlement(settlement)
		return &SubmissionError{RoundID: s.iter.RoundID, FixedPoint: fixed, Err: err}
	}

	s.iter.TxHash = txHash
	settlement.Status = models.SettlementConfirmed
	s.observer.OnSettlement(settlement)
	logger.Info("Tx hash: %s", txHash)
	logger.Info("Update game %d result completed", s.iter.RoundID)
	return nil
}

func (s *Scheduler) sleep(ctx context.Context) error {
	logger.Debug("Sleeping %v before next round read", s.cfg.LoopDelay)
	return s.clock.Sleep(ctx, s.cfg.LoopDelay)
}
