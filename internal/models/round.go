// Package models defines the core domain entities: round parameters, price
// quotes, and settlement records.
package models

import (
	"errors"
	"time"
)

// GameSettings mirrors the contract's settings() getter.
type GameSettings struct {
	FreeGuessPerDay int64
	FixedReward     int64
	WindowTime      int64 // seconds
	LockoutTime     int64 // seconds
}

// RoundParameters are read once from the contract at startup and never change.
// All times are in seconds; StartTime is seconds since the Unix epoch.
type RoundParameters struct {
	StartTime       int64
	WindowTime      int64
	LockoutTime     int64
	FreeGuessPerDay int64
	FixedReward     int64
}

// NewRoundParameters combines START_TIME() and settings() into one value.
func NewRoundParameters(startTime int64, s GameSettings) RoundParameters {
	return RoundParameters{
		StartTime:       startTime,
		WindowTime:      s.WindowTime,
		LockoutTime:     s.LockoutTime,
		FreeGuessPerDay: s.FreeGuessPerDay,
		FixedReward:     s.FixedReward,
	}
}

// Validate checks round parameter constraints.
func (p RoundParameters) Validate() error {
	if p.StartTime < 0 {
		return errors.New("start time must not be negative")
	}
	if p.WindowTime <= 0 {
		return errors.New("window time must be positive")
	}
	if p.LockoutTime < 0 {
		return errors.New("lockout time must not be negative")
	}
	return nil
}

// ResolutionUnix returns the epoch second at which roundID resolves.
func (p RoundParameters) ResolutionUnix(roundID uint64) int64 {
	return p.StartTime + int64(roundID)*p.WindowTime
}

// ResolutionTime is ResolutionUnix as a time.Time.
func (p RoundParameters) ResolutionTime(roundID uint64) time.Time {
	return time.Unix(p.ResolutionUnix(roundID), 0)
}

// Window returns the round duration.
func (p RoundParameters) Window() time.Duration {
	return time.Duration(p.WindowTime) * time.Second
}

// Lockout returns the post-round lockout period.
func (p RoundParameters) Lockout() time.Duration {
	return time.Duration(p.LockoutTime) * time.Second
}
