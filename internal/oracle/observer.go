package oracle

import (
	"time"

	"github.com/rewired-gh/roundoracle/internal/models"
)

// Observer receives progress events from the scheduler. Implementations must
// not block for long and must handle their own errors; nothing an observer
// does can fail an iteration.
type Observer interface {
	OnRound(roundID uint64, wait time.Duration)
	OnFetchAttempt(symbol string, attempt int, err error)
	OnSettlement(s *models.Settlement)
}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) OnRound(roundID uint64, wait time.Duration) {
	for _, obs := range o {
		obs.OnRound(roundID, wait)
	}
}

func (o Observers) OnFetchAttempt(symbol string, attempt int, err error) {
	for _, obs := range o {
		obs.OnFetchAttempt(symbol, attempt, err)
	}
}

func (o Observers) OnSettlement(s *models.Settlement) {
	for _, obs := range o {
		obs.OnSettlement(s)
	}
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) OnRound(uint64, time.Duration)     {}
func (NopObserver) OnFetchAttempt(string, int, error) {}
func (NopObserver) OnSettlement(*models.Settlement)   {}
