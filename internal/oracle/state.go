package oracle

import (
	"math/big"
	"time"

	"github.com/rewired-gh/roundoracle/internal/models"
)

// State is one step of the settlement cycle.
type State int

const (
	StateReadRound State = iota
	StateAwaitWindow
	StateFetchPrice
	StateSubmit
	StateSleep
)

func (s State) String() string {
	switch s {
	case StateReadRound:
		return "READ_ROUND"
	case StateAwaitWindow:
		return "AWAIT_WINDOW"
	case StateFetchPrice:
		return "FETCH_PRICE"
	case StateSubmit:
		return "SUBMIT"
	case StateSleep:
		return "SLEEP"
	default:
		return "UNKNOWN"
	}
}

// next returns the state that follows s in the cycle.
func (s State) next() State {
	if s == StateSleep {
		return StateReadRound
	}
	return s + 1
}

// Iteration is the scheduler's working state for one pass through the cycle.
// It is reset on every READ_ROUND.
type Iteration struct {
	Number     uint64
	RoundID    uint64
	Wait       time.Duration
	Attempts   int
	Quote      *models.PriceQuote
	Price      string
	FixedPoint *big.Int
	TxHash     string
}
