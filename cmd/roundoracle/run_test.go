package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/roundoracle/internal/metrics"
	"github.com/rewired-gh/roundoracle/internal/models"
	"github.com/rewired-gh/roundoracle/internal/storage"
)

func TestStatusFunc(t *testing.T) {
	store, err := storage.New(10, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	status := statusFunc(store)
	require.Equal(t, "No settlements yet", status())

	require.NoError(t, store.RecordSettlement(&models.Settlement{
		ID:          "s-1",
		RoundID:     12,
		Symbol:      "BTCUSDT",
		QuotePrice:  "64250.125",
		FixedPoint:  6425013,
		TxHash:      "0xabc",
		Status:      models.SettlementConfirmed,
		SubmittedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}))

	got := status()
	require.True(t, strings.HasPrefix(got, "Last settlement: round 12, BTCUSDT 64250.13, confirmed"), got)
	require.Contains(t, got, "2026-03-01 12:00:00 UTC")
}

func TestRootCommandWiring(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "round", "history"} {
		require.True(t, names[want], "missing subcommand %s", want)
	}
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("env-file"))
	require.NotNil(t, historyCmd.Flags().Lookup("limit"))
	require.NotNil(t, historyCmd.Flags().Lookup("round"))
}

func untilDone(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestSupervise_MetricsFailureIsFatal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var alerted error
	serveMetrics := func(ctx context.Context) error { return metrics.Serve(ctx, ln.Addr().String()) }

	done := make(chan error, 1)
	go func() {
		done <- supervise(context.Background(), untilDone, []func(context.Context) error{serveMetrics}, func(err error) { alerted = err })
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		require.Equal(t, err, alerted)
	case <-time.After(5 * time.Second):
		t.Fatal("loop kept running after the metrics server failed")
	}
}

func TestSupervise_FatalLoopFlushesBeforeAlert(t *testing.T) {
	log := &eventLog{}
	fatal := errors.New("callResult reverted")

	loop := func(ctx context.Context) error { return fatal }
	notifier := func(ctx context.Context) error {
		<-ctx.Done()
		log.add("flushed")
		return nil
	}

	err := supervise(context.Background(), loop, []func(context.Context) error{notifier}, func(err error) {
		log.add("alert: " + err.Error())
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, []string{"flushed", "alert: callResult reverted"}, log.all())
}

func TestSupervise_GracefulStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	log := &eventLog{}
	helper := func(ctx context.Context) error {
		<-ctx.Done()
		log.add("helper stopped")
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- supervise(ctx, untilDone, []func(context.Context) error{helper}, func(err error) {
			log.add("alert")
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervise did not return after cancellation")
	}
	require.Equal(t, []string{"helper stopped"}, log.all())
}

func TestSupervise_LoopExitReleasesHelpers(t *testing.T) {
	loop := func(ctx context.Context) error { return nil }

	done := make(chan error, 1)
	go func() {
		done <- supervise(context.Background(), loop, []func(context.Context) error{untilDone}, nil)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("helpers kept running after the loop stopped")
	}
}

func TestLoadHistory(t *testing.T) {
	store, err := storage.New(10, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := func(id string, round uint64, at time.Time, status models.SettlementStatus) {
		s := &models.Settlement{
			ID:          id,
			RoundID:     round,
			Symbol:      "BTCUSDT",
			QuotePrice:  "64250.125",
			FixedPoint:  6425013,
			Status:      status,
			SubmittedAt: at,
		}
		if status == models.SettlementConfirmed {
			s.TxHash = "0xabc"
		} else {
			s.Error = "execution reverted"
		}
		require.NoError(t, store.RecordSettlement(s))
	}
	record("a", 5, base, models.SettlementFailed)
	record("b", 5, base.Add(time.Minute), models.SettlementConfirmed)
	record("c", 6, base.Add(2*time.Minute), models.SettlementConfirmed)

	latest, err := loadHistory(store, 2, nil)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "c", latest[0].ID)

	round := uint64(5)
	byRound, err := loadHistory(store, 1, &round)
	require.NoError(t, err)
	require.Len(t, byRound, 2, "the limit does not apply to a single round")
	require.Equal(t, "a", byRound[0].ID)
	require.Equal(t, "b", byRound[1].ID)

	var out bytes.Buffer
	require.NoError(t, printSettlements(&out, byRound))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[1], "failed")
	require.Contains(t, lines[2], "0xabc")
}
