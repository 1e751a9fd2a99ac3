// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/roundoracle/internal/logger"
	"github.com/rewired-gh/roundoracle/internal/models"
)

// sender is the part of tgbotapi.BotAPI used to deliver messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// StatusFunc renders the reply to the /status command.
type StatusFunc func() string

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	sender         sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	status         StatusFunc
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		sender:         s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SetStatusFunc installs the handler for the /status command.
func (c *Client) SetStatusFunc(f StatusFunc) {
	c.status = f
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	if c.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		if c.status == nil {
			return
		}
		text = c.status()
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	c.sender.Send(reply) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.sender.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a fatal oracle error notification.
func (c *Client) SendError(oracleErr error) error {
	return c.sendMarkdownV2(formatError(oracleErr))
}

// SendFetchFailure reports the first failed price fetch of a consecutive run.
func (c *Client) SendFetchFailure(symbol string, fetchErr error) error {
	return c.sendMarkdownV2(formatFetchFailure(symbol, fetchErr))
}

// SendRecovery sends a recovery notification after consecutive fetch failures.
func (c *Client) SendRecovery(failureCount int) error {
	return c.sendMarkdownV2(formatRecovery(failureCount))
}

// SendSettlement reports a confirmed or failed callResult submission.
func (c *Client) SendSettlement(s *models.Settlement) error {
	return c.sendMarkdownV2(formatSettlement(s))
}

func formatError(err error) string {
	return fmt.Sprintf("⚠️ *Oracle stopped*\n`%s`", escapeMarkdownV2(err.Error()))
}

func formatFetchFailure(symbol string, err error) string {
	return fmt.Sprintf("⚠️ *Price fetch failed* for %s\n`%s`",
		escapeMarkdownV2(symbol), escapeMarkdownV2(err.Error()))
}

func formatRecovery(failureCount int) string {
	return fmt.Sprintf("✅ *Price feed recovered* after %d consecutive failure\\(s\\)", failureCount)
}

// formatSettlement formats a settlement into a Telegram MarkdownV2 message.
func formatSettlement(s *models.Settlement) string {
	price := escapeMarkdownV2(decimal.New(s.FixedPoint, -2).StringFixed(2))
	when := escapeMarkdownV2(s.SubmittedAt.UTC().Format("2006-01-02 15:04:05"))

	var b strings.Builder
	if s.Status == models.SettlementConfirmed {
		fmt.Fprintf(&b, "✅ *Round %d settled*\n\n", s.RoundID)
	} else {
		fmt.Fprintf(&b, "🚨 *Round %d settlement failed*\n\n", s.RoundID)
	}
	fmt.Fprintf(&b, "💰 %s: *%s* \\(%d\\)\n", escapeMarkdownV2(s.Symbol), price, s.FixedPoint)
	fmt.Fprintf(&b, "📅 %s UTC\n", when)
	if s.TxHash != "" {
		fmt.Fprintf(&b, "🔗 `%s`\n", escapeMarkdownV2(s.TxHash))
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "`%s`\n", escapeMarkdownV2(s.Error))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// Notifier delivers oracle events to Telegram from its own goroutine so
// slow or failing sends never delay a settlement.
type Notifier struct {
	client            *Client
	notifySettlements bool
	queue             chan func() error

	// touched only from the scheduler goroutine
	fetchFailures int
}

// NewNotifier creates a Notifier. Failed settlements are always reported;
// confirmed ones only when notifySettlements is set.
func NewNotifier(client *Client, notifySettlements bool) *Notifier {
	return &Notifier{
		client:            client,
		notifySettlements: notifySettlements,
		queue:             make(chan func() error, 32),
	}
}

// Run sends queued messages until ctx is cancelled, then flushes what is
// still queued.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case send := <-n.queue:
					n.deliver(send)
				default:
					return nil
				}
			}
		case send := <-n.queue:
			n.deliver(send)
		}
	}
}

func (n *Notifier) deliver(send func() error) {
	if err := send(); err != nil {
		logger.Error("Failed to send Telegram notification: %v", err)
	}
}

func (n *Notifier) enqueue(send func() error) {
	select {
	case n.queue <- send:
	default:
		logger.Warn("Telegram queue full, dropping notification")
	}
}

// OnRound is a no-op.
func (n *Notifier) OnRound(uint64, time.Duration) {}

// OnFetchAttempt reports the first failure of a consecutive run and the
// recovery that ends it.
func (n *Notifier) OnFetchAttempt(symbol string, attempt int, err error) {
	if err != nil {
		n.fetchFailures++
		if n.fetchFailures == 1 {
			n.enqueue(func() error { return n.client.SendFetchFailure(symbol, err) })
		}
		return
	}
	if n.fetchFailures > 0 {
		failures := n.fetchFailures
		n.enqueue(func() error { return n.client.SendRecovery(failures) })
		n.fetchFailures = 0
	}
}

// OnSettlement reports the submission outcome.
func (n *Notifier) OnSettlement(s *models.Settlement) {
	if s.Status == models.SettlementConfirmed && !n.notifySettlements {
		return
	}
	settlement := *s
	n.enqueue(func() error { return n.client.SendSettlement(&settlement) })
}
