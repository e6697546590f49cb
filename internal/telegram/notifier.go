// Package telegram is the push-notification consumer of the runtime
// event bus. It is entirely optional: a nil Notifier is safe to call,
// and delivery failures are logged, never propagated.
package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/events"
)

// Sender is the slice of the bot API the notifier uses. *tgbotapi.BotAPI
// satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier forwards filtered bus events to one Telegram chat.
type Notifier struct {
	sender     Sender
	chatID     int64
	level      events.NoiseLevel
	suppressor *events.DuplicateSuppressor
	logger     *zap.Logger
}

// New builds a Notifier from settings. A nil settings block or an empty
// bot token disables the consumer: New returns nil, and every method on
// a nil Notifier is a no-op.
func New(cfg *config.TelegramSettings, logger *zap.Logger) (*Notifier, error) {
	if cfg == nil || cfg.BotToken == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	return NewWithSender(bot, cfg, logger), nil
}

// NewWithSender wires an explicit Sender, mainly for tests.
func NewWithSender(sender Sender, cfg *config.TelegramSettings, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	level, ok := events.ParseNoiseLevel(cfg.NoiseLevel)
	if !ok {
		level = events.NoiseImportant
	}
	var suppressor *events.DuplicateSuppressor
	if cfg.SuppressDuplicates {
		suppressor = events.NewDuplicateSuppressor(0)
	}
	return &Notifier{
		sender:     sender,
		chatID:     cfg.ChatID,
		level:      level,
		suppressor: suppressor,
		logger:     logger,
	}
}

// Notify delivers one event if it clears the noise filter and the
// duplicate suppressor. Send errors are logged and swallowed so a flaky
// Telegram API never stalls the orchestrator.
func (n *Notifier) Notify(ev events.Event) {
	if n == nil {
		return
	}
	if !events.AllowAtLevel(ev, n.level) {
		return
	}
	if n.suppressor != nil && !n.suppressor.ShouldDeliver(ev) {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, events.FormatTelegram(ev))
	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Warn("telegram send failed",
			zap.String("eventType", string(ev.Type)),
			zap.Error(err))
	}
}

// Consume subscribes to the bus and forwards events until ctx ends. It
// blocks; run it on its own goroutine.
func (n *Notifier) Consume(ctx context.Context, bus *events.Bus) {
	if n == nil || bus == nil {
		return
	}
	ch, cancel := bus.Subscribe("")
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n.Notify(ev)
		}
	}
}
