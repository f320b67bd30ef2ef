package telegram

import (
	"context"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

// Registrar handles /register.
type Registrar interface {
	Register(ctx context.Context, staff domain.StaffID, locationID int64, staffUUID string) (domain.RegistrationEntry, error)
}

// Decider applies approve and reject button taps.
type Decider interface {
	Approve(ctx context.Context, orderID string, actor domain.StaffID) (domain.Decision, error)
	Reject(ctx context.Context, orderID string, actor domain.StaffID) (domain.Decision, error)
}

// Bot serves inbound updates.
type Bot struct {
	api       *tgbotapi.BotAPI
	registrar Registrar
	decider   Decider
	timeout   int
}

// NewBot builds a Bot polling with the given long-poll timeout in seconds.
func NewBot(api *tgbotapi.BotAPI, registrar Registrar, decider Decider, timeout int) *Bot {
	if timeout <= 0 {
		timeout = 60
	}
	return &Bot{api: api, registrar: registrar, decider: decider, timeout: timeout}
}

// Run long-polls for updates until ctx is cancelled and handles each one on
// its own goroutine. Handlers in flight are awaited before returning.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.timeout
	updates := b.api.GetUpdatesChan(u)

	slog.InfoContext(ctx, "telegram bot polling", "username", b.api.Self.UserName)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.handleUpdate(context.WithoutCancel(ctx), update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.reply(ctx, chatID, startText)
	case "register":
		locationID, staffUUID, err := parseRegisterArgs(msg.CommandArguments())
		if err != nil {
			b.reply(ctx, chatID, registrationErrorText(err))
			return
		}
		entry, err := b.registrar.Register(ctx, domain.StaffID(chatID), locationID, staffUUID)
		if err != nil {
			b.reply(ctx, chatID, registrationErrorText(err))
			return
		}
		b.reply(ctx, chatID, registeredText(entry))
	default:
		b.reply(ctx, chatID, unknownCommand)
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	var actor domain.StaffID
	if q.From != nil {
		actor = domain.StaffID(q.From.ID)
	}

	var (
		d   domain.Decision
		err error
	)
	kind, orderID, err := parseCallback(q.Data)
	if err == nil {
		switch kind {
		case domain.ActionApprove:
			d, err = b.decider.Approve(ctx, orderID, actor)
		case domain.ActionReject:
			d, err = b.decider.Reject(ctx, orderID, actor)
		}
	}
	if err != nil {
		slog.WarnContext(ctx, "callback action failed", "data", q.Data, "staff_id", actor, "error", err)
	}

	text, alert := decisionAnswer(d, err)
	answer := tgbotapi.NewCallback(q.ID, text)
	if alert {
		answer = tgbotapi.NewCallbackWithAlert(q.ID, text)
	}
	if _, err := b.api.Request(answer); err != nil {
		slog.ErrorContext(ctx, "failed to answer callback", "callback_id", q.ID, "error", err)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		slog.ErrorContext(ctx, "failed to reply", "chat_id", chatID, "error", err)
	}
}
