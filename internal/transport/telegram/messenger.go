// Package telegram is the messaging transport: it delivers order cards to
// staff chats, edits them after a decision and serves the bot commands and
// button callbacks staff interact with.
package telegram

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

// NewAPI authenticates against the Bot API. An empty endpoint uses the
// public one; client may be nil.
func NewAPI(token, endpoint string, client *http.Client) (*tgbotapi.BotAPI, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot: %w", err)
	}
	return api, nil
}

// Messenger sends and edits HTML messages with inline action buttons.
type Messenger struct {
	api *tgbotapi.BotAPI
}

func NewMessenger(api *tgbotapi.BotAPI) *Messenger {
	return &Messenger{api: api}
}

func (m *Messenger) SendMessage(ctx context.Context, recipient domain.StaffID, text string, actions []domain.Action) (domain.MessageHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.MessageHandle{}, err
	}

	msg := tgbotapi.NewMessage(int64(recipient), text)
	msg.ParseMode = tgbotapi.ModeHTML
	if kb := keyboard(actions); kb != nil {
		msg.ReplyMarkup = *kb
	}

	sent, err := m.api.Send(msg)
	if err != nil {
		return domain.MessageHandle{}, fmt.Errorf("telegram: send to %s: %w", recipient, err)
	}
	return domain.MessageHandle{Recipient: recipient, MessageID: sent.MessageID}, nil
}

// EditMessage replaces the text of a delivered message. Without actions
// the inline keyboard is removed.
func (m *Messenger) EditMessage(ctx context.Context, handle domain.MessageHandle, text string, actions []domain.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageText(int64(handle.Recipient), handle.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = keyboard(actions)

	if _, err := m.api.Send(edit); err != nil {
		return fmt.Errorf("telegram: edit message %d of %s: %w", handle.MessageID, handle.Recipient, err)
	}
	return nil
}

// keyboard lays actions out on a single row.
func keyboard(actions []domain.Action) *tgbotapi.InlineKeyboardMarkup {
	if len(actions) == 0 {
		return nil
	}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(row)
	return &kb
}
