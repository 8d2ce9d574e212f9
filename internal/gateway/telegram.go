package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramGateway relays Telegram messages to a ChatHandler.
type TelegramGateway struct {
	Bot     *tgbotapi.BotAPI
	Handler *ChatHandler
}

func NewTelegramGateway(token string, handler *ChatHandler) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{Bot: bot, Handler: handler}, nil
}

// ConversationID maps a Telegram chat to a conversation key.
func ConversationID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// ChatID is the inverse of ConversationID.
func ChatID(conversationID string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(conversationID, "tg:%d", &id); err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chat ID: %s", conversationID)
	}
	return id, nil
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			tg.Bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			if update.Message.From != nil {
				log.Printf("[%s] %s", update.Message.From.UserName, update.Message.Text)
			}

			wg.Add(1)
			go func(chatID int64, text string) {
				defer wg.Done()
				reply := tg.Handler.Handle(ctx, ConversationID(chatID), text)
				if _, err := tg.Bot.Send(tgbotapi.NewMessage(chatID, reply)); err != nil {
					log.Printf("Error sending reply to %d: %v", chatID, err)
				}
			}(update.Message.Chat.ID, update.Message.Text)
		}
	}
}

func (tg *TelegramGateway) Send(conversationID string, text string) error {
	id, err := ChatID(conversationID)
	if err != nil {
		return err
	}
	_, err = tg.Bot.Send(tgbotapi.NewMessage(id, text))
	return err
}
