package streaming

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"emotion-client/internal/application"
	"emotion-client/internal/domain"
)

// inboundMessage входящее сообщение бэкенда: метка эмоции и/или текст чата
type inboundMessage struct {
	Emotion *string `json:"emotion"`
	Message *string `json:"message"`
}

// dispatchInbound разбирает входящее сообщение и передает его потребителям.
// Некорректные сообщения логируются и отбрасываются, соединение не закрывается.
func dispatchInbound(data []byte, handlers domain.InboundHandlers, logger application.Logger) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("%v", errors.Wrapf(domain.ErrProtocol, "не удалось разобрать входящее сообщение: %v", err))
		return
	}

	if msg.Emotion == nil && msg.Message == nil {
		logger.Debug("Входящее сообщение без известных полей: %s", data)
		return
	}

	if msg.Emotion != nil {
		handlers.EmitEmotion(*msg.Emotion)
	}
	if msg.Message != nil && *msg.Message != "" {
		handlers.EmitChat(domain.ChatMessage{
			ID:   uuid.NewString(),
			Text: *msg.Message,
			Side: domain.ChatSideLeft,
		})
	}
}
