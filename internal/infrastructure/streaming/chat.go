package streaming

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"emotion-client/internal/application"
	"emotion-client/internal/domain"
)

// chatWire формат сообщения чата в обе стороны
type chatWire struct {
	Message string `json:"message"`
}

// ChatClient текстовый канал к бэкенду поверх WebSocket
type ChatClient struct {
	conn     *websocket.Conn
	logger   application.Logger
	onChange func(message domain.ChatMessage)

	connected atomic.Bool
	dialed    atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
	readDone  chan struct{}

	historyMu sync.Mutex
	history   []domain.ChatMessage
}

// NewChatClient создает клиент чата; onMessage вызывается для каждого нового сообщения
func NewChatClient(logger application.Logger, onMessage func(message domain.ChatMessage)) *ChatClient {
	return &ChatClient{
		logger:   logger,
		onChange: onMessage,
		readDone: make(chan struct{}),
	}
}

// Connect подключается к конечной точке чата. Клиент одноразовый:
// повторный вызов возвращает domain.ErrAlreadyEstablished.
func (c *ChatClient) Connect(ctx context.Context, endpoint string) error {
	if !c.dialed.CompareAndSwap(false, true) {
		return domain.ErrAlreadyEstablished
	}

	conn, err := dialWebSocket(ctx, endpoint, c.logger)
	if err != nil {
		close(c.readDone)
		return err
	}

	c.conn = conn
	c.connected.Store(true)
	c.logger.Info("[Chat] подключено")

	go c.readLoop()
	return nil
}

// Connected возвращает статус подключения
func (c *ChatClient) Connected() bool {
	return c.connected.Load()
}

// Send сохраняет сообщение локально и отправляет его, если соединение открыто.
// Без соединения сообщение остается только в локальной истории.
func (c *ChatClient) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.append(domain.ChatMessage{
		ID:   uuid.NewString(),
		Text: text,
		Side: domain.ChatSideRight,
	})

	if !c.connected.Load() {
		c.logger.Warn("[Chat] не подключено, сообщение только локально")
		return domain.ErrTransportUnavailable
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(chatWire{Message: text}); err != nil {
		c.logger.Warn("[Chat] ошибка отправки: %v", err)
		c.connected.Store(false)
		return domain.ErrTransportUnavailable
	}
	return nil
}

// Messages возвращает копию истории сообщений
func (c *ChatClient) Messages() []domain.ChatMessage {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	return append([]domain.ChatMessage(nil), c.history...)
}

// Close закрывает соединение ровно один раз
func (c *ChatClient) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		if c.conn == nil {
			return
		}

		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		closeErr = c.conn.Close()
		c.writeMu.Unlock()

		<-c.readDone
	})
	return closeErr
}

func (c *ChatClient) readLoop() {
	defer close(c.readDone)

	handlers := domain.InboundHandlers{
		OnChat: c.append,
		OnEmotion: func(emotion string) {
			c.logger.Debug("[Chat] получена эмоция: %s", emotion)
		},
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.connected.Swap(false) {
				c.logger.Warn("[Chat] отключено: %v", err)
			}
			return
		}
		dispatchInbound(data, handlers, c.logger)
	}
}

func (c *ChatClient) append(message domain.ChatMessage) {
	c.historyMu.Lock()
	c.history = append(c.history, message)
	c.historyMu.Unlock()

	if c.onChange != nil {
		c.onChange(message)
	}
}
