package streaming

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"emotion-client/internal/application"
	"emotion-client/internal/domain"
)

const writeTimeout = 10 * time.Second

// SocketTransport реализует отправку кадров через WebSocket
type SocketTransport struct {
	conn     *websocket.Conn
	logger   application.Logger
	handlers domain.InboundHandlers

	open      atomic.Bool
	mutex     sync.Mutex
	closeOnce sync.Once
	readDone  chan struct{}
}

// DialSocket подключается к серверу и запускает чтение входящих сообщений
func DialSocket(ctx context.Context, endpoint string, handlers domain.InboundHandlers, logger application.Logger) (*SocketTransport, error) {
	conn, err := dialWebSocket(ctx, endpoint, logger)
	if err != nil {
		return nil, err
	}

	s := &SocketTransport{
		conn:     conn,
		logger:   logger,
		handlers: handlers,
		readDone: make(chan struct{}),
	}
	s.open.Store(true)

	go s.readLoop()

	logger.Info("Подключено к серверу")
	return s, nil
}

func dialWebSocket(ctx context.Context, endpoint string, logger application.Logger) (*websocket.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		logger.Error("Некорректный URL: %v", err)
		return nil, errors.Wrap(domain.ErrNetwork, err.Error())
	}

	logger.Info("Подключение к %s", u.String())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		logger.Error("Ошибка подключения к серверу: %v", err)
		return nil, errors.Wrap(domain.ErrNetwork, err.Error())
	}
	return conn, nil
}

// IsReady возвращает статус подключения
func (s *SocketTransport) IsReady() bool {
	return s.open.Load()
}

// Closed закрывается, когда соединение закрыто любой из сторон
func (s *SocketTransport) Closed() <-chan struct{} {
	return s.readDone
}

// Send отправляет конверт; при закрытом соединении кадр отбрасывается
func (s *SocketTransport) Send(envelope domain.FrameEnvelope) bool {
	if !s.open.Load() {
		return false
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("Ошибка кодирования конверта: %v", err)
		return false
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.open.Load() {
		return false
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Error("Ошибка отправки кадра: %v", err)
		s.open.Store(false)
		return false
	}
	return true
}

// Close закрывает соединение ровно один раз
func (s *SocketTransport) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.mutex.Lock()
		wasOpen := s.open.Swap(false)
		if wasOpen {
			// Отправляем сообщение о закрытии
			err := s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			if err != nil {
				s.logger.Debug("Ошибка закрытия WebSocket: %v", err)
			}
		}
		closeErr = s.conn.Close()
		s.mutex.Unlock()

		<-s.readDone
	})
	return closeErr
}

func (s *SocketTransport) readLoop() {
	defer close(s.readDone)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.open.Swap(false) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Error("Соединение прервано: %v", err)
			} else {
				s.logger.Info("Соединение закрыто")
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		dispatchInbound(data, s.handlers, s.logger)
	}
}

// SocketFactory открывает SocketTransport для каждой сессии
type SocketFactory struct {
	Endpoint string
	Logger   application.Logger
}

// Open подключается к конечной точке видеокадров
func (f *SocketFactory) Open(ctx context.Context, handlers domain.InboundHandlers) (domain.Transport, error) {
	transport, err := DialSocket(ctx, f.Endpoint, handlers, f.Logger)
	if err != nil {
		return nil, err
	}
	return transport, nil
}
