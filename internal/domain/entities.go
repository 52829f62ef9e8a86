package domain

import (
	"encoding/json"
	"image"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// FrameEnvelope представляет один отправляемый кадр
type FrameEnvelope struct {
	CorrelationID string    // Идентификатор сессии
	Timestamp     time.Time // Момент захвата кадра
	Payload       string    // JPEG в base64 без префикса data-URI
}

type envelopeWire struct {
	CorrelationID string `json:"correlation_id"`
	Timestamp     string `json:"timestamp"`
	Frame         string `json:"frame"`
}

// NewFrameEnvelope создает конверт с моментом захвата в UTC
func NewFrameEnvelope(correlationID string, capturedAt time.Time, payload string) FrameEnvelope {
	return FrameEnvelope{
		CorrelationID: correlationID,
		Timestamp:     capturedAt.UTC(),
		Payload:       payload,
	}
}

// Validate проверяет, что конверт можно отправлять
func (e FrameEnvelope) Validate() error {
	switch {
	case e.CorrelationID == "":
		return errors.New("пустой correlation_id")
	case e.Timestamp.IsZero():
		return errors.New("не задан момент захвата")
	case e.Payload == "":
		return errors.New("пустой кадр")
	}
	return nil
}

// MarshalJSON кодирует конверт в формат бэкенда
func (e FrameEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeWire{
		CorrelationID: e.CorrelationID,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		Frame:         e.Payload,
	})
}

// UnmarshalJSON разбирает конверт из формата бэкенда
func (e *FrameEnvelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return errors.Wrap(err, "некорректный timestamp")
	}

	*e = FrameEnvelope{
		CorrelationID: wire.CorrelationID,
		Timestamp:     ts,
		Payload:       wire.Frame,
	}
	return nil
}

// Transport канал доставки конвертов до бэкенда
type Transport interface {
	// Send отправляет конверт без ожидания подтверждения.
	// Возвращает false, если канал не готов: кадр отбрасывается, а не буферизуется.
	Send(envelope FrameEnvelope) bool

	// IsReady сообщает, открыт ли канал
	IsReady() bool

	// Close закрывает канал; повторные вызовы ничего не делают
	Close() error
}

// MaxEnvelopeOverhead запас на поля конверта сверх кадра (идентификаторы до 128 символов)
const MaxEnvelopeOverhead = 256

// PayloadLimiter реализуют транспорты, у которых размер сообщения ограничен
type PayloadLimiter interface {
	// MaxPayloadSize максимальная длина кадра в base64, при которой конверт будет принят
	MaxPayloadSize() int
}

// ClosedNotifier реализуют транспорты, сообщающие о закрытии канала любой из сторон
type ClosedNotifier interface {
	Closed() <-chan struct{}
}

// TransportKind выбирает вариант транспорта при создании сессии
type TransportKind string

const (
	TransportSocket TransportKind = "socket"
	TransportPeer   TransportKind = "peer"
)

// ParseTransportKind разбирает название транспорта
func ParseTransportKind(s string) (TransportKind, error) {
	switch kind := TransportKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case TransportSocket, TransportPeer:
		return kind, nil
	default:
		return "", errors.Errorf("неизвестный транспорт: %q", s)
	}
}

// VideoDevice представляет устройство захвата видео
type VideoDevice struct {
	ID    string // Уникальный идентификатор устройства
	Label string // Человекочитаемое имя устройства
	Kind  string // Тип устройства
}

// SessionConfig содержит конфигурацию сессии захвата
type SessionConfig struct {
	Width     int           // Предпочтительная ширина видео в пикселях
	Height    int           // Предпочтительная высота видео в пикселях
	DeviceID  string        // ID устройства для захвата
	Cadence   time.Duration // Интервал между попытками захвата
	Transport TransportKind // Вариант транспорта
}

// VideoTrack представляет видеотрек
type VideoTrack interface {
	ID() string

	// IsLive возвращает false, если трек приостановлен или завершен
	IsLive() bool

	// ReadFrame возвращает текущий кадр и функцию освобождения буфера
	ReadFrame() (image.Image, func(), error)

	// Close останавливает медиатреки
	Close() error
}

// ChatSide сторона сообщения в чате
type ChatSide string

const (
	ChatSideLeft  ChatSide = "left"  // Сообщение от бэкенда
	ChatSideRight ChatSide = "right" // Локальное сообщение
)

// ChatMessage сообщение текстового канала
type ChatMessage struct {
	ID   string
	Text string
	Side ChatSide
}

// UnknownEmotion метка "классификации еще нет", потребителям не передается
const UnknownEmotion = "unknown"

// InboundHandlers колбэки для входящих сообщений бэкенда
type InboundHandlers struct {
	OnEmotion func(emotion string)
	OnChat    func(message ChatMessage)
}

// EmitEmotion передает метку потребителю, отсекая пустые и "unknown"
func (h InboundHandlers) EmitEmotion(emotion string) {
	if emotion == "" || emotion == UnknownEmotion || h.OnEmotion == nil {
		return
	}
	h.OnEmotion(emotion)
}

// EmitChat передает сообщение чата потребителю
func (h InboundHandlers) EmitChat(message ChatMessage) {
	if h.OnChat == nil {
		return
	}
	h.OnChat(message)
}
