package streaming

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"emotion-client/internal/application"
	"emotion-client/internal/domain"
)

const (
	// MaxBufferedAmount порог буфера канала данных, выше которого кадры отбрасываются
	MaxBufferedAmount = 1 << 20

	// DefaultMaxMessageSize размер сообщения SCTP, если ассоциация его не сообщила
	DefaultMaxMessageSize = 64 << 10
)

// dataChannel часть *webrtc.DataChannel, которой пользуется транспорт
type dataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	BufferedAmount() uint64
	SendText(s string) error
	Close() error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
}

var _ dataChannel = (*webrtc.DataChannel)(nil)

// PeerTransport отправляет кадры через канал данных WebRTC.
// Согласование выполняет сигнальный клиент, сам транспорт его не инициирует.
type PeerTransport struct {
	pc       *webrtc.PeerConnection
	channel  dataChannel
	logger   application.Logger
	handlers domain.InboundHandlers

	open        atomic.Bool
	opened      chan struct{}
	openOnce    sync.Once
	closed      chan struct{}
	closedOnce  sync.Once
	closeOnce   sync.Once
	messageSize atomic.Int64
}

// NewPeerTransport подписывается на события канала данных
func NewPeerTransport(pc *webrtc.PeerConnection, channel *webrtc.DataChannel,
	handlers domain.InboundHandlers, logger application.Logger) *PeerTransport {
	t := newPeerTransport(pc, channel, handlers, logger)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			t.open.Store(false)
			t.markClosed()
		}
	})
	return t
}

func newPeerTransport(pc *webrtc.PeerConnection, channel dataChannel,
	handlers domain.InboundHandlers, logger application.Logger) *PeerTransport {
	t := &PeerTransport{
		pc:       pc,
		channel:  channel,
		logger:   logger,
		handlers: handlers,
		opened:   make(chan struct{}),
		closed:   make(chan struct{}),
	}

	channel.OnOpen(func() {
		logger.Info("Канал данных %s открыт, максимальный размер сообщения %d байт", channel.Label(), t.MaxMessageSize())
		t.open.Store(true)
		t.openOnce.Do(func() { close(t.opened) })
	})
	channel.OnClose(func() {
		logger.Info("Канал данных %s закрыт", channel.Label())
		t.open.Store(false)
		t.markClosed()
	})
	channel.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		dispatchInbound(msg.Data, t.handlers, t.logger)
	})

	return t
}

// Opened закрывается при первом открытии канала
func (t *PeerTransport) Opened() <-chan struct{} {
	return t.opened
}

// Closed закрывается, когда канал закрыт любой из сторон
func (t *PeerTransport) Closed() <-chan struct{} {
	return t.closed
}

// IsReady true только после события открытия канала
func (t *PeerTransport) IsReady() bool {
	return t.open.Load() && t.channel.ReadyState() == webrtc.DataChannelStateOpen
}

// MaxMessageSize максимальный размер одного сообщения канала.
// Значение берется из SCTP ассоциации, пока она не установлена используется значение по умолчанию.
func (t *PeerTransport) MaxMessageSize() int {
	if size := t.messageSize.Load(); size > 0 {
		return int(size)
	}

	if t.pc != nil {
		if sctp := t.pc.SCTP(); sctp != nil {
			if size := sctp.GetCapabilities().MaxMessageSize; size > 0 {
				t.messageSize.Store(int64(size))
				return int(size)
			}
		}
	}
	return DefaultMaxMessageSize
}

// MaxPayloadSize размер кадра, при котором конверт укладывается в одно сообщение
func (t *PeerTransport) MaxPayloadSize() int {
	return t.MaxMessageSize() - domain.MaxEnvelopeOverhead
}

// Send отправляет конверт текстом; переполненный буфер означает отброс кадра
func (t *PeerTransport) Send(envelope domain.FrameEnvelope) bool {
	if !t.IsReady() {
		return false
	}

	if buffered := t.channel.BufferedAmount(); buffered > MaxBufferedAmount {
		t.logger.Debug("Буфер канала переполнен (%d байт), кадр отброшен", buffered)
		return false
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		t.logger.Error("Ошибка кодирования конверта: %v", err)
		return false
	}

	if limit := t.MaxMessageSize(); len(data) > limit {
		t.logger.Warn("Кадр %d байт больше максимального сообщения канала (%d байт), кадр отброшен", len(data), limit)
		return false
	}

	if err := t.channel.SendText(string(data)); err != nil {
		t.logger.Error("Ошибка отправки кадра: %v", err)
		return false
	}
	return true
}

// Close закрывает канал данных и соединение ровно один раз
func (t *PeerTransport) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		t.open.Store(false)
		if err := t.channel.Close(); err != nil {
			t.logger.Debug("Ошибка закрытия канала данных: %v", err)
		}
		if t.pc != nil {
			closeErr = t.pc.Close()
		}
		t.markClosed()
	})
	return closeErr
}

func (t *PeerTransport) markClosed() {
	t.closedOnce.Do(func() { close(t.closed) })
}
