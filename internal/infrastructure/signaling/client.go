// Package signaling устанавливает канал данных WebRTC одним обменом offer/answer по HTTP.
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"emotion-client/internal/application"
	"emotion-client/internal/domain"
	"emotion-client/internal/infrastructure/streaming"
)

// State состояние согласования
type State int

const (
	StateNew State = iota
	StateOfferCreated
	StateAwaitingAnswer
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferCreated:
		return "offer-created"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const maxAnswerSize = 1 << 20

// Config параметры соединения
type Config struct {
	ICEServers   []string      // STUN/TURN адреса
	ChannelLabel string        // Имя канала данных
	OpenTimeout  time.Duration // Ожидание открытия канала после ответа
}

// DefaultConfig конфигурация по умолчанию
func DefaultConfig() Config {
	return Config{
		ICEServers:   []string{"stun:stun.l.google.com:19302"},
		ChannelLabel: "frames",
		OpenTimeout:  15 * time.Second,
	}
}

// Exchange пара описаний одного согласования
type Exchange struct {
	Local  webrtc.SessionDescription
	Remote webrtc.SessionDescription
}

// Client выполняет одно согласование и возвращает открытый PeerTransport
type Client struct {
	config     Config
	httpClient *http.Client
	logger     application.Logger

	// OnStateChange вызывается при каждом переходе состояния
	OnStateChange func(state State)

	mutex    sync.Mutex
	state    State
	used     bool
	exchange *Exchange
}

// NewClient создает сигнальный клиент; httpClient может быть nil
func NewClient(config Config, httpClient *http.Client, logger application.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if config.ChannelLabel == "" {
		config.ChannelLabel = DefaultConfig().ChannelLabel
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultConfig().OpenTimeout
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		state:      StateNew,
	}
}

// State возвращает текущее состояние согласования
func (c *Client) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Exchange возвращает пару описаний, пока канал не открыт; после открытия nil
func (c *Client) Exchange() *Exchange {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.exchange
}

// Establish выполняет обмен offer/answer и ждет открытия канала.
// Возвращает транспорт только с открытым каналом; повторов нет.
func (c *Client) Establish(ctx context.Context, offerEndpoint string, handlers domain.InboundHandlers) (*streaming.PeerTransport, error) {
	c.mutex.Lock()
	if c.used {
		c.mutex.Unlock()
		return nil, domain.ErrAlreadyEstablished
	}
	c.used = true
	c.exchange = &Exchange{}
	c.mutex.Unlock()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: c.iceServers(),
	})
	if err != nil {
		c.setState(StateClosed)
		return nil, errors.Wrap(domain.ErrNetwork, err.Error())
	}

	transport, err := c.negotiate(ctx, pc, offerEndpoint, handlers)
	if err != nil {
		c.logger.Error("Согласование не удалось: %v", err)
		if closeErr := pc.Close(); closeErr != nil {
			c.logger.Debug("Ошибка закрытия соединения: %v", closeErr)
		}
		c.setState(StateClosed)
		return nil, err
	}

	c.mutex.Lock()
	c.exchange = nil
	c.mutex.Unlock()
	c.setState(StateConnected)
	return transport, nil
}

func (c *Client) negotiate(ctx context.Context, pc *webrtc.PeerConnection, offerEndpoint string,
	handlers domain.InboundHandlers) (*streaming.PeerTransport, error) {
	channel, err := pc.CreateDataChannel(c.config.ChannelLabel, nil)
	if err != nil {
		return nil, errors.Wrap(domain.ErrNetwork, err.Error())
	}
	transport := streaming.NewPeerTransport(pc, channel, handlers, c.logger)

	iceFailed := make(chan webrtc.ICEConnectionState, 1)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		c.logger.Debug("ICE Connection State: %s", state.String())
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			select {
			case iceFailed <- state:
			default:
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, errors.Wrap(domain.ErrNetwork, err.Error())
	}
	c.setState(StateOfferCreated)

	// Кандидаты собираются до отправки: обмен выполняется за один запрос
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, errors.Wrap(domain.ErrNetwork, err.Error())
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, errors.Wrap(domain.ErrNetwork, ctx.Err().Error())
	}

	local := pc.LocalDescription()
	c.mutex.Lock()
	c.exchange.Local = *local
	c.mutex.Unlock()

	c.setState(StateAwaitingAnswer)
	answer, err := c.postOffer(ctx, offerEndpoint, *local)
	if err != nil {
		return nil, err
	}

	if err := pc.SetRemoteDescription(answer); err != nil {
		return nil, errors.Wrapf(domain.ErrProtocol, "не удалось применить ответ: %v", err)
	}
	c.mutex.Lock()
	c.exchange.Remote = answer
	c.mutex.Unlock()

	timer := time.NewTimer(c.config.OpenTimeout)
	defer timer.Stop()

	select {
	case <-transport.Opened():
		c.logger.Info("Соединение установлено с бэкендом")
		return transport, nil
	case state := <-iceFailed:
		return nil, errors.Wrapf(domain.ErrNetwork, "ICE: %s", state)
	case <-timer.C:
		return nil, errors.Wrap(domain.ErrNetwork, "канал данных не открылся вовремя")
	case <-ctx.Done():
		return nil, errors.Wrap(domain.ErrNetwork, ctx.Err().Error())
	}
}

// postOffer отправляет offer и разбирает answer
func (c *Client) postOffer(ctx context.Context, endpoint string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	var answer webrtc.SessionDescription

	body, err := json.Marshal(offer)
	if err != nil {
		return answer, errors.Wrap(domain.ErrProtocol, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return answer, errors.Wrap(domain.ErrNetwork, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("Отправка offer на %s", endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return answer, errors.Wrap(domain.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerSize))
	if err != nil {
		return answer, errors.Wrap(domain.ErrNetwork, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return answer, errors.Wrapf(domain.ErrProtocol, "сервер ответил %s", resp.Status)
	}

	return parseAnswer(raw)
}

// parseAnswer проверяет, что тело ответа является описанием типа answer с корректным SDP
func parseAnswer(raw []byte) (webrtc.SessionDescription, error) {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return answer, errors.Wrapf(domain.ErrProtocol, "ответ не разобран: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return answer, errors.Wrapf(domain.ErrProtocol, "ожидался answer, получен %q", answer.Type.String())
	}
	if strings.TrimSpace(answer.SDP) == "" {
		return answer, errors.Wrap(domain.ErrProtocol, "пустой SDP")
	}
	if _, err := answer.Unmarshal(); err != nil {
		return answer, errors.Wrapf(domain.ErrProtocol, "некорректный SDP: %v", err)
	}
	return answer, nil
}

func (c *Client) iceServers() []webrtc.ICEServer {
	if len(c.config.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.config.ICEServers}}
}

func (c *Client) setState(state State) {
	c.mutex.Lock()
	if c.state == state {
		c.mutex.Unlock()
		return
	}
	c.state = state
	hook := c.OnStateChange
	c.mutex.Unlock()

	c.logger.Debug("Состояние согласования: %s", state)
	if hook != nil {
		hook(state)
	}
}

// PeerFactory открывает PeerTransport через новый сигнальный клиент для каждой сессии
type PeerFactory struct {
	Endpoint   string
	Config     Config
	HTTPClient *http.Client
	Logger     application.Logger
}

// Open выполняет согласование и возвращает открытый транспорт
func (f *PeerFactory) Open(ctx context.Context, handlers domain.InboundHandlers) (domain.Transport, error) {
	client := NewClient(f.Config, f.HTTPClient, f.Logger)
	transport, err := client.Establish(ctx, f.Endpoint, handlers)
	if err != nil {
		return nil, err
	}
	return transport, nil
}
