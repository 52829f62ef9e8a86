package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"emotion-client/internal/domain"
)

// SessionState состояние контроллера сессии
type SessionState string

const (
	StateIdle     SessionState = "idle"
	StateStarting SessionState = "starting"
	StateRunning  SessionState = "running"
)

// DefaultCadence интервал захвата по умолчанию
const DefaultCadence = 1500 * time.Millisecond

// CaptureSession активная сессия захвата: камера, транспорт и цикл
type CaptureSession struct {
	id        string
	track     domain.VideoTrack
	transport domain.Transport
	loop      *CaptureLoop
	done      chan struct{}
	closeOnce sync.Once
}

// ID возвращает correlation id сессии
func (s *CaptureSession) ID() string {
	return s.id
}

// Transport возвращает транспорт сессии
func (s *CaptureSession) Transport() domain.Transport {
	return s.transport
}

// Stats возвращает счетчики цикла захвата
func (s *CaptureSession) Stats() LoopStats {
	return s.loop.Stats()
}

// Done закрывается, когда цикл захвата завершился
func (s *CaptureSession) Done() <-chan struct{} {
	return s.done
}

// shutdown останавливает цикл и освобождает ресурсы ровно один раз.
// Трек закрывается до ожидания цикла: закрытие разблокирует чтение кадра.
func (s *CaptureSession) shutdown(logger Logger) {
	s.closeOnce.Do(func() {
		s.loop.Stop()

		if err := s.transport.Close(); err != nil {
			logger.Error("Ошибка закрытия транспорта: %v", err)
		}
		if err := s.track.Close(); err != nil {
			logger.Error("Ошибка закрытия трека: %v", err)
		}

		<-s.done
	})
}

// SessionController управляет жизненным циклом сессии захвата
type SessionController struct {
	cameraManager CameraManager
	encoder       FrameEncoder
	handlers      domain.InboundHandlers
	logger        Logger

	// OnStateChange вызывается при смене состояния контроллера вне блокировок.
	// Из хука можно вызывать State и Session, но не Start и Stop.
	OnStateChange func(state SessionState)

	// lifecycle упорядочивает Start и Stop, mutex защищает поля ниже
	lifecycle   sync.Mutex
	mutex       sync.Mutex
	session     *CaptureSession
	state       SessionState
	cancelStart context.CancelFunc
}

// NewSessionController создает новый контроллер сессии
func NewSessionController(cameraManager CameraManager, encoder FrameEncoder,
	handlers domain.InboundHandlers, logger Logger) *SessionController {
	return &SessionController{
		cameraManager: cameraManager,
		encoder:       encoder,
		handlers:      handlers,
		logger:        logger,
		state:         StateIdle,
	}
}

// ListDevices возвращает список доступных устройств захвата
func (c *SessionController) ListDevices() ([]domain.VideoDevice, error) {
	devices, err := c.cameraManager.ListDevices()
	if err != nil {
		c.logger.Error("Ошибка получения списка устройств: %v", err)
		return nil, err
	}
	return devices, nil
}

// Start открывает камеру и транспорт и запускает цикл захвата.
// Цикл стартует только после того, как транспорт установлен.
// Stop во время запуска прерывает открытие транспорта.
func (c *SessionController) Start(ctx context.Context, config domain.SessionConfig, factory TransportFactory) (*CaptureSession, error) {
	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	// Если есть активная сессия, останавливаем ее
	c.stopLocked()

	c.mutex.Lock()
	c.cancelStart = cancel
	c.mutex.Unlock()
	defer func() {
		c.mutex.Lock()
		c.cancelStart = nil
		c.mutex.Unlock()
	}()

	cadence := config.Cadence
	if cadence <= 0 {
		cadence = DefaultCadence
	}

	c.setState(StateStarting)

	c.logger.Info("Открытие камеры с параметрами: %dx%d, интервал: %s, транспорт: %s",
		config.Width, config.Height, cadence, config.Transport)

	track, err := c.cameraManager.OpenCamera(config)
	if err != nil {
		c.logger.Error("Ошибка открытия камеры: %v", err)
		c.setState(StateIdle)
		if errors.Is(err, domain.ErrPermissionDenied) {
			return nil, err
		}
		return nil, errors.Wrap(domain.ErrPermissionDenied, err.Error())
	}
	c.logger.Info("Используется камера: %s", track.ID())

	transport, err := factory.Open(startCtx, c.handlers)
	if err == nil && startCtx.Err() != nil {
		// Stop пришел, когда транспорт уже открылся
		if closeErr := transport.Close(); closeErr != nil {
			c.logger.Error("Ошибка закрытия транспорта: %v", closeErr)
		}
		err = errors.Wrap(startCtx.Err(), "запуск сессии прерван")
	}
	if err != nil {
		c.logger.Error("Не удалось открыть транспорт: %v", err)
		if closeErr := track.Close(); closeErr != nil {
			c.logger.Error("Ошибка закрытия трека: %v", closeErr)
		}
		c.setState(StateIdle)
		return nil, err
	}

	id := uuid.NewString()
	session := &CaptureSession{
		id:        id,
		track:     track,
		transport: transport,
		loop:      NewCaptureLoop(track, c.encoder, transport, id, cadence, c.logger),
		done:      make(chan struct{}),
	}

	go func() {
		defer close(session.done)
		session.loop.Run(context.Background())
	}()

	c.mutex.Lock()
	c.session = session
	c.mutex.Unlock()
	c.setState(StateRunning)
	c.logger.Info("Сессия %s запущена", id)

	return session, nil
}

// Stop останавливает захват; на неактивном контроллере ничего не делает
func (c *SessionController) Stop() error {
	c.mutex.Lock()
	if c.cancelStart != nil {
		c.cancelStart()
	}
	c.mutex.Unlock()

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.stopLocked()
	return nil
}

// State возвращает текущее состояние контроллера
func (c *SessionController) State() SessionState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Session возвращает активную сессию или nil
func (c *SessionController) Session() *CaptureSession {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.session
}

// stopLocked вызывается под lifecycle
func (c *SessionController) stopLocked() {
	c.mutex.Lock()
	session := c.session
	c.session = nil
	c.mutex.Unlock()

	if session == nil {
		return
	}
	session.shutdown(c.logger)

	stats := session.Stats()
	c.logger.Info("Сессия %s остановлена: циклов %d, отправлено %d, отброшено %d, пропущено %d",
		session.id, stats.Ticks, stats.Sent, stats.Dropped, stats.Skipped)
	c.setState(StateIdle)
}

func (c *SessionController) setState(state SessionState) {
	c.mutex.Lock()
	if c.state == state {
		c.mutex.Unlock()
		return
	}
	c.state = state
	hook := c.OnStateChange
	c.mutex.Unlock()

	if hook != nil {
		hook(state)
	}
}
