package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"emotion-client/internal/domain"
)

// LoopPhase фаза цикла захвата
type LoopPhase int32

const (
	PhaseIdle LoopPhase = iota
	PhaseCapturing
	PhaseEncoding
	PhaseSending
	PhaseStopped
)

func (p LoopPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCapturing:
		return "capturing"
	case PhaseEncoding:
		return "encoding"
	case PhaseSending:
		return "sending"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LoopStats счетчики цикла захвата
type LoopStats struct {
	Ticks          uint64    // Всего циклов
	Sent           uint64    // Принятые транспортом кадры
	Dropped        uint64    // Кадры, которые транспорт не принял
	Skipped        uint64    // Циклы без кодирования (трек не активен или транспорт не готов)
	EncodeFailures uint64    // Неудачные кодирования
	LastSentAt     time.Time // Время последней принятой отправки
}

const statsLogEvery = 10

// CaptureLoop самостоятельно планирующий цикл захвата и отправки кадров.
// Следующий цикл планируется через полный интервал после завершения текущего,
// поэтому одновременно в работе не больше одного кадра.
type CaptureLoop struct {
	track         domain.VideoTrack
	encoder       FrameEncoder
	transport     domain.Transport
	correlationID string
	cadence       time.Duration
	logger        Logger

	phase   atomic.Int32
	stopped atomic.Bool

	mutex     sync.Mutex
	cancel    context.CancelFunc
	stats     LoopStats
	startTime time.Time
}

// NewCaptureLoop создает цикл захвата для одной сессии
func NewCaptureLoop(track domain.VideoTrack, encoder FrameEncoder, transport domain.Transport,
	correlationID string, cadence time.Duration, logger Logger) *CaptureLoop {
	return &CaptureLoop{
		track:         track,
		encoder:       encoder,
		transport:     transport,
		correlationID: correlationID,
		cadence:       cadence,
		logger:        logger,
	}
}

// Run выполняет циклы до Stop или отмены контекста. Первый цикл запускается сразу.
func (l *CaptureLoop) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.mutex.Lock()
	l.cancel = cancel
	l.startTime = time.Now()
	l.mutex.Unlock()
	defer cancel()

	if l.stopped.Load() {
		l.phase.Store(int32(PhaseStopped))
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.phase.Store(int32(PhaseStopped))
			return
		case <-timer.C:
		}

		if l.stopped.Load() {
			l.phase.Store(int32(PhaseStopped))
			return
		}

		l.tick(ctx)
		l.phase.Store(int32(PhaseIdle))

		// Интервал отсчитывается от конца цикла
		timer.Reset(l.cadence)
	}
}

// Stop выставляет флаг остановки и отменяет запланированный цикл
func (l *CaptureLoop) Stop() {
	l.stopped.Store(true)

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// Phase возвращает текущую фазу цикла
func (l *CaptureLoop) Phase() LoopPhase {
	return LoopPhase(l.phase.Load())
}

// Stats возвращает снимок счетчиков
func (l *CaptureLoop) Stats() LoopStats {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.stats
}

func (l *CaptureLoop) tick(ctx context.Context) {
	l.phase.Store(int32(PhaseCapturing))
	l.count(func(s *LoopStats) { s.Ticks++ })

	if !l.track.IsLive() || !l.transport.IsReady() {
		l.count(func(s *LoopStats) { s.Skipped++ })
		return
	}

	l.phase.Store(int32(PhaseEncoding))
	capturedAt := time.Now()
	payload, err := l.encode(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			l.logger.Debug("Кадр пропущен: %v", err)
		}
		l.count(func(s *LoopStats) { s.EncodeFailures++ })
		return
	}

	// Кодирование, начатое до остановки, завершается, но результат не отправляется
	if l.stopped.Load() || ctx.Err() != nil {
		return
	}

	l.phase.Store(int32(PhaseSending))
	envelope := domain.NewFrameEnvelope(l.correlationID, capturedAt, payload)
	if !l.transport.Send(envelope) {
		l.count(func(s *LoopStats) { s.Dropped++ })
		return
	}

	var sent uint64
	var elapsed time.Duration
	l.count(func(s *LoopStats) {
		s.Sent++
		s.LastSentAt = time.Now()
		sent = s.Sent
		elapsed = s.LastSentAt.Sub(l.startTime)
	})

	// Отладочная информация
	if sent%statsLogEvery == 0 {
		fps := float64(sent) / elapsed.Seconds()
		l.logger.Debug("Отправлено кадров: %d, FPS: %.2f, размер последнего кадра: %d байт",
			sent, fps, len(payload))
	}
}

// encode учитывает ограничение размера сообщения транспорта, если оно есть
func (l *CaptureLoop) encode(ctx context.Context) (string, error) {
	if limiter, ok := l.transport.(domain.PayloadLimiter); ok {
		if bounded, ok := l.encoder.(BoundedEncoder); ok {
			return bounded.EncodeWithin(ctx, l.track, limiter.MaxPayloadSize())
		}
	}
	return l.encoder.Encode(ctx, l.track)
}

func (l *CaptureLoop) count(update func(s *LoopStats)) {
	l.mutex.Lock()
	update(&l.stats)
	l.mutex.Unlock()
}
