package application

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"emotion-client/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

// fakeTrack трек, который отдает однотонный кадр
type fakeTrack struct {
	live   atomic.Bool
	closes atomic.Int32
}

func newFakeTrack() *fakeTrack {
	t := &fakeTrack{}
	t.live.Store(true)
	return t
}

func (t *fakeTrack) ID() string   { return "fake-camera" }
func (t *fakeTrack) IsLive() bool { return t.live.Load() }
func (t *fakeTrack) Close() error {
	t.closes.Add(1)
	t.live.Store(false)
	return nil
}

func (t *fakeTrack) ReadFrame() (image.Image, func(), error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), func() {}, nil
}

// inFlight считает одновременно выполняемые кодирования и отправки
type inFlight struct {
	current atomic.Int32
	max     atomic.Int32
}

func (f *inFlight) enter() {
	n := f.current.Add(1)
	for {
		m := f.max.Load()
		if n <= m || f.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (f *inFlight) leave() { f.current.Add(-1) }

type fakeEncoder struct {
	delay    time.Duration
	err      error
	calls    atomic.Int32
	inFlight *inFlight

	// block, если задан, удерживает кодирование до закрытия канала
	block   chan struct{}
	entered chan struct{}
}

func (e *fakeEncoder) Encode(ctx context.Context, track domain.VideoTrack) (string, error) {
	e.calls.Add(1)
	if e.inFlight != nil {
		e.inFlight.enter()
		defer e.inFlight.leave()
	}
	if e.entered != nil {
		select {
		case e.entered <- struct{}{}:
		default:
		}
	}
	if e.block != nil {
		<-e.block
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return "", e.err
	}
	return "ZnJhbWU=", nil
}

type fakeTransport struct {
	ready    atomic.Bool
	closes   atomic.Int32
	inFlight *inFlight

	mutex     sync.Mutex
	envelopes []domain.FrameEnvelope
	sentAt    []time.Time

	// onSend вызывается после каждой принятой отправки с их количеством
	onSend func(n int)
}

func newFakeTransport() *fakeTransport {
	t := &fakeTransport{}
	t.ready.Store(true)
	return t
}

func (t *fakeTransport) IsReady() bool { return t.ready.Load() }

func (t *fakeTransport) Close() error {
	t.closes.Add(1)
	t.ready.Store(false)
	return nil
}

func (t *fakeTransport) Send(envelope domain.FrameEnvelope) bool {
	if !t.ready.Load() {
		return false
	}
	if t.inFlight != nil {
		t.inFlight.enter()
		time.Sleep(2 * time.Millisecond)
		t.inFlight.leave()
	}

	t.mutex.Lock()
	t.envelopes = append(t.envelopes, envelope)
	t.sentAt = append(t.sentAt, time.Now())
	n := len(t.envelopes)
	t.mutex.Unlock()

	if t.onSend != nil {
		t.onSend(n)
	}
	return true
}

func (t *fakeTransport) sent() ([]domain.FrameEnvelope, []time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]domain.FrameEnvelope(nil), t.envelopes...), append([]time.Time(nil), t.sentAt...)
}

type fakeCamera struct {
	err    error
	track  *fakeTrack
	opened atomic.Int32
}

func (c *fakeCamera) ListDevices() ([]domain.VideoDevice, error) {
	return []domain.VideoDevice{{ID: "cam0", Label: "Fake Camera", Kind: "videoinput"}}, nil
}

func (c *fakeCamera) OpenCamera(config domain.SessionConfig) (domain.VideoTrack, error) {
	c.opened.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	c.track = newFakeTrack()
	return c.track, nil
}

type fakeFactory struct {
	err       error
	transport *fakeTransport
	opens     atomic.Int32
	handlers  domain.InboundHandlers

	// opening, если задан, получает сигнал, и Open ждет отмены контекста
	opening chan struct{}
}

func (f *fakeFactory) Open(ctx context.Context, handlers domain.InboundHandlers) (domain.Transport, error) {
	f.opens.Add(1)
	f.handlers = handlers
	if f.opening != nil {
		close(f.opening)
		<-ctx.Done()
		return nil, errors.Wrap(domain.ErrNetwork, ctx.Err().Error())
	}
	if f.err != nil {
		return nil, f.err
	}
	f.transport = newFakeTransport()
	return f.transport, nil
}
