package cli

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emotion-client/internal/devserver"
	"emotion-client/internal/domain"
	"emotion-client/internal/infrastructure/logger"
)

// syncBuffer буфер вывода, в который пишут горутины транспорта
type syncBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

type brightTrack struct {
	closed atomic.Bool
}

func (t *brightTrack) ID() string   { return "test-camera" }
func (t *brightTrack) IsLive() bool { return !t.closed.Load() }
func (t *brightTrack) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *brightTrack) ReadFrame() (image.Image, func(), error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img, func() {}, nil
}

type testCamera struct {
	devices []domain.VideoDevice
	err     error
	track   *brightTrack
}

func (c *testCamera) ListDevices() ([]domain.VideoDevice, error) {
	return c.devices, c.err
}

func (c *testCamera) OpenCamera(config domain.SessionConfig) (domain.VideoTrack, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.track = &brightTrack{}
	return c.track, nil
}

func newTestApp(camera *testCamera, in io.Reader) (*App, *syncBuffer) {
	out := &syncBuffer{}
	app := NewApp()
	app.Out = out
	app.In = in
	app.Logger = logger.NewLogrusLoggerTo(io.Discard, false)
	app.Camera = camera
	return app, out
}

func startBackend(t *testing.T) string {
	t.Helper()
	backend := devserver.NewServer(nil, nil, logger.NewLogrusLoggerTo(io.Discard, false))
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(func() {
		srv.Close()
		backend.Close()
	})
	return srv.URL
}

func execute(t *testing.T, app *App, args ...string) error {
	t.Helper()
	cmd := NewRootCommand(app)
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return cmd.ExecuteContext(ctx)
}

func TestDevicesCommand(t *testing.T) {
	camera := &testCamera{devices: []domain.VideoDevice{
		{ID: "video0", Label: "Integrated Camera", Kind: "videoinput"},
	}}
	app, out := newTestApp(camera, strings.NewReader(""))

	require.NoError(t, execute(t, app, "devices"))
	assert.Contains(t, out.String(), "Доступные устройства:")
	assert.Contains(t, out.String(), "Integrated Camera (videoinput)")
}

func TestDevicesCommandError(t *testing.T) {
	app, _ := newTestApp(&testCamera{err: errors.New("no driver")}, strings.NewReader(""))
	assert.Error(t, execute(t, app, "devices"))
}

func TestStreamCommandOverSocket(t *testing.T) {
	backend := startBackend(t)
	camera := &testCamera{}
	app, out := newTestApp(camera, strings.NewReader(""))

	err := execute(t, app, "stream", "--backend", backend, "--cadence", "20ms", "--duration", "400ms")
	require.NoError(t, err)

	assert.Contains(t, out.String(), "happy")
	assert.Contains(t, out.String(), "Отправлено кадров:")
	assert.True(t, camera.track.closed.Load(), "камера освобождена")
	assert.Equal(t, domain.TransportSocket, app.Config().Transport)
}

func TestStreamCommandPermissionDenied(t *testing.T) {
	app, _ := newTestApp(&testCamera{err: errors.New("Permission denied")}, strings.NewReader(""))

	err := execute(t, app, "stream", "--backend", "http://127.0.0.1:1", "--duration", "100ms")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestStreamCommandRejectsUnknownTransport(t *testing.T) {
	app, _ := newTestApp(&testCamera{}, strings.NewReader(""))
	assert.Error(t, execute(t, app, "stream", "--transport", "carrier-pigeon"))
}

func TestChatCommand(t *testing.T) {
	backend := startBackend(t)
	in, writer := io.Pipe()
	app, out := newTestApp(&testCamera{}, in)

	done := make(chan error, 1)
	go func() { done <- execute(t, app, "chat", "--backend", backend) }()

	_, err := io.WriteString(writer, "привет\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "эхо: привет")
	}, 5*time.Second, 10*time.Millisecond)

	writer.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("чат не завершился после конца ввода")
	}
}

func TestStreamCommandEndsWhenBackendCloses(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Принимаем один кадр и уходим
		conn.ReadMessage()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	defer srv.Close()

	camera := &testCamera{}
	app, out := newTestApp(camera, strings.NewReader(""))

	err := execute(t, app, "stream", "--backend", srv.URL, "--cadence", "20ms")
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)
	assert.Contains(t, out.String(), "Отправлено кадров:")
	assert.True(t, camera.track.closed.Load(), "камера освобождена")
}
