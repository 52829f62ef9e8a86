package signaling

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emotion-client/internal/devserver"
	"emotion-client/internal/domain"
	"emotion-client/internal/infrastructure/encoder"
	"emotion-client/internal/infrastructure/logger"
)

var testLogger = logger.NewLogrusLoggerTo(io.Discard, false)

func testConfig() Config {
	return Config{ChannelLabel: "frames", OpenTimeout: 10 * time.Second}
}

func answering(status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
}

func TestEstablishRejectsBadAnswers(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "не JSON", status: http.StatusOK, body: "<html>oops</html>"},
		{name: "ошибка сервера", status: http.StatusInternalServerError, body: `{"type":"answer","sdp":"v=0"}`},
		{name: "тип offer", status: http.StatusOK, body: `{"type":"offer","sdp":"v=0\r\n"}`},
		{name: "пустой SDP", status: http.StatusOK, body: `{"type":"answer","sdp":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := answering(tt.status, tt.body)
			defer srv.Close()

			var states []State
			client := NewClient(testConfig(), nil, testLogger)
			client.OnStateChange = func(state State) { states = append(states, state) }

			transport, err := client.Establish(context.Background(), srv.URL, domain.InboundHandlers{})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrProtocol)
			assert.Nil(t, transport)
			assert.Equal(t, StateClosed, client.State())
			assert.Equal(t, []State{StateOfferCreated, StateAwaitingAnswer, StateClosed}, states)
		})
	}
}

func TestEstablishNetworkFailure(t *testing.T) {
	srv := answering(http.StatusOK, "")
	url := srv.URL
	srv.Close()

	client := NewClient(testConfig(), nil, testLogger)
	transport, err := client.Establish(context.Background(), url, domain.InboundHandlers{})
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Nil(t, transport)
	assert.Equal(t, StateClosed, client.State())
}

func TestEstablishIsSingleUse(t *testing.T) {
	srv := answering(http.StatusBadGateway, "")
	defer srv.Close()

	client := NewClient(testConfig(), nil, testLogger)
	_, err := client.Establish(context.Background(), srv.URL, domain.InboundHandlers{})
	require.Error(t, err)

	_, err = client.Establish(context.Background(), srv.URL, domain.InboundHandlers{})
	assert.ErrorIs(t, err, domain.ErrAlreadyEstablished)
}

// noiseTrack камера, отдающая шумный кадр: такой JPEG плохо сжимается
type noiseTrack struct {
	frame *image.RGBA
}

func newNoiseTrack(width, height int) *noiseTrack {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	rand.New(rand.NewSource(7)).Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return &noiseTrack{frame: img}
}

func (t *noiseTrack) ID() string   { return "noise" }
func (t *noiseTrack) IsLive() bool { return true }
func (t *noiseTrack) Close() error { return nil }

func (t *noiseTrack) ReadFrame() (image.Image, func(), error) {
	return t.frame, func() {}, nil
}

func TestEstablishLoopback(t *testing.T) {
	backend := devserver.NewServer(nil, nil, testLogger)
	srv := httptest.NewServer(backend.Handler())
	defer func() {
		srv.Close()
		backend.Close()
	}()

	var mutex sync.Mutex
	var emotions []string
	handlers := domain.InboundHandlers{OnEmotion: func(e string) {
		mutex.Lock()
		emotions = append(emotions, e)
		mutex.Unlock()
	}}
	received := func() int {
		mutex.Lock()
		defer mutex.Unlock()
		return len(emotions)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var states []State
	client := NewClient(testConfig(), nil, testLogger)
	client.OnStateChange = func(state State) { states = append(states, state) }

	transport, err := client.Establish(ctx, srv.URL+"/emotions/offer", handlers)
	require.NoError(t, err)
	defer transport.Close()

	assert.Equal(t, StateConnected, client.State())
	assert.Equal(t, []State{StateOfferCreated, StateAwaitingAnswer, StateConnected}, states)
	assert.Nil(t, client.Exchange(), "описания не хранятся после открытия канала")
	require.True(t, transport.IsReady())

	// Обработчик на стороне сервера может подписаться чуть позже открытия канала
	bright := frameEnvelope(t)
	require.Eventually(t, func() bool {
		if received() > 0 {
			return true
		}
		assert.True(t, transport.Send(bright))
		return false
	}, 10*time.Second, 200*time.Millisecond)

	mutex.Lock()
	assert.Equal(t, "happy", emotions[0])
	mutex.Unlock()

	// Конверт больше сообщения SCTP отклоняется, канал остается открытым
	oversize := domain.NewFrameEnvelope("loopback", time.Now(), strings.Repeat("A", 70000))
	assert.False(t, transport.Send(oversize))
	assert.True(t, transport.IsReady())

	// Крупный кадр, сжатый под лимит канала, доходит до бэкенда
	payload, err := encoder.NewJPEGEncoder().EncodeWithin(ctx, newNoiseTrack(1280, 960), transport.MaxPayloadSize())
	require.NoError(t, err)
	before := received()
	require.True(t, transport.Send(domain.NewFrameEnvelope("loopback", time.Now(), payload)))
	require.Eventually(t, func() bool { return received() > before }, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, transport.Close())
	assert.False(t, transport.IsReady())
	assert.False(t, transport.Send(frameEnvelope(t)))
}

func TestPeerFactoryOpensReadyTransport(t *testing.T) {
	backend := devserver.NewServer(nil, nil, testLogger)
	srv := httptest.NewServer(backend.Handler())
	defer func() {
		srv.Close()
		backend.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	factory := &PeerFactory{Endpoint: srv.URL + "/emotions/offer", Config: testConfig(), Logger: testLogger}
	transport, err := factory.Open(ctx, domain.InboundHandlers{})
	require.NoError(t, err)
	defer transport.Close()

	assert.True(t, transport.IsReady())
	_, limited := transport.(domain.PayloadLimiter)
	assert.True(t, limited)
}

func frameEnvelope(t *testing.T) domain.FrameEnvelope {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return domain.NewFrameEnvelope("loopback", time.Now(), base64.StdEncoding.EncodeToString(buf.Bytes()))
}

func jsonEscape(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw[1 : len(raw)-1])
}

func TestParseAnswer(t *testing.T) {
	valid := "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "корректный", raw: `{"type":"answer","sdp":"` + jsonEscape(valid) + `"}`},
		{name: "мусор", raw: `not json`, wantErr: true},
		{name: "без типа", raw: `{"sdp":"` + jsonEscape(valid) + `"}`, wantErr: true},
		{name: "пробелы вместо SDP", raw: `{"type":"answer","sdp":"   "}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, err := parseAnswer([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrProtocol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-answer", StateAwaitingAnswer.String())
	assert.Equal(t, "unknown", State(99).String())
}
