package camera

import (
	"errors"
	"image"
	"testing"

	"github.com/pion/mediadevices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

// stubTrack переопределяет только нужные методы mediadevices.Track
type stubTrack struct {
	mediadevices.Track
	onEnded func(error)
	closes  int
}

func (s *stubTrack) ID() string                  { return "stub-video" }
func (s *stubTrack) OnEnded(handler func(error)) { s.onEnded = handler }
func (s *stubTrack) Close() error {
	s.closes++
	return nil
}

type stubReader struct {
	err error
}

func (r stubReader) Read() (image.Image, func(), error) {
	if r.err != nil {
		return nil, nil, r.err
	}
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), func() {}, nil
}

func TestMediaDevicesTrackLifecycle(t *testing.T) {
	raw := &stubTrack{}
	track := newMediaDevicesTrack(raw, stubReader{}, nopLogger{})

	assert.Equal(t, "stub-video", track.ID())
	assert.True(t, track.IsLive())

	img, release, err := track.ReadFrame()
	require.NoError(t, err)
	release()
	assert.Equal(t, 2, img.Bounds().Dx())

	require.NoError(t, track.Close())
	require.NoError(t, track.Close())
	assert.Equal(t, 1, raw.closes)
	assert.False(t, track.IsLive())

	_, _, err = track.ReadFrame()
	assert.Error(t, err)
}

func TestMediaDevicesTrackEndedByDriver(t *testing.T) {
	raw := &stubTrack{}
	track := newMediaDevicesTrack(raw, stubReader{}, nopLogger{})

	require.NotNil(t, raw.onEnded)
	raw.onEnded(errors.New("устройство отключено"))
	assert.False(t, track.IsLive())
}

func TestMediaDevicesTrackReadError(t *testing.T) {
	track := newMediaDevicesTrack(&stubTrack{}, stubReader{err: errors.New("EOF")}, nopLogger{})
	_, _, err := track.ReadFrame()
	assert.ErrorContains(t, err, "EOF")
}

func TestDeviceKind(t *testing.T) {
	assert.Equal(t, "videoinput", deviceKind(mediadevices.VideoInput))
	assert.Equal(t, "audioinput", deviceKind(mediadevices.AudioInput))
	assert.Equal(t, "unknown", deviceKind(mediadevices.MediaDeviceType(99)))
}
