package camera

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // Регистрируем драйвер камеры
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"

	"emotion-client/internal/application"
	"emotion-client/internal/domain"
)

// MediaDevicesManager реализация CameraManager с использованием библиотеки mediadevices
type MediaDevicesManager struct {
	logger application.Logger
}

// NewMediaDevicesManager создает новый менеджер медиаустройств
func NewMediaDevicesManager(logger application.Logger) *MediaDevicesManager {
	return &MediaDevicesManager{
		logger: logger,
	}
}

// ListDevices возвращает список доступных устройств захвата
func (m *MediaDevicesManager) ListDevices() ([]domain.VideoDevice, error) {
	devices := mediadevices.EnumerateDevices()
	result := make([]domain.VideoDevice, 0, len(devices))

	for _, device := range devices {
		result = append(result, domain.VideoDevice{
			ID:    device.DeviceID,
			Label: device.Label,
			Kind:  deviceKind(device.Kind),
		})
	}

	return result, nil
}

func deviceKind(kind mediadevices.MediaDeviceType) string {
	switch kind {
	case mediadevices.VideoInput:
		return "videoinput"
	case mediadevices.AudioInput:
		return "audioinput"
	case mediadevices.AudioOutput:
		return "audiooutput"
	default:
		return "unknown"
	}
}

// OpenCamera открывает камеру с заданными параметрами.
// Любой отказ в доступе к устройству возвращается как domain.ErrPermissionDenied.
func (m *MediaDevicesManager) OpenCamera(config domain.SessionConfig) (domain.VideoTrack, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			// Задаем предпочтительные параметры, но не строгие
			if config.Width > 0 && config.Height > 0 {
				c.Width = prop.Int(config.Width)
				c.Height = prop.Int(config.Height)
			}

			if config.DeviceID != "" {
				c.DeviceID = prop.String(config.DeviceID)
			}
		},
	}

	mediaStream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		m.logger.Error("Ошибка с исходными ограничениями: %v", err)

		// Пробуем с минимальными ограничениями
		m.logger.Info("Пробуем с минимальными ограничениями...")
		constraints = mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				if config.DeviceID != "" {
					c.DeviceID = prop.String(config.DeviceID)
				}
			},
		}

		mediaStream, err = mediadevices.GetUserMedia(constraints)
		if err != nil {
			m.logger.Error("Не удалось получить доступ к медиа-устройству: %v", err)
			return nil, errors.Wrap(domain.ErrPermissionDenied, err.Error())
		}
	}

	videoTracks := mediaStream.GetVideoTracks()
	if len(videoTracks) == 0 {
		m.logger.Error("Видеотрек не обнаружен")
		for _, track := range mediaStream.GetTracks() {
			track.Close()
		}
		return nil, errors.Wrap(domain.ErrPermissionDenied, "видеотрек не обнаружен")
	}

	videoTrack, ok := videoTracks[0].(*mediadevices.VideoTrack)
	if !ok {
		for _, track := range mediaStream.GetTracks() {
			track.Close()
		}
		return nil, errors.Wrap(domain.ErrPermissionDenied, "неподдерживаемый тип трека")
	}

	return newMediaDevicesTrack(videoTrack, videoTrack.NewReader(true), m.logger), nil
}

// frameReader часть video.Reader, которая нужна треку
type frameReader interface {
	Read() (image.Image, func(), error)
}

var _ frameReader = video.Reader(nil)

// MediaDevicesTrack обертка для MediaDevices Track
type MediaDevicesTrack struct {
	track  mediadevices.Track
	reader frameReader
	logger application.Logger

	ended     atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newMediaDevicesTrack(track mediadevices.Track, reader frameReader, logger application.Logger) *MediaDevicesTrack {
	t := &MediaDevicesTrack{
		track:  track,
		reader: reader,
		logger: logger,
	}

	track.OnEnded(func(err error) {
		if err != nil {
			logger.Error("Трек %s завершился: %v", track.ID(), err)
		}
		t.ended.Store(true)
	})

	return t
}

// ID возвращает идентификатор трека
func (t *MediaDevicesTrack) ID() string {
	return t.track.ID()
}

// IsLive сообщает, продолжает ли трек отдавать кадры
func (t *MediaDevicesTrack) IsLive() bool {
	return !t.ended.Load()
}

// ReadFrame читает текущий кадр
func (t *MediaDevicesTrack) ReadFrame() (image.Image, func(), error) {
	if t.ended.Load() {
		return nil, nil, errors.New("трек завершен")
	}

	img, release, err := t.reader.Read()
	if err != nil {
		return nil, nil, errors.Wrap(err, "ошибка чтения кадра")
	}
	return img, release, nil
}

// Close останавливает трек
func (t *MediaDevicesTrack) Close() error {
	t.closeOnce.Do(func() {
		t.ended.Store(true)
		t.closeErr = t.track.Close()
	})
	return t.closeErr
}
