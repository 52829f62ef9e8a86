package application

import (
	"context"

	"emotion-client/internal/domain"
)

// CameraManager интерфейс для управления камерой
type CameraManager interface {
	// ListDevices возвращает список доступных устройств захвата
	ListDevices() ([]domain.VideoDevice, error)

	// OpenCamera открывает камеру с заданными параметрами
	OpenCamera(config domain.SessionConfig) (domain.VideoTrack, error)
}

// FrameEncoder интерфейс для сжатия текущего кадра
type FrameEncoder interface {
	// Encode возвращает сжатый кадр в текстовом виде
	Encode(ctx context.Context, track domain.VideoTrack) (string, error)
}

// BoundedEncoder кодировщик, умеющий уложить кадр в ограничение транспорта
type BoundedEncoder interface {
	// EncodeWithin возвращает сжатый кадр длиной не больше limit
	EncodeWithin(ctx context.Context, track domain.VideoTrack, limit int) (string, error)
}

// TransportFactory интерфейс для открытия транспорта сессии
type TransportFactory interface {
	// Open возвращает уже готовый к отправке транспорт
	Open(ctx context.Context, handlers domain.InboundHandlers) (domain.Transport, error)
}

// Logger интерфейс для логирования
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}
