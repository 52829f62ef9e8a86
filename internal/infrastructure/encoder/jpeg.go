package encoder

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"emotion-client/internal/domain"
)

const (
	// DefaultWidth ширина, если источник еще не сообщил размеры
	DefaultWidth = 640
	// DefaultHeight высота, если источник еще не сообщил размеры
	DefaultHeight = 480
	// Quality фиксированное качество JPEG (0.7)
	Quality = 70
	// MinSide меньшая сторона, до которой кадр уменьшается при ограничении размера
	MinSide = 80
)

// fallbackQualities качество по шагам, если кадр не укладывается в лимит
var fallbackQualities = []int{Quality, 55, 40}

// JPEGEncoder рисует кадр на переиспользуемом битмапе и сжимает его в JPEG
type JPEGEncoder struct {
	canvas *image.RGBA
	buffer bytes.Buffer
}

// NewJPEGEncoder создает новый кодировщик кадров
func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{}
}

// Encode возвращает текущий кадр трека как base64 JPEG без префикса data-URI
func (e *JPEGEncoder) Encode(ctx context.Context, track domain.VideoTrack) (string, error) {
	canvas, err := e.capture(ctx, track)
	if err != nil {
		return "", err
	}

	if err := e.compress(canvas, Quality); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(e.buffer.Bytes()), nil
}

// EncodeWithin как Encode, но результат не длиннее limit символов.
// Сначала снижается качество, затем кадр уменьшается вдвое, пока не уложится в лимит.
func (e *JPEGEncoder) EncodeWithin(ctx context.Context, track domain.VideoTrack, limit int) (string, error) {
	if limit <= 0 {
		return e.Encode(ctx, track)
	}

	canvas, err := e.capture(ctx, track)
	if err != nil {
		return "", err
	}

	var img image.Image = canvas
	for {
		for _, quality := range fallbackQualities {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if err := e.compress(img, quality); err != nil {
				return "", err
			}
			if base64.StdEncoding.EncodedLen(e.buffer.Len()) <= limit {
				return base64.StdEncoding.EncodeToString(e.buffer.Bytes()), nil
			}
		}

		bounds := img.Bounds()
		width, height := bounds.Dx()/2, bounds.Dy()/2
		if width < MinSide || height < MinSide {
			return "", errors.Wrapf(domain.ErrEncodingFailure, "кадр не укладывается в %d байт", limit)
		}

		scaled := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
		img = scaled
	}
}

// capture рисует текущий кадр трека на битмапе кодировщика
func (e *JPEGEncoder) capture(ctx context.Context, track domain.VideoTrack) (*image.RGBA, error) {
	frame, release, err := track.ReadFrame()
	if err != nil {
		return nil, errors.Wrap(domain.ErrEncodingFailure, err.Error())
	}
	if frame == nil {
		if release != nil {
			release()
		}
		return nil, errors.Wrap(domain.ErrEncodingFailure, "нет кадра")
	}

	canvas := e.canvasFor(frame.Bounds())
	draw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), frame, frame.Bounds(), draw.Src, nil)
	if release != nil {
		release()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return canvas, nil
}

func (e *JPEGEncoder) compress(img image.Image, quality int) error {
	e.buffer.Reset()
	if err := jpeg.Encode(&e.buffer, img, &jpeg.Options{Quality: quality}); err != nil {
		return errors.Wrap(domain.ErrEncodingFailure, err.Error())
	}
	if e.buffer.Len() == 0 {
		return domain.ErrEncodingFailure
	}
	return nil
}

// canvasFor возвращает битмап под размеры источника, пересоздавая его только при их смене
func (e *JPEGEncoder) canvasFor(bounds image.Rectangle) *image.RGBA {
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}

	if e.canvas == nil || e.canvas.Bounds().Dx() != width || e.canvas.Bounds().Dy() != height {
		e.canvas = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	return e.canvas
}
