package devserver

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"

	"emotion-client/internal/domain"
)

// Classifier возвращает метку эмоции для кадра
type Classifier interface {
	Classify(img image.Image) string
}

// BrightnessClassifier учебный классификатор по средней яркости кадра
type BrightnessClassifier struct{}

// Classify отображает среднюю яркость в метку
func (BrightnessClassifier) Classify(img image.Image) string {
	bounds := img.Bounds()
	if bounds.Empty() {
		return domain.UnknownEmotion
	}

	// Берем каждый 4-й пиксель, этого достаточно для средней яркости
	var sum, n uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 4 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 4 {
			r, g, b, _ := img.At(x, y).RGBA()
			sum += (299*uint64(r) + 587*uint64(g) + 114*uint64(b)) / 1000 >> 8
			n++
		}
	}

	switch luma := sum / n; {
	case luma < 48:
		return domain.UnknownEmotion
	case luma < 112:
		return "sad"
	case luma < 176:
		return "neutral"
	default:
		return "happy"
	}
}

// decodeEnvelope разбирает кадр конверта в изображение
func decodeEnvelope(envelope domain.FrameEnvelope) (image.Image, []byte, error) {
	if err := envelope.Validate(); err != nil {
		return nil, nil, errors.Wrap(domain.ErrProtocol, err.Error())
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Payload)
	if err != nil {
		return nil, nil, errors.Wrapf(domain.ErrProtocol, "кадр не в base64: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, errors.Wrapf(domain.ErrProtocol, "кадр не JPEG: %v", err)
	}
	return img, raw, nil
}
