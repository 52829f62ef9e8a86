package devserver

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FrameRecorder сохраняет принятые кадры в директорию
type FrameRecorder struct {
	mutex     sync.Mutex
	outputDir string
	count     int
}

// NewFrameRecorder создает новый экземпляр FrameRecorder
func NewFrameRecorder(outputDir string) (*FrameRecorder, error) {
	// Создаем директорию, если она не существует
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.Wrap(err, "не удалось создать директорию")
	}

	return &FrameRecorder{outputDir: outputDir}, nil
}

// Write записывает кадр сессии в отдельный JPEG файл
func (r *FrameRecorder) Write(correlationID string, capturedAt time.Time, jpegData []byte) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.count++
	name := fmt.Sprintf("%s_%s_%06d.jpg", sanitize(correlationID), capturedAt.UTC().Format("2006-01-02_15-04-05.000"), r.count)
	path := filepath.Join(r.outputDir, name)

	if err := os.WriteFile(path, jpegData, 0644); err != nil {
		return "", errors.Wrap(err, "не удалось записать кадр")
	}
	return path, nil
}

// Count возвращает число записанных кадров
func (r *FrameRecorder) Count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.count
}

func sanitize(id string) string {
	out := make([]rune, 0, len(id))
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "session"
	}
	return string(out)
}
