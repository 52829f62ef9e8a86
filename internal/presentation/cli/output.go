package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"emotion-client/internal/domain"
)

var emotionColors = map[string]*color.Color{
	"happy":    color.New(color.FgGreen, color.Bold),
	"surprise": color.New(color.FgYellow, color.Bold),
	"neutral":  color.New(color.FgCyan),
	"sad":      color.New(color.FgBlue),
	"angry":    color.New(color.FgRed, color.Bold),
	"fear":     color.New(color.FgMagenta),
	"disgust":  color.New(color.FgRed),
}

// printer выводит входящие события; вызывается из горутин транспорта
type printer struct {
	mutex sync.Mutex
	out   io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) emotion(label string) {
	c, ok := emotionColors[label]
	if !ok {
		c = color.New(color.Faint)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", color.New(color.Faint).Sprint(time.Now().Format("15:04:05")), c.Sprint(label))
}

func (p *printer) chat(message domain.ChatMessage) {
	prefix := color.CyanString("бэкенд>")
	if message.Side == domain.ChatSideRight {
		prefix = color.GreenString("вы>")
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", prefix, message.Text)
}

func (p *printer) handlers() domain.InboundHandlers {
	return domain.InboundHandlers{
		OnEmotion: p.emotion,
		OnChat:    p.chat,
	}
}
