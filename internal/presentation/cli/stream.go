package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"emotion-client/internal/application"
	"emotion-client/internal/config"
	"emotion-client/internal/domain"
	"emotion-client/internal/infrastructure/encoder"
	"emotion-client/internal/infrastructure/signaling"
	"emotion-client/internal/infrastructure/streaming"
)

func newStreamCommand(app *App) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Отправлять кадры с камеры и выводить эмоции",
		Example: `  emotion-client stream
  emotion-client stream --transport peer --cadence 1s
  emotion-client stream --device video0 --duration 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			return runStream(ctx, app)
		},
	}

	flags := cmd.Flags()
	flags.String("transport", "", "транспорт: socket или peer")
	flags.Duration("cadence", 0, "интервал между кадрами")
	flags.Int("width", 0, "ширина видео")
	flags.Int("height", 0, "высота видео")
	flags.String("device", "", "ID устройства камеры для использования")
	flags.DurationVar(&duration, "duration", 0, "остановиться через заданное время (0 - до прерывания)")

	app.Viper.BindPFlag(config.KeyTransport, flags.Lookup("transport"))
	app.Viper.BindPFlag(config.KeyCadence, flags.Lookup("cadence"))
	app.Viper.BindPFlag(config.KeyWidth, flags.Lookup("width"))
	app.Viper.BindPFlag(config.KeyHeight, flags.Lookup("height"))
	app.Viper.BindPFlag(config.KeyDevice, flags.Lookup("device"))

	return cmd
}

// transportFactory выбирает транспорт по конфигурации
func transportFactory(cfg *config.Config, log application.Logger) application.TransportFactory {
	if cfg.Transport == domain.TransportPeer {
		return &signaling.PeerFactory{
			Endpoint: cfg.OfferURL(),
			Config:   cfg.SignalingConfig(),
			Logger:   log,
		}
	}
	return &streaming.SocketFactory{Endpoint: cfg.VideoSocketURL(), Logger: log}
}

// runStream запускает сессию и ждет отмены контекста или завершения цикла
func runStream(ctx context.Context, app *App) error {
	cfg := app.Config()
	out := newPrinter(app.Out)

	controller := application.NewSessionController(
		app.Camera,
		encoder.NewJPEGEncoder(),
		out.handlers(),
		app.Logger.WithComponent("session"),
	)
	controller.OnStateChange = func(state application.SessionState) {
		app.Logger.Debug("Состояние сессии: %s", state)
	}

	factory := transportFactory(cfg, app.Logger.WithComponent(string(cfg.Transport)))
	session, err := controller.Start(ctx, cfg.SessionConfig(), factory)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Сессия %s запущена (%s, каждые %s). Нажмите Ctrl+C для остановки.\n",
		session.ID(), cfg.Transport, cfg.Cadence)

	// Переподключения нет: закрытие канала бэкендом завершает сессию
	var closed <-chan struct{}
	if notifier, ok := session.Transport().(domain.ClosedNotifier); ok {
		closed = notifier.Closed()
	}

	var result error
	select {
	case <-ctx.Done():
		app.Logger.Info("Прерывание получено, закрытие...")
	case <-closed:
		app.Logger.Warn("Бэкенд закрыл соединение, сессия завершается")
		result = errors.Wrap(domain.ErrTransportUnavailable, "бэкенд закрыл соединение")
	}

	if err := controller.Stop(); err != nil {
		return err
	}

	stats := session.Stats()
	fmt.Fprintf(app.Out, "Отправлено кадров: %d, отброшено: %d, пропущено циклов: %d\n",
		stats.Sent, stats.Dropped, stats.Skipped)
	return result
}
