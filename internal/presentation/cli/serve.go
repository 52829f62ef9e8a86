package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"emotion-client/internal/config"
	"emotion-client/internal/devserver"
	"emotion-client/internal/infrastructure/logger"
)

// NewDevServerCommand создает команду локального бэкенда emotion-devserver
func NewDevServerCommand() *cobra.Command {
	v := config.New()
	var configPath string

	cmd := &cobra.Command{
		Use:          "emotion-devserver",
		Short:        "Локальный бэкенд для проверки emotion-client",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			if err := config.ReadFile(v, configPath); err != nil {
				return err
			}

			log := logger.NewLogrusLogger(v.GetBool(config.KeyDebug)).WithComponent("devserver")

			var recorder *devserver.FrameRecorder
			if dir := v.GetString(config.KeyDevServerRecord); dir != "" {
				var err error
				if recorder, err = devserver.NewFrameRecorder(dir); err != nil {
					return err
				}
				log.Info("Кадры сохраняются в %s", dir)
			}

			backend := devserver.NewServer(devserver.BrightnessClassifier{}, recorder, log)
			defer backend.Close()

			srv := &http.Server{
				Addr:              v.GetString(config.KeyDevServerAddr),
				Handler:           backend.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			log.Info("Сервер запущен на %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info("Сервер остановлен")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "путь к файлу конфигурации")
	flags.String("addr", "", "адрес сервера")
	flags.String("record", "", "директория для сохранения принятых кадров")
	flags.Bool("debug", false, "включить отладочные сообщения")

	v.BindPFlag(config.KeyDevServerAddr, flags.Lookup("addr"))
	v.BindPFlag(config.KeyDevServerRecord, flags.Lookup("record"))
	v.BindPFlag(config.KeyDebug, flags.Lookup("debug"))

	return cmd
}
