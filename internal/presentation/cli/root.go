package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"emotion-client/internal/application"
	"emotion-client/internal/config"
	"emotion-client/internal/infrastructure/camera"
	"emotion-client/internal/infrastructure/logger"
)

// App общие зависимости команд
type App struct {
	Viper  *viper.Viper
	Out    io.Writer
	In     io.Reader
	Logger *logger.LogrusLogger

	// Camera подменяется в тестах; по умолчанию mediadevices
	Camera application.CameraManager

	configPath string
	config     *config.Config
}

// NewApp создает приложение со значениями по умолчанию
func NewApp() *App {
	return &App{
		Viper: config.New(),
		Out:   os.Stdout,
		In:    os.Stdin,
	}
}

// Config возвращает загруженную конфигурацию
func (a *App) Config() *config.Config {
	return a.config
}

// load читает .env и файл конфигурации, затем собирает Config и логгер
func (a *App) load() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	if err := config.ReadFile(a.Viper, a.configPath); err != nil {
		return err
	}

	cfg, err := config.FromViper(a.Viper)
	if err != nil {
		return err
	}
	a.config = cfg

	if a.Logger == nil {
		a.Logger = logger.NewLogrusLogger(cfg.Debug)
	}
	if a.Camera == nil {
		a.Camera = camera.NewMediaDevicesManager(a.Logger.WithComponent("camera"))
	}
	return nil
}

// NewRootCommand создает корневую команду emotion-client
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "emotion-client",
		Short:         "Клиент распознавания эмоций по видео с камеры",
		Long:          `emotion-client снимает кадры с камеры с заданным интервалом, отправляет их на бэкенд по WebSocket или каналу данных WebRTC и выводит полученные метки эмоций.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "путь к файлу конфигурации")
	flags.Bool("debug", false, "включить отладочные сообщения")
	flags.String("backend", "", "адрес бэкенда (http:// или https://)")

	app.Viper.BindPFlag(config.KeyDebug, flags.Lookup("debug"))
	app.Viper.BindPFlag(config.KeyBackendURL, flags.Lookup("backend"))

	rootCmd.AddCommand(newStreamCommand(app))
	rootCmd.AddCommand(newDevicesCommand(app))
	rootCmd.AddCommand(newChatCommand(app))

	return rootCmd
}

// Execute запускает CLI с аргументами процесса
func Execute() error {
	return NewRootCommand(NewApp()).Execute()
}
