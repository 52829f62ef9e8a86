// Package config собирает настройки клиента из значений по умолчанию,
// файла config.yaml, переменных окружения EMOTION_* и флагов командной строки.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"emotion-client/internal/domain"
	"emotion-client/internal/infrastructure/signaling"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "EMOTION"

// Ключи конфигурации
const (
	KeyBackendURL      = "backend.url"
	KeyVideoPath       = "backend.video_path"
	KeyChatPath        = "backend.chat_path"
	KeyOfferPath       = "backend.offer_path"
	KeyCadence         = "capture.cadence"
	KeyWidth           = "capture.width"
	KeyHeight          = "capture.height"
	KeyDevice          = "capture.device"
	KeyTransport       = "transport.kind"
	KeyICEServers      = "peer.ice_servers"
	KeyChannel         = "peer.channel"
	KeyOpenTimeout     = "peer.open_timeout"
	KeyDebug           = "log.debug"
	KeyDevServerAddr   = "devserver.addr"
	KeyDevServerRecord = "devserver.record_dir"
)

var configPaths = []string{
	".",
	"$HOME/.emotion-client",
	"/etc/emotion-client",
}

// New создает viper со значениями по умолчанию и привязкой к окружению
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyBackendURL, "http://localhost:8000")
	v.SetDefault(KeyVideoPath, "/emotions/video")
	v.SetDefault(KeyChatPath, "/emotions/chat")
	v.SetDefault(KeyOfferPath, "/emotions/offer")
	v.SetDefault(KeyCadence, 1500*time.Millisecond)
	v.SetDefault(KeyWidth, 640)
	v.SetDefault(KeyHeight, 480)
	v.SetDefault(KeyDevice, "")
	v.SetDefault(KeyTransport, string(domain.TransportSocket))
	v.SetDefault(KeyICEServers, signaling.DefaultConfig().ICEServers)
	v.SetDefault(KeyChannel, signaling.DefaultConfig().ChannelLabel)
	v.SetDefault(KeyOpenTimeout, signaling.DefaultConfig().OpenTimeout)
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyDevServerAddr, ":8000")
	v.SetDefault(KeyDevServerRecord, "")

	// EMOTION_BACKEND_URL -> backend.url
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	return v
}

// LoadDotEnv подгружает переменные из .env, если файл есть
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	var existing []string
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return errors.Wrap(err, "не удалось загрузить .env")
	}
	return nil
}

// ReadFile читает явно указанный файл конфигурации или ищет config.yaml.
// Отсутствие файла в путях поиска не является ошибкой.
func ReadFile(v *viper.Viper, explicitPath string) error {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "не удалось прочитать %s", explicitPath)
		}
		return nil
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return errors.Wrap(err, "ошибка чтения файла конфигурации")
	}
	return nil
}

// Config итоговые настройки клиента
type Config struct {
	BackendURL  string
	VideoPath   string
	ChatPath    string
	OfferPath   string
	Cadence     time.Duration
	Width       int
	Height      int
	DeviceID    string
	Transport   domain.TransportKind
	ICEServers  []string
	Channel     string
	OpenTimeout time.Duration
	Debug       bool

	backend *url.URL
}

// FromViper проверяет значения и собирает Config
func FromViper(v *viper.Viper) (*Config, error) {
	kind, err := domain.ParseTransportKind(v.GetString(KeyTransport))
	if err != nil {
		return nil, err
	}

	backend, err := url.Parse(v.GetString(KeyBackendURL))
	if err != nil {
		return nil, errors.Wrap(err, "некорректный адрес бэкенда")
	}
	switch backend.Scheme {
	case "http", "https":
	default:
		return nil, errors.Errorf("адрес бэкенда должен начинаться с http:// или https://: %q", backend.String())
	}
	if backend.Host == "" {
		return nil, errors.Errorf("в адресе бэкенда нет хоста: %q", backend.String())
	}

	cfg := &Config{
		BackendURL:  backend.String(),
		VideoPath:   v.GetString(KeyVideoPath),
		ChatPath:    v.GetString(KeyChatPath),
		OfferPath:   v.GetString(KeyOfferPath),
		Cadence:     v.GetDuration(KeyCadence),
		Width:       v.GetInt(KeyWidth),
		Height:      v.GetInt(KeyHeight),
		DeviceID:    v.GetString(KeyDevice),
		Transport:   kind,
		ICEServers:  v.GetStringSlice(KeyICEServers),
		Channel:     v.GetString(KeyChannel),
		OpenTimeout: v.GetDuration(KeyOpenTimeout),
		Debug:       v.GetBool(KeyDebug),
		backend:     backend,
	}

	if cfg.Cadence <= 0 {
		return nil, errors.Errorf("интервал захвата должен быть положительным: %s", cfg.Cadence)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Errorf("некорректное разрешение %dx%d", cfg.Width, cfg.Height)
	}

	return cfg, nil
}

// VideoSocketURL адрес WebSocket для кадров
func (c *Config) VideoSocketURL() string {
	return c.endpoint(true, c.VideoPath)
}

// ChatSocketURL адрес WebSocket чата
func (c *Config) ChatSocketURL() string {
	return c.endpoint(true, c.ChatPath)
}

// OfferURL адрес HTTP обмена offer/answer
func (c *Config) OfferURL() string {
	return c.endpoint(false, c.OfferPath)
}

func (c *Config) endpoint(socket bool, path string) string {
	u := *c.backend
	if socket {
		if u.Scheme == "https" {
			u.Scheme = "wss"
		} else {
			u.Scheme = "ws"
		}
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	return u.String()
}

// SessionConfig параметры сессии захвата
func (c *Config) SessionConfig() domain.SessionConfig {
	return domain.SessionConfig{
		Width:     c.Width,
		Height:    c.Height,
		DeviceID:  c.DeviceID,
		Cadence:   c.Cadence,
		Transport: c.Transport,
	}
}

// SignalingConfig параметры согласования WebRTC
func (c *Config) SignalingConfig() signaling.Config {
	return signaling.Config{
		ICEServers:   c.ICEServers,
		ChannelLabel: c.Channel,
		OpenTimeout:  c.OpenTimeout,
	}
}
