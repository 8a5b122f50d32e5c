package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "PARLOR"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "parlor.db"
	defaultLogLevel      = "info"
	defaultBackend       = BackendSQLite
	defaultHistoryLimit  = 300
	defaultTimezone      = "Europe/Amsterdam"
	defaultStaticDir     = "static"
	defaultPushTTL       = 30
	defaultDisplayAPIURL = "https://api.smiirl.com"
)

// Storage backend selectors.
const (
	BackendSQLite   = "sqlite"
	BackendFirebase = "firebase"
)

// AppConfig captures runtime configuration for the chat server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	StorageBackend string
	DatabasePath   string
	FirebaseDSN    string
	FirebaseToken  string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushSubscriber  string
	PushTTLSeconds  int

	DisplayBaseURL  string
	DisplayDeviceID string
	DisplayToken    string

	HistoryLimit int
	Timezone     string
	StaticDir    string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("storage.backend", defaultBackend)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("push.ttl_seconds", defaultPushTTL)
	configViper.SetDefault("display.base_url", defaultDisplayAPIURL)
	configViper.SetDefault("chat.history_limit", defaultHistoryLimit)
	configViper.SetDefault("chat.timezone", defaultTimezone)
	configViper.SetDefault("web.static_dir", defaultStaticDir)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		LogLevel:        configViper.GetString("log.level"),
		StorageBackend:  strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		DatabasePath:    configViper.GetString("database.path"),
		FirebaseDSN:     configViper.GetString("firebase.dsn"),
		FirebaseToken:   configViper.GetString("firebase.auth_token"),
		VAPIDPublicKey:  configViper.GetString("push.vapid_public_key"),
		VAPIDPrivateKey: configViper.GetString("push.vapid_private_key"),
		PushSubscriber:  configViper.GetString("push.subscriber"),
		PushTTLSeconds:  configViper.GetInt("push.ttl_seconds"),
		DisplayBaseURL:  configViper.GetString("display.base_url"),
		DisplayDeviceID: configViper.GetString("display.device_id"),
		DisplayToken:    configViper.GetString("display.token"),
		HistoryLimit:    configViper.GetInt("chat.history_limit"),
		Timezone:        configViper.GetString("chat.timezone"),
		StaticDir:       configViper.GetString("web.static_dir"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// PushEnabled reports whether web-push delivery is configured.
func (c AppConfig) PushEnabled() bool {
	return strings.TrimSpace(c.VAPIDPublicKey) != "" && strings.TrimSpace(c.VAPIDPrivateKey) != ""
}

// DisplayEnabled reports whether device-count reporting is configured.
func (c AppConfig) DisplayEnabled() bool {
	return strings.TrimSpace(c.DisplayDeviceID) != "" && strings.TrimSpace(c.DisplayToken) != ""
}

func (c AppConfig) validate() error {
	switch c.StorageBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
	case BackendFirebase:
		if strings.TrimSpace(c.FirebaseDSN) == "" {
			return fmt.Errorf("firebase.dsn is required for the firebase backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", BackendSQLite, BackendFirebase)
	}

	if c.HistoryLimit <= 0 {
		return fmt.Errorf("chat.history_limit must be positive")
	}

	hasPublicKey := strings.TrimSpace(c.VAPIDPublicKey) != ""
	hasPrivateKey := strings.TrimSpace(c.VAPIDPrivateKey) != ""
	if hasPublicKey != hasPrivateKey {
		return fmt.Errorf("push.vapid_public_key and push.vapid_private_key must be set together")
	}
	if hasPublicKey && strings.TrimSpace(c.PushSubscriber) == "" {
		return fmt.Errorf("push.subscriber is required when push keys are set")
	}

	hasDeviceID := strings.TrimSpace(c.DisplayDeviceID) != ""
	hasDeviceToken := strings.TrimSpace(c.DisplayToken) != ""
	if hasDeviceID != hasDeviceToken {
		return fmt.Errorf("display.device_id and display.token must be set together")
	}

	return nil
}
