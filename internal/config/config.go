package config

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type AppConfig struct {
	PatchURL   string `mapstructure:"PATCH_URL" validate:"required,url"`
	InstallDir string `mapstructure:"INSTALL_DIR" validate:"required"`
	// StateDir holds version.ini, the decoded manifest and the run history.
	// It defaults to InstallDir.
	StateDir string `mapstructure:"STATE_DIR"`
	WorkDir  string `mapstructure:"WORK_DIR"`

	UserAgent         string        `mapstructure:"USER_AGENT" validate:"min=1"`
	HTTPTimeout       time.Duration `mapstructure:"HTTP_TIMEOUT" validate:"nonzero_duration"`
	DefaultRetryLimit int           `mapstructure:"DEFAULT_RETRY_LIMIT" validate:"min=1"`
	DefaultRetryWait  time.Duration `mapstructure:"DEFAULT_RETRY_WAIT" validate:"min=0"`

	UpdateSpaceMargin    float64 `mapstructure:"UPDATE_SPACE_MARGIN" validate:"margin"`
	BootstrapSpaceMargin float64 `mapstructure:"BOOTSTRAP_SPACE_MARGIN" validate:"margin"`

	HashAlgorithm    string        `mapstructure:"HASH_ALGORITHM" validate:"oneof=md5 sha256 blake3"`
	ProgressInterval time.Duration `mapstructure:"PROGRESS_INTERVAL" validate:"nonzero_duration"`

	BootstrapTransferID   string        `mapstructure:"BOOTSTRAP_TRANSFER_ID"`
	BootstrapSaveDir      string        `mapstructure:"BOOTSTRAP_SAVE_DIR"`
	BootstrapPollInterval time.Duration `mapstructure:"BOOTSTRAP_POLL_INTERVAL" validate:"nonzero_duration"`
	BootstrapKeepArchive  bool          `mapstructure:"BOOTSTRAP_KEEP_ARCHIVE"`

	ServerAddr string `mapstructure:"SERVER_ADDR" validate:"min=2"`
	GinMode    string `mapstructure:"GIN_MODE" validate:"oneof=debug release test"`
	LogFile    string `mapstructure:"LOG_FILE"`
}

func (c *AppConfig) Validate() error {
	v := validator.New()

	_ = v.RegisterValidation("nonzero_duration", func(fl validator.FieldLevel) bool {
		if d, ok := fl.Field().Interface().(time.Duration); ok {
			return d > 0
		}
		return false
	})
	// a free-space margin below 1 would admit payloads that cannot fit
	_ = v.RegisterValidation("margin", func(fl validator.FieldLevel) bool {
		return fl.Field().Float() >= 1
	})
	return v.Struct(c)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PATCH_URL", "")
	v.SetDefault("INSTALL_DIR", "")
	v.SetDefault("STATE_DIR", "")
	v.SetDefault("WORK_DIR", "")
	v.SetDefault("USER_AGENT", "Mozilla/5.0 (compatible; TeraPatcher/1.0)")
	v.SetDefault("HTTP_TIMEOUT", 2*time.Minute)
	v.SetDefault("DEFAULT_RETRY_LIMIT", 3)
	v.SetDefault("DEFAULT_RETRY_WAIT", time.Second)
	v.SetDefault("UPDATE_SPACE_MARGIN", 1.1)
	v.SetDefault("BOOTSTRAP_SPACE_MARGIN", 2.5)
	v.SetDefault("HASH_ALGORITHM", "md5")
	v.SetDefault("PROGRESS_INTERVAL", 150*time.Millisecond)
	v.SetDefault("BOOTSTRAP_TRANSFER_ID", "")
	v.SetDefault("BOOTSTRAP_SAVE_DIR", "")
	v.SetDefault("BOOTSTRAP_POLL_INTERVAL", time.Second)
	v.SetDefault("BOOTSTRAP_KEEP_ARCHIVE", false)
	v.SetDefault("SERVER_ADDR", "127.0.0.1:8081")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("LOG_FILE", "")
}

// LoadAppConfig reads name.ext from the first path that has it, then lets
// the environment override every key. A missing file is not an error.
func LoadAppConfig(name, ext string, paths ...string) (*AppConfig, error) {
	v := viper.New()
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.SetConfigName(name)
	v.SetConfigType(ext)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.StateDir == "" {
		cfg.StateDir = cfg.InstallDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
