// Package config loads and validates the service configuration from
// the YAML file named by VC_CONFIG_YAML, the way every fieldcrypt
// binary boots.
package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/sunet/fieldcrypt/pkg/logger"
	"github.com/sunet/fieldcrypt/pkg/model"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

type envVars struct {
	ConfigYAML string `envconfig:"VC_CONFIG_YAML" required:"true"`
}

// New reads the environment, loads the YAML file it points to, fills
// in defaults for anything left unset and validates the result.
func New(ctx context.Context) (*model.Cfg, error) {
	log := logger.NewSimple("config")
	log.Info("reading environment variable")

	env := envVars{}
	if err := envconfig.Process("", &env); err != nil {
		return nil, err
	}

	cfg := &model.Cfg{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}

	configPath := env.ConfigYAML

	fileInfo, err := os.Stat(configPath)
	if err != nil {
		return nil, err
	}
	if fileInfo.IsDir() {
		return nil, errors.New("config is a folder")
	}

	configFile, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(configFile, cfg); err != nil {
		return nil, err
	}

	if err := validator.New().StructCtx(ctx, cfg); err != nil {
		return nil, err
	}

	log.Info("configuration loaded")

	return cfg, nil
}
