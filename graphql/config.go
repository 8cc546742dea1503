package graphql

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Alp4ka/followcache"
)

const DefaultTimeout = 30 * time.Second

var _validate = validator.New()

// Config describes the GraphQL endpoint serving the following lists.
//
//	endpoint: https://api.example.com/graphql
//	timeout: 10s
//	per_page: 10
//	headers:
//	  Authorization: bearer XXX
type Config struct {
	Endpoint string            `yaml:"endpoint" validate:"required,url"`
	Timeout  time.Duration     `yaml:"timeout" validate:"min=0"`
	PerPage  int               `yaml:"per_page" validate:"min=0,max=100"`
	Headers  map[string]string `yaml:"headers"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read graphql config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes a YAML config, fills in defaults and validates it.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode graphql config: %w", err)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config. Field errors are reported as
// *followcache.ValidationError.
func (c Config) Validate() error {
	err := _validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &followcache.ValidationError{
			Field:  "config." + fe.Field(),
			Reason: fmt.Sprintf("failed on '%s'", fe.Tag()),
			Err:    err,
		}
	}

	return fmt.Errorf("invalid graphql config: %w", err)
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PerPage == 0 {
		c.PerPage = followcache.DefaultPerPage
	}

	return c
}
