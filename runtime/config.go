package runtime

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Package-level validator instance
var validate *validator.Validate

var pluginIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

func init() {
	validate = validator.New()
	registerCustomValidators()
}

// Config tunes a Context. Zero values are replaced by the defaults below.
type Config struct {
	// Paths are plugin search paths added at construction.
	Paths []string `yaml:"paths"`

	// DisableModuleCache makes every module load produce a fresh module.
	DisableModuleCache bool `yaml:"disable_module_cache"`

	// DisableBuiltins skips plugins registered with RegisterBuiltinPlugin.
	DisableBuiltins bool `yaml:"disable_builtins"`

	// AsyncWorkers bounds the pool behind Context.AsyncRun.
	AsyncWorkers int `yaml:"async_workers" default:"8" validate:"gte=1,lte=1024"`
}

// InitializeConfig prepares a config struct in one call:
// defaults from struct tags, then raw values merged by yaml tag, then validation.
func InitializeConfig(config any, rawValues map[string]any) error {
	if err := ApplyDefaults(config); err != nil {
		slog.Error("Config: failed to apply defaults",
			"config_type", reflect.TypeOf(config).String(),
			"error", err)
		return fmt.Errorf("failed to apply defaults: %w", err)
	}

	if len(rawValues) > 0 {
		if err := mapToStructFromYAML(rawValues, config); err != nil {
			slog.Error("Config: failed to apply config values",
				"config_type", reflect.TypeOf(config).String(),
				"raw_values", rawValues,
				"error", err)
			return fmt.Errorf("failed to apply config values: %w", err)
		}
	}

	configValue := reflect.ValueOf(config)
	if configValue.Kind() == reflect.Ptr {
		configValue = configValue.Elem()
	}

	if err := validateConfig(configValue.Interface()); err != nil {
		slog.Error("Config validation failed",
			"config_type", reflect.TypeOf(config).String(),
			"config_value", configValue.Interface(),
			"error", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// registerCustomValidators registers framework-provided custom validation functions
func registerCustomValidators() {
	// hostname_port validates "host:port" format with numeric port; the host may be empty for listen addresses
	validate.RegisterValidation("hostname_port", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		_, port, err := net.SplitHostPort(addr)
		if err != nil || port == "" {
			return false
		}
		_, err = net.LookupPort("tcp", port)
		return err == nil
	})

	// url_format validates URL structure
	validate.RegisterValidation("url_format", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	})

	// plugin_id validates dotted plugin ids such as org.gimo.core.loader
	validate.RegisterValidation("plugin_id", func(fl validator.FieldLevel) bool {
		return pluginIDPattern.MatchString(fl.Field().String())
	})
}

func ApplyDefaults(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply default values: %w", err)
	}

	return nil
}

func validateConfig(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validate.Struct(config); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, fieldErr := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"field '%s' failed validation: %s (rule: %s)",
					fieldErr.Field(),
					fieldErr.Error(),
					fieldErr.Tag(),
				))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errMessages, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// PrepareConfig applies defaults and validates a config that needs no merging.
func PrepareConfig(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := ApplyDefaults(config); err != nil {
		return fmt.Errorf("failed to prepare config (defaults): %w", err)
	}

	configValue := reflect.ValueOf(config)
	if configValue.Kind() == reflect.Ptr {
		configValue = configValue.Elem()
	}

	if err := validateConfig(configValue.Interface()); err != nil {
		return fmt.Errorf("failed to prepare config (validation): %w", err)
	}

	return nil
}

func RegisterCustomValidator(tag string, fn validator.Func) error {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		return fmt.Errorf("failed to register custom validator '%s': %w", tag, err)
	}
	return nil
}
