package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/fieldtriage/fieldtriage/internal/alertmanager"
	"github.com/fieldtriage/fieldtriage/internal/remediation"
	"github.com/fieldtriage/fieldtriage/internal/remote"
	"github.com/fieldtriage/fieldtriage/internal/silence"
)

// DefaultEnvFile is read when no env file is named explicitly
const DefaultEnvFile = ".env"

// LoadConfig reads the YAML file at path, loads envFile into the process
// environment, fills defaults, resolves secrets and validates the result.
// An empty envFile means DefaultEnvFile, which may be absent.
func LoadConfig(path, envFile string) (*Config, error) {
	cfg := &Config{}
	if err := loadYAML(path, cfg); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	cfg.resolveSecrets()

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadYAML loads a YAML file into a struct
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// loadEnvFile sets KEY=VALUE pairs from the file without overriding
// variables already present in the environment.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// applyDefaults fills every unset field
func applyDefaults(cfg *Config) {
	rd := remediation.DefaultConfig()

	if cfg.Alertmanager.CredentialsEnv == "" {
		cfg.Alertmanager.CredentialsEnv = "ALERTMANAGER_CREDENTIALS"
	}
	if cfg.Alertmanager.Timeout == 0 {
		cfg.Alertmanager.Timeout = 10 * time.Second
	}

	if cfg.Remote.Driver == "" {
		cfg.Remote.Driver = remote.DriverExec
	}
	if cfg.Remote.Host == "" {
		cfg.Remote.Host = rd.Host
	}
	if cfg.Remote.DialTimeout == 0 {
		cfg.Remote.DialTimeout = 10 * time.Second
	}

	r := &cfg.Remediation
	if len(r.Classes) == 0 {
		r.Classes = rd.Classes
	}
	setString(&r.PrimaryUnit, rd.PrimaryUnit)
	setString(&r.PrimaryUpload, rd.PrimaryUpload)
	setString(&r.SecondaryUnit, rd.SecondaryUnit)
	setString(&r.SecondaryUpload, rd.SecondaryUpload)
	setString(&r.RebootCommand, rd.RebootCommand)
	setDuration(&r.Settle, rd.Settle)
	setDuration(&r.RebootWait, rd.RebootWait)
	setDuration(&r.RebootInterval, rd.RebootInterval)
	setDuration(&r.CommandTimeout, rd.CommandTimeout)
	setDuration(&r.UploadTimeout, rd.UploadTimeout)
	setDuration(&r.RebootTimeout, rd.RebootTimeout)
	if r.Concurrency == 0 {
		r.Concurrency = rd.Concurrency
	}

	setString(&cfg.Silence.CreatedBy, "fieldtriage")
	if cfg.Silence.Correlations == nil {
		for _, c := range silence.DefaultCorrelations {
			cfg.Silence.Correlations = append(cfg.Silence.Correlations, CorrelationConfig{Primary: c.Primary, Companion: c.Companion})
		}
	}
	setString(&cfg.Silence.BulkScope, string(silence.ScopePen))
	setDuration(&cfg.Silence.BulkDuration, 5*time.Minute)
	setDuration(&cfg.Silence.RecheckWait, 10*time.Minute)

	setString(&cfg.Audit.Dir, ".")
	setDuration(&cfg.Probe.Timeout, 2*time.Second)

	setString(&cfg.Log.Level, "info")
	setString(&cfg.Log.Format, "json")
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 30
	}

	setString(&cfg.Daemon.Schedule, "*/30 * * * *")
	setString(&cfg.Daemon.Listen, ":9105")
}

func setString(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

func setDuration(field *time.Duration, def time.Duration) {
	if *field == 0 {
		*field = def
	}
}

func (c *Config) resolveSecrets() {
	if c.Alertmanager.CredentialsEnv != "" {
		c.Alertmanager.Credentials = os.Getenv(c.Alertmanager.CredentialsEnv)
	}
	if c.Alertmanager.TokenEnv != "" {
		c.Alertmanager.Token = os.Getenv(c.Alertmanager.TokenEnv)
	}
	if c.Remote.PasswordEnv != "" {
		c.Remote.Password = os.Getenv(c.Remote.PasswordEnv)
	}
}

// ValidateConfig validates the configuration
func ValidateConfig(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return formatValidationErrors(err)
	}

	if cfg.Alertmanager.Credentials != "" && !strings.Contains(cfg.Alertmanager.Credentials, ":") {
		return fmt.Errorf("alertmanager: %s must be in user:password form", cfg.Alertmanager.CredentialsEnv)
	}

	if cfg.Remote.Driver == remote.DriverNative {
		if cfg.Remote.KnownHostsFile == "" && !cfg.Remote.InsecureIgnoreHostKey {
			return fmt.Errorf("remote: native driver needs known_hosts_file or insecure_ignore_host_key")
		}
		if cfg.Remote.KeyFile == "" && cfg.Remote.Password == "" {
			return fmt.Errorf("remote: native driver needs key_file or password_env")
		}
	}

	if cfg.Remediation.UploadTimeout < cfg.Remediation.CommandTimeout {
		return fmt.Errorf("remediation: upload_timeout must not be shorter than command_timeout")
	}

	seen := make(map[string]bool)
	for _, c := range cfg.Silence.Correlations {
		if seen[c.Primary] {
			return fmt.Errorf("silence: primary class %q correlated twice", c.Primary)
		}
		seen[c.Primary] = true
	}

	if _, err := cron.ParseStandard(cfg.Daemon.Schedule); err != nil {
		return fmt.Errorf("daemon: schedule %q: %w", cfg.Daemon.Schedule, err)
	}

	return nil
}

// formatValidationErrors turns tag failures into one readable error
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid URL", field))
		case "gt", "gte", "lte", "min":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param()))
		case "nefield":
			msgs = append(msgs, fmt.Sprintf("%s must differ from %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed validation %q", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// AlertmanagerClient returns the backend client settings
func (c *Config) AlertmanagerClient() alertmanager.Config {
	return alertmanager.Config{
		BaseURL:     c.Alertmanager.URL,
		Credentials: c.Alertmanager.Credentials,
		Token:       c.Alertmanager.Token,
		Timeout:     c.Alertmanager.Timeout,
	}
}

// RemoteRunner returns the transport settings
func (c *Config) RemoteRunner() remote.Config {
	return remote.Config{
		Driver:                c.Remote.Driver,
		Binary:                c.Remote.SSHBinary,
		Options:               c.Remote.SSHOptions,
		User:                  c.Remote.User,
		KeyFile:               c.Remote.KeyFile,
		Password:              c.Remote.Password,
		KnownHostsFile:        c.Remote.KnownHostsFile,
		InsecureIgnoreHostKey: c.Remote.InsecureIgnoreHostKey,
		DialTimeout:           c.Remote.DialTimeout,
	}
}

// RemediationEngine returns the ladder settings
func (c *Config) RemediationEngine() remediation.Config {
	r := c.Remediation
	return remediation.Config{
		Classes:         r.Classes,
		Host:            c.Remote.Host,
		PrimaryUnit:     r.PrimaryUnit,
		PrimaryUpload:   r.PrimaryUpload,
		SecondaryUnit:   r.SecondaryUnit,
		SecondaryUpload: r.SecondaryUpload,
		RebootCommand:   r.RebootCommand,
		Settle:          r.Settle,
		RebootWait:      r.RebootWait,
		RebootInterval:  r.RebootInterval,
		CommandTimeout:  r.CommandTimeout,
		UploadTimeout:   r.UploadTimeout,
		RebootTimeout:   r.RebootTimeout,
		Concurrency:     r.Concurrency,
	}
}

// SilenceOptions returns the silence manager settings
func (c *Config) SilenceOptions() silence.Options {
	corr := make([]silence.Correlation, 0, len(c.Silence.Correlations))
	for _, cc := range c.Silence.Correlations {
		corr = append(corr, silence.Correlation{Primary: cc.Primary, Companion: cc.Companion})
	}
	return silence.Options{
		CreatedBy:    c.Silence.CreatedBy,
		Correlations: corr,
	}
}
