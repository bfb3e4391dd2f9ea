package config

import "time"

// Config represents the complete fieldtriage configuration
type Config struct {
	Alertmanager AlertmanagerConfig `yaml:"alertmanager"`
	Remote       RemoteConfig       `yaml:"remote"`
	Remediation  RemediationConfig  `yaml:"remediation"`
	Silence      SilenceConfig      `yaml:"silence"`
	Audit        AuditConfig        `yaml:"audit"`
	Probe        ProbeConfig        `yaml:"probe"`
	Log          LogConfig          `yaml:"log"`
	Daemon       DaemonConfig       `yaml:"daemon"`
}

// AlertmanagerConfig points at the alerting backend. Secrets are never
// read from YAML; the *_env fields name environment variables instead.
type AlertmanagerConfig struct {
	URL            string        `yaml:"url" validate:"required,url"`
	CredentialsEnv string        `yaml:"credentials_env"`
	TokenEnv       string        `yaml:"token_env"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`

	// Resolved from the environment at load time
	Credentials string `yaml:"-"`
	Token       string `yaml:"-"`
}

// RemoteConfig selects how commands reach devices
type RemoteConfig struct {
	Driver string `yaml:"driver" validate:"oneof=exec native"`
	// Host is the ssh host or ssh_config alias; devices differ by port.
	Host string `yaml:"host" validate:"required"`

	SSHBinary  string   `yaml:"ssh_binary"`
	SSHOptions []string `yaml:"ssh_options,omitempty"`

	User                  string        `yaml:"user"`
	KeyFile               string        `yaml:"key_file"`
	PasswordEnv           string        `yaml:"password_env"`
	KnownHostsFile        string        `yaml:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	DialTimeout           time.Duration `yaml:"dial_timeout" validate:"gt=0"`

	Password string `yaml:"-"`
}

// RemediationConfig describes the repair ladder
type RemediationConfig struct {
	Classes []string `yaml:"classes" validate:"required,min=1,dive,required"`

	PrimaryUnit     string `yaml:"primary_unit" validate:"required"`
	PrimaryUpload   string `yaml:"primary_upload" validate:"required"`
	SecondaryUnit   string `yaml:"secondary_unit" validate:"required"`
	SecondaryUpload string `yaml:"secondary_upload" validate:"required"`
	RebootCommand   string `yaml:"reboot_command" validate:"required"`

	Settle         time.Duration `yaml:"settle" validate:"gte=0"`
	RebootWait     time.Duration `yaml:"reboot_wait" validate:"gte=0"`
	RebootInterval time.Duration `yaml:"reboot_interval" validate:"gte=0"`

	CommandTimeout time.Duration `yaml:"command_timeout" validate:"gt=0"`
	UploadTimeout  time.Duration `yaml:"upload_timeout" validate:"gt=0"`
	RebootTimeout  time.Duration `yaml:"reboot_timeout" validate:"gt=0"`

	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=64"`
}

// SilenceConfig controls silence authorship and companion propagation
type SilenceConfig struct {
	CreatedBy    string              `yaml:"created_by" validate:"required"`
	Correlations []CorrelationConfig `yaml:"correlations" validate:"dive"`
	// Bulk silence defaults for the silence-class command
	BulkScope    string        `yaml:"bulk_scope" validate:"oneof=site pen"`
	BulkDuration time.Duration `yaml:"bulk_duration" validate:"gt=0"`
	RecheckWait  time.Duration `yaml:"recheck_wait" validate:"gte=0"`
}

// CorrelationConfig pairs a primary alert class with its companion class
type CorrelationConfig struct {
	Primary   string `yaml:"primary" validate:"required"`
	Companion string `yaml:"companion" validate:"required,nefield=Primary"`
}

// AuditConfig says where remediation trails go
type AuditConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// ProbeConfig bounds reachability checks
type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// LogConfig controls log output
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
	// File enables a rotating log file next to stdout
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// DaemonConfig controls scheduled remediation
type DaemonConfig struct {
	Schedule    string `yaml:"schedule" validate:"required"`
	Listen      string `yaml:"listen" validate:"required,hostname_port"`
	MetricsFile string `yaml:"metrics_file"`
}
