package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"printsync/internal/common/fsutil"
)

// Store backends.
const (
	BackendFirestore = "firestore"
	BackendNATS      = "nats"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// Sync modes.
const (
	SyncImmediate = "immediate"
	SyncPeriodic  = "periodic"
)

// Duration is a time.Duration that reads and writes as "10s" in every
// supported file format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds runtime parameters for the bridge.
type Config struct {
	Moonraker MoonrakerConfig `json:"moonraker" yaml:"moonraker" toml:"moonraker"`
	Store     StoreConfig     `json:"store" yaml:"store" toml:"store"`
	Sync      SyncConfig      `json:"sync" yaml:"sync" toml:"sync"`
	Notifier  NotifierConfig  `json:"notifier" yaml:"notifier" toml:"notifier"`
	HTTP      HTTPConfig      `json:"http" yaml:"http" toml:"http"`
	Log       LogConfig       `json:"log" yaml:"log" toml:"log"`
}

type MoonrakerConfig struct {
	URL             string   `json:"url" yaml:"url" toml:"url"`
	MetadataTimeout Duration `json:"metadata_timeout" yaml:"metadata_timeout" toml:"metadata_timeout"`
}

type StoreConfig struct {
	Backend     string `json:"backend" yaml:"backend" toml:"backend"`
	Collection  string `json:"collection" yaml:"collection" toml:"collection"`
	DocumentKey string `json:"document_key" yaml:"document_key" toml:"document_key"`

	Firestore FirestoreConfig `json:"firestore" yaml:"firestore" toml:"firestore"`
	NATS      NATSConfig      `json:"nats" yaml:"nats" toml:"nats"`
	SQLite    SQLiteConfig    `json:"sqlite" yaml:"sqlite" toml:"sqlite"`
	Postgres  PostgresConfig  `json:"postgres" yaml:"postgres" toml:"postgres"`
}

type FirestoreConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id" toml:"project_id"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file" toml:"credentials_file"`
}

type NATSConfig struct {
	URL    string `json:"url" yaml:"url" toml:"url"`
	Bucket string `json:"bucket" yaml:"bucket" toml:"bucket"`
}

type SQLiteConfig struct {
	Path         string   `json:"path" yaml:"path" toml:"path"`
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
}

type PostgresConfig struct {
	DSN      string `json:"dsn" yaml:"dsn" toml:"dsn"`
	MaxConns int32  `json:"max_conns" yaml:"max_conns" toml:"max_conns"`
}

type SyncConfig struct {
	Mode     string   `json:"mode" yaml:"mode" toml:"mode"`
	Interval Duration `json:"interval" yaml:"interval" toml:"interval"`
}

// NotifierConfig enables the print-start messages. The notifier is off
// unless Enabled is set.
type NotifierConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint         string   `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Timeout          Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	QueueCollection  string   `json:"queue_collection" yaml:"queue_collection" toml:"queue_collection"`
	QueueKey         string   `json:"queue_key" yaml:"queue_key" toml:"queue_key"`
	UsersCollection  string   `json:"users_collection" yaml:"users_collection" toml:"users_collection"`
	PublicStreamLink string   `json:"public_stream_link" yaml:"public_stream_link" toml:"public_stream_link"`
	// MessageTemplate overrides the built-in text; {name} and {link} are
	// substituted.
	MessageTemplate string `json:"message_template" yaml:"message_template" toml:"message_template"`
}

// HTTPConfig is the ops listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Moonraker: MoonrakerConfig{
			URL:             "ws://printer.local/websocket",
			MetadataTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Backend:     BackendFirestore,
			Collection:  "printer_status",
			DocumentKey: "current",
			Firestore: FirestoreConfig{
				CredentialsFile: "firebase_credentials/serviceAccountKey.json",
			},
			NATS:   NATSConfig{URL: "nats://127.0.0.1:4222", Bucket: "printsync"},
			SQLite: SQLiteConfig{Path: "printsync.db", PollInterval: Duration(time.Second)},
		},
		Sync: SyncConfig{Mode: SyncImmediate, Interval: Duration(5 * time.Second)},
		Notifier: NotifierConfig{
			Timeout:         Duration(10 * time.Second),
			QueueCollection: "print_queue",
			QueueKey:        "current",
			UsersCollection: "users",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
// Fields missing from the file keep their values from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from environment variables. lookup is usually
// os.LookupEnv. Invalid durations and numbers are reported, not ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, names ...string) {
		for _, n := range names {
			if v, ok := lookup(n); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	dur := func(dst *Duration, name string) {
		if v, ok := lookup(name); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}

	str(&c.Moonraker.URL, "PRINTSYNC_MOONRAKER_URL", "MOONRAKER_WS_URL")
	dur(&c.Moonraker.MetadataTimeout, "PRINTSYNC_METADATA_TIMEOUT")

	str(&c.Store.Backend, "PRINTSYNC_STORE_BACKEND")
	str(&c.Store.Collection, "PRINTSYNC_COLLECTION", "FIRESTORE_COLLECTION")
	str(&c.Store.DocumentKey, "PRINTSYNC_DOCUMENT_KEY")
	str(&c.Store.Firestore.ProjectID, "PRINTSYNC_FIREBASE_PROJECT_ID", "FIREBASE_PROJECT_ID")
	str(&c.Store.Firestore.CredentialsFile, "PRINTSYNC_FIREBASE_CREDENTIALS", "FIREBASE_SERVICE_ACCOUNT_KEY")
	str(&c.Store.NATS.URL, "PRINTSYNC_NATS_URL")
	str(&c.Store.NATS.Bucket, "PRINTSYNC_NATS_BUCKET")
	str(&c.Store.SQLite.Path, "PRINTSYNC_SQLITE_PATH")
	str(&c.Store.Postgres.DSN, "PRINTSYNC_POSTGRES_DSN")

	str(&c.Sync.Mode, "PRINTSYNC_SYNC_MODE")
	dur(&c.Sync.Interval, "PRINTSYNC_SYNC_INTERVAL")

	if v, ok := lookup("PRINTSYNC_NOTIFIER_ENABLED"); ok && v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.Notifier.Enabled = true
		case "0", "false", "no", "off":
			c.Notifier.Enabled = false
		default:
			errs = append(errs, fmt.Errorf("PRINTSYNC_NOTIFIER_ENABLED: invalid boolean %q", v))
		}
	}
	str(&c.Notifier.Endpoint, "PRINTSYNC_NOTIFIER_ENDPOINT")
	str(&c.Notifier.PublicStreamLink, "PRINTSYNC_PUBLIC_STREAM_LINK")

	str(&c.HTTP.Addr, "PRINTSYNC_HTTP_ADDR")
	str(&c.Log.Level, "PRINTSYNC_LOG_LEVEL", "LOG_LEVEL")
	str(&c.Log.Format, "PRINTSYNC_LOG_FORMAT")

	return errors.Join(errs...)
}

// ExpandPaths resolves a leading ~ in file paths.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Store.Firestore.CredentialsFile, &c.Store.SQLite.Path} {
		expanded, err := fsutil.ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if strings.TrimSpace(c.Moonraker.URL) == "" {
		add("moonraker url is required")
	}
	if c.Store.Collection == "" {
		add("store collection is required")
	}
	if c.Store.DocumentKey == "" {
		add("store document key is required")
	}

	switch c.Store.Backend {
	case BackendFirestore:
		if c.Store.Firestore.ProjectID == "" {
			add("FIREBASE_PROJECT_ID is required")
		}
		if p := c.Store.Firestore.CredentialsFile; p != "" {
			if !fsutil.IsFile(p) {
				add("Firebase service account key not found: %s", p)
			}
		}
	case BackendNATS:
		if c.Store.NATS.Bucket == "" {
			add("nats bucket is required")
		}
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			add("sqlite path is required")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			add("postgres dsn is required")
		}
	case BackendMemory:
	default:
		add("unknown store backend %q", c.Store.Backend)
	}

	switch c.Sync.Mode {
	case SyncImmediate:
	case SyncPeriodic:
		if c.Sync.Interval.Std() <= 0 {
			add("sync interval must be positive in periodic mode")
		}
	default:
		add("unknown sync mode %q", c.Sync.Mode)
	}

	if c.Notifier.Enabled {
		if c.Notifier.Endpoint == "" {
			add("notifier endpoint is required when the notifier is enabled")
		}
		if c.Notifier.QueueCollection == "" || c.Notifier.QueueKey == "" {
			add("notifier queue collection and key are required")
		}
		if c.Notifier.UsersCollection == "" {
			add("notifier users collection is required")
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		add("unknown log format %q", c.Log.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// ValidationError lists every configuration problem found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration errors:")
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}
