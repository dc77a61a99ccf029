// Package config loads and validates the watcher configuration from a TOML
// file overlaid with BULLHORN_* environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// DefaultRelays are the read relays subscribed to when the config names none.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nostr.plebchain.org",
	"wss://bitcoiner.social",
	"wss://relay.snort.social",
	"wss://relayable.org",
	"wss://nos.lol",
	"wss://nostr.mom",
	"wss://e.nos.lol",
	"wss://nostr.bitcoiner.social",
}

// Config is the validated, immutable watcher configuration.
type Config struct {
	Npub       string   `toml:"npub"`        // BULLHORN_NPUB (required; npub or hex)
	EventNpubs []string `toml:"event_npubs"` // BULLHORN_EVENT_NPUBS (comma-separated)
	Relays     []string `toml:"relays"`      // BULLHORN_RELAYS (default: DefaultRelays)
	LogLevel   string   `toml:"log_level"`   // BULLHORN_LOG_LEVEL (default "info")

	SeenStore   string `toml:"seen_store"`   // BULLHORN_SEEN_STORE: postgres|redis|memory (default "postgres")
	DatabaseURL string `toml:"database_url"` // BULLHORN_DATABASE_URL (required for postgres)
	RedisURL    string `toml:"redis_url"`    // BULLHORN_REDIS_URL (required for redis)

	Sinks        []string `toml:"sinks"`         // BULLHORN_SINKS (default "terminal,ntfy")
	NtfyEndpoint string   `toml:"ntfy_endpoint"` // BULLHORN_NTFY_ENDPOINT (default "https://ntfy.sh")
	NtfyTopic    string   `toml:"ntfy_topic"`    // BULLHORN_NTFY_TOPIC (default: persisted topic file)
	NATSURL      string   `toml:"nats_url"`      // BULLHORN_NATS_URL (required for the nats sink)
	KafkaBrokers []string `toml:"kafka_brokers"` // BULLHORN_KAFKA_BROKERS (required for the kafka sink)
	KafkaTopic   string   `toml:"kafka_topic"`   // BULLHORN_KAFKA_TOPIC (default "bullhorn.notifications")

	DispatchAttempts int           `toml:"dispatch_attempts"` // BULLHORN_DISPATCH_ATTEMPTS (default 3)
	DispatchBackoff  time.Duration `toml:"-"`                 // BULLHORN_DISPATCH_BACKOFF (default 2s)

	ZapMatch           string        `toml:"zap_match"` // BULLHORN_ZAP_MATCH: p-tag|author (default "p-tag")
	ZapAggregateWindow time.Duration `toml:"-"`         // BULLHORN_ZAP_AGGREGATE_WINDOW (default 2m; 0 = off)
	RemindBefore       time.Duration `toml:"-"`         // BULLHORN_REMIND_BEFORE (default 30m; 0 = off)

	StatusAddr string `toml:"status_addr"` // BULLHORN_STATUS_ADDR (default ":8090"; "off" disables)

	SnapshotInterval   time.Duration `toml:"-"`                    // BULLHORN_SNAPSHOT_INTERVAL (default 0 = disabled)
	SnapshotS3Bucket   string        `toml:"snapshot_s3_bucket"`   // BULLHORN_SNAPSHOT_S3_BUCKET (enables S3 when set)
	SnapshotS3Region   string        `toml:"snapshot_s3_region"`   // BULLHORN_SNAPSHOT_S3_REGION (default "us-east-1")
	SnapshotS3Key      string        `toml:"snapshot_s3_key"`      // BULLHORN_SNAPSHOT_S3_KEY (default "bullhorn/seen.jsonl")
	SnapshotS3Endpoint string        `toml:"snapshot_s3_endpoint"` // BULLHORN_SNAPSHOT_S3_ENDPOINT (custom endpoint for MinIO)

	// Raw duration strings from TOML; parsed into the fields above.
	DispatchBackoffStr    string `toml:"dispatch_backoff"`
	ZapAggregateWindowStr string `toml:"zap_aggregate_window"`
	RemindBeforeStr       string `toml:"remind_before"`
	SnapshotIntervalStr   string `toml:"snapshot_interval"`

	// Decoded identity set, populated by Load.
	PrimaryPubKey  string   `toml:"-"` // hex
	AllowedPubKeys []string `toml:"-"` // hex, excluding the primary
}

// Load reads the TOML config at path (or the default location when path is
// empty), overlays environment variables, applies defaults, and validates.
func Load(path string) (*Config, error) {
	c := &Config{}

	if path == "" {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	overlayEnv(c)

	if err := applyDefaults(c); err != nil {
		return nil, err
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultPath returns the default config file location
// ($XDG_CONFIG_HOME/bullhorn/config.toml).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bullhorn", "config.toml"), nil
}

func overlayEnv(c *Config) {
	setString(&c.Npub, "BULLHORN_NPUB")
	setList(&c.EventNpubs, "BULLHORN_EVENT_NPUBS")
	setList(&c.Relays, "BULLHORN_RELAYS")
	setString(&c.LogLevel, "BULLHORN_LOG_LEVEL")

	setString(&c.SeenStore, "BULLHORN_SEEN_STORE")
	setString(&c.DatabaseURL, "BULLHORN_DATABASE_URL")
	setString(&c.RedisURL, "BULLHORN_REDIS_URL")

	setList(&c.Sinks, "BULLHORN_SINKS")
	setString(&c.NtfyEndpoint, "BULLHORN_NTFY_ENDPOINT")
	setString(&c.NtfyTopic, "BULLHORN_NTFY_TOPIC")
	setString(&c.NATSURL, "BULLHORN_NATS_URL")
	setList(&c.KafkaBrokers, "BULLHORN_KAFKA_BROKERS")
	setString(&c.KafkaTopic, "BULLHORN_KAFKA_TOPIC")

	if v := os.Getenv("BULLHORN_DISPATCH_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DispatchAttempts = n
		}
	}
	setString(&c.DispatchBackoffStr, "BULLHORN_DISPATCH_BACKOFF")

	setString(&c.ZapMatch, "BULLHORN_ZAP_MATCH")
	setString(&c.ZapAggregateWindowStr, "BULLHORN_ZAP_AGGREGATE_WINDOW")
	setString(&c.RemindBeforeStr, "BULLHORN_REMIND_BEFORE")

	setString(&c.StatusAddr, "BULLHORN_STATUS_ADDR")

	setString(&c.SnapshotIntervalStr, "BULLHORN_SNAPSHOT_INTERVAL")
	setString(&c.SnapshotS3Bucket, "BULLHORN_SNAPSHOT_S3_BUCKET")
	setString(&c.SnapshotS3Region, "BULLHORN_SNAPSHOT_S3_REGION")
	setString(&c.SnapshotS3Key, "BULLHORN_SNAPSHOT_S3_KEY")
	setString(&c.SnapshotS3Endpoint, "BULLHORN_SNAPSHOT_S3_ENDPOINT")
}

func applyDefaults(c *Config) error {
	if len(c.Relays) == 0 {
		c.Relays = append([]string(nil), DefaultRelays...)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SeenStore == "" {
		c.SeenStore = "postgres"
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []string{"terminal", "ntfy"}
	}
	if c.NtfyEndpoint == "" {
		c.NtfyEndpoint = "https://ntfy.sh"
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "bullhorn.notifications"
	}
	if c.DispatchAttempts == 0 {
		c.DispatchAttempts = 3
	}
	if c.ZapMatch == "" {
		c.ZapMatch = "p-tag"
	}
	if c.StatusAddr == "" {
		c.StatusAddr = ":8090"
	}
	if c.SnapshotS3Region == "" {
		c.SnapshotS3Region = "us-east-1"
	}
	if c.SnapshotS3Key == "" {
		c.SnapshotS3Key = "bullhorn/seen.jsonl"
	}

	var err error
	if c.DispatchBackoff, err = parseDuration(c.DispatchBackoffStr, 2*time.Second); err != nil {
		return fmt.Errorf("dispatch_backoff: %w", err)
	}
	if c.ZapAggregateWindow, err = parseDuration(c.ZapAggregateWindowStr, 2*time.Minute); err != nil {
		return fmt.Errorf("zap_aggregate_window: %w", err)
	}
	if c.RemindBefore, err = parseDuration(c.RemindBeforeStr, 30*time.Minute); err != nil {
		return fmt.Errorf("remind_before: %w", err)
	}
	if c.SnapshotInterval, err = parseDuration(c.SnapshotIntervalStr, 0); err != nil {
		return fmt.Errorf("snapshot_interval: %w", err)
	}
	return nil
}

func validate(c *Config) error {
	if c.Npub == "" {
		return fmt.Errorf("npub is required (BULLHORN_NPUB or the config file)")
	}
	pk, err := DecodePubKey(c.Npub)
	if err != nil {
		return fmt.Errorf("npub: %w", err)
	}
	c.PrimaryPubKey = pk

	c.AllowedPubKeys = nil
	for _, n := range c.EventNpubs {
		pk, err := DecodePubKey(n)
		if err != nil {
			return fmt.Errorf("event_npubs %q: %w", n, err)
		}
		if pk != c.PrimaryPubKey {
			c.AllowedPubKeys = append(c.AllowedPubKeys, pk)
		}
	}

	switch c.SeenStore {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when seen_store is postgres")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required when seen_store is redis")
		}
	case "memory":
		// Allowed, but run warns loudly: dedup does not survive restarts.
	default:
		return fmt.Errorf("unknown seen_store %q (must be postgres, redis, or memory)", c.SeenStore)
	}

	for _, s := range c.Sinks {
		switch s {
		case "terminal", "ntfy":
		case "nats":
			if c.NATSURL == "" {
				return fmt.Errorf("nats_url is required when the nats sink is enabled")
			}
		case "kafka":
			if len(c.KafkaBrokers) == 0 {
				return fmt.Errorf("kafka_brokers is required when the kafka sink is enabled")
			}
		default:
			return fmt.Errorf("unknown sink %q (must be terminal, ntfy, nats, or kafka)", s)
		}
	}

	switch c.ZapMatch {
	case "p-tag", "author":
	default:
		return fmt.Errorf("unknown zap_match %q (must be p-tag or author)", c.ZapMatch)
	}

	if c.DispatchAttempts < 1 {
		return fmt.Errorf("dispatch_attempts must be at least 1")
	}
	return nil
}

// WatchSet returns the full interesting-identity set: the primary pubkey
// plus the allow-list.
func (c *Config) WatchSet() []string {
	return append([]string{c.PrimaryPubKey}, c.AllowedPubKeys...)
}

// DecodePubKey accepts either a bech32 npub or a 64-character hex public key
// and returns the hex form.
func DecodePubKey(s string) (string, error) {
	if strings.HasPrefix(s, "npub1") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("decoding npub: %w", err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("unexpected bech32 prefix %q", prefix)
		}
		pk, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("unexpected npub payload type %T", value)
		}
		return pk, nil
	}
	if len(s) != 64 {
		return "", fmt.Errorf("public key must be an npub or 64 hex characters")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid hex public key: %w", err)
	}
	return strings.ToLower(s), nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
