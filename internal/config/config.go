// Package config loads the runner configuration from flags, TGEN_E2E_* environment
// variables, .env files and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tradegen/tgen-e2e/internal/accounts"
	"github.com/tradegen/tgen-e2e/internal/blobstore"
	"github.com/tradegen/tgen-e2e/internal/eth"
	"github.com/tradegen/tgen-e2e/internal/queue"
	"github.com/tradegen/tgen-e2e/internal/secrets"
)

const EnvPrefix = "TGEN_E2E"

// Keys shared by flags, env and file.
const (
	KeyConfig    = "config"
	KeyNetwork   = "network"
	KeyRPCURL    = "rpc_url"
	KeyChainID   = "chain_id"
	KeyParallel  = "parallel"
	KeyVerbose   = "verbose"
	KeyReport    = "report.path"
	KeyColor     = "report.color"
	KeyMetrics   = "metrics.addr"
	KeyRunStore  = "runstore.driver"
	KeyDSN       = "runstore.dsn"
	KeySecrets   = "secrets.driver"
	KeyQueue     = "queue.driver"
	KeyBlob      = "blob.driver"
	KeyTxTimeout = "tx.receipt_timeout"
	KeyLock      = "lock.driver"
)

var ErrInvalidConfig = errors.New("config: invalid config")

// DotenvFiles are loaded before env lookup; later files override earlier ones.
var DotenvFiles = []string{".env", ".env.local"}

type Config struct {
	Network  string          `mapstructure:"network"`
	RPCURL   string          `mapstructure:"rpc_url"`
	ChainID  uint64          `mapstructure:"chain_id"`
	Parallel int             `mapstructure:"parallel"`
	Verbose  bool            `mapstructure:"verbose"`
	Suites   []string        `mapstructure:"suites"`
	Accounts []accounts.Spec `mapstructure:"accounts"`

	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Tx       TxConfig       `mapstructure:"tx"`
	Report   ReportConfig   `mapstructure:"report"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	RunStore RunStoreConfig `mapstructure:"runstore"`
	Lock     LockConfig     `mapstructure:"lock"`
}

type SecretsConfig struct {
	// Driver is "env" or "aws".
	Driver string `mapstructure:"driver"`
}

type TxConfig struct {
	ReceiptTimeout      time.Duration `mapstructure:"receipt_timeout"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
	GasLimitMultiplier  float64       `mapstructure:"gas_limit_multiplier"`
	// MinTipCapWei is a decimal wei amount.
	MinTipCapWei string `mapstructure:"min_tip_cap_wei"`
	Legacy       bool   `mapstructure:"legacy"`
}

type ReportConfig struct {
	// Path of the JSON report; "-" is stdout and "" disables it.
	Path  string `mapstructure:"path"`
	Color bool   `mapstructure:"color"`
}

type BlobConfig struct {
	// Driver is "", "s3", "memory" or "dir". Empty disables the upload.
	Driver string `mapstructure:"driver"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Dir    string `mapstructure:"dir"`
}

type QueueConfig struct {
	// Driver is "", "kafka" or "stdio". Empty disables publishing.
	Driver  string   `mapstructure:"driver"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Group   string   `mapstructure:"group"`
	TLS     bool     `mapstructure:"tls"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type RunStoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LockConfig controls the per-account leases a run holds while sending.
type LockConfig struct {
	// Driver is "", "memory" or "postgres". Empty runs without leases. Postgres shares
	// runstore.dsn.
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyNetwork, "alfajores")
	v.SetDefault(KeyChainID, 44787)
	v.SetDefault(KeyParallel, 4)
	v.SetDefault(KeySecrets, secrets.DriverEnv)
	v.SetDefault(KeyTxTimeout, 2*time.Minute)
	v.SetDefault("tx.receipt_poll_interval", time.Second)
	v.SetDefault("tx.gas_limit_multiplier", 1.2)
	v.SetDefault("tx.min_tip_cap_wei", "0")
	v.SetDefault(KeyColor, true)
	v.SetDefault("queue.topic", "tgen-e2e.scenario-results")
	v.SetDefault("queue.group", "tgen-e2e-results-collector")
	v.SetDefault(KeyRunStore, "postgres")
	v.SetDefault("lock.ttl", 5*time.Minute)
	v.SetDefault("accounts", []map[string]any{
		{"label": "owner", "key_ref": "OWNER_PRIVATE_KEY"},
		{"label": "second", "key_ref": "SECOND_PRIVATE_KEY"},
		{"label": "third", "key_ref": "THIRD_PRIVATE_KEY"},
	})
}

// envKeys have no default, so they are bound explicitly for Unmarshal to see them.
var envKeys = []string{
	KeyRPCURL, KeyVerbose, "suites", KeyReport, KeyMetrics, KeyDSN,
	KeyBlob, "blob.bucket", "blob.prefix", "blob.dir",
	KeyQueue, "queue.brokers", "queue.tls", "tx.legacy", KeyLock,
}

// NewViper returns a viper bound to the TGEN_E2E_ environment with defaults set.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// LoadDotenv loads the dotenv files into the process environment. Variables already set in
// the environment win over .env, and .env.local overrides .env.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = DotenvFiles
	}
	loaded := make(map[string]string)
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return fmt.Errorf("config: read %s: %w", f, err)
		}
		for k, val := range vals {
			loaded[k] = val
		}
	}
	return setUnset(loaded)
}

// Load reads the optional config file and decodes v into a validated Config.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Queue.Brokers = splitList(cfg.Queue.Brokers)
	cfg.Suites = splitList(cfg.Suites)
	return cfg, cfg.Validate()
}

func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		out = append(out, queue.SplitCommaList(v)...)
	}
	return out
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Network) == "" {
		return fmt.Errorf("%w: network is required", ErrInvalidConfig)
	}
	if c.ChainID == 0 {
		return fmt.Errorf("%w: chain_id is required", ErrInvalidConfig)
	}
	if c.Parallel < 1 {
		return fmt.Errorf("%w: parallel must be >= 1", ErrInvalidConfig)
	}
	if c.Tx.ReceiptTimeout <= 0 || c.Tx.ReceiptPollInterval <= 0 {
		return fmt.Errorf("%w: receipt timeout and poll interval must be > 0", ErrInvalidConfig)
	}
	if c.Tx.GasLimitMultiplier < 1 {
		return fmt.Errorf("%w: gas_limit_multiplier must be >= 1", ErrInvalidConfig)
	}
	if _, err := c.MinTipCap(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Label == "" || a.KeyRef == "" {
			return fmt.Errorf("%w: account needs label and key_ref", ErrInvalidConfig)
		}
		if seen[a.Label] {
			return fmt.Errorf("%w: duplicate account %q", ErrInvalidConfig, a.Label)
		}
		seen[a.Label] = true
	}
	switch c.Secrets.Driver {
	case secrets.DriverEnv, secrets.DriverAWS:
	default:
		return fmt.Errorf("%w: unsupported secrets driver %q", ErrInvalidConfig, c.Secrets.Driver)
	}
	switch c.Blob.Driver {
	case "", blobstore.DriverMemory:
	case blobstore.DriverS3:
		if c.Blob.Bucket == "" {
			return fmt.Errorf("%w: blob.bucket is required for s3", ErrInvalidConfig)
		}
	case blobstore.DriverDir:
		if c.Blob.Dir == "" {
			return fmt.Errorf("%w: blob.dir is required for dir", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported blob driver %q", ErrInvalidConfig, c.Blob.Driver)
	}
	switch c.Queue.Driver {
	case "", queue.DriverStdio:
	case queue.DriverKafka:
		if len(c.Queue.Brokers) == 0 {
			return fmt.Errorf("%w: queue.brokers is required for kafka", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported queue driver %q", ErrInvalidConfig, c.Queue.Driver)
	}
	switch c.RunStore.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("%w: unsupported runstore driver %q", ErrInvalidConfig, c.RunStore.Driver)
	}
	switch c.Lock.Driver {
	case "", "memory", "postgres":
	default:
		return fmt.Errorf("%w: unsupported lock driver %q", ErrInvalidConfig, c.Lock.Driver)
	}
	if c.Lock.Driver != "" && c.Lock.TTL < time.Second {
		return fmt.Errorf("%w: lock.ttl must be >= 1s", ErrInvalidConfig)
	}
	return nil
}

// RequireRPC checks the settings needed to talk to a node.
func (c Config) RequireRPC() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("%w: rpc_url is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.RPCURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: rpc_url must be an absolute URL", ErrInvalidConfig)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%w: unsupported rpc_url scheme %q", ErrInvalidConfig, u.Scheme)
	}
	return nil
}

// RequireLock checks the settings needed to open the lease store.
func (c Config) RequireLock() error {
	if c.Lock.Driver == "postgres" && strings.TrimSpace(c.RunStore.DSN) == "" {
		return fmt.Errorf("%w: runstore.dsn is required for postgres leases", ErrInvalidConfig)
	}
	return nil
}

// RequireRunStore checks the settings needed to open the run store.
func (c Config) RequireRunStore() error {
	if c.RunStore.Driver == "postgres" && strings.TrimSpace(c.RunStore.DSN) == "" {
		return fmt.Errorf("%w: runstore.dsn is required for postgres", ErrInvalidConfig)
	}
	return nil
}

func (c Config) MinTipCap() (*big.Int, error) {
	s := strings.TrimSpace(c.Tx.MinTipCapWei)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: min_tip_cap_wei must be a non-negative integer", ErrInvalidConfig)
	}
	return v, nil
}

// SenderConfig maps the tx settings onto the transaction sender.
func (c Config) SenderConfig() eth.SenderConfig {
	tip, _ := c.MinTipCap()
	return eth.SenderConfig{
		ChainID:             new(big.Int).SetUint64(c.ChainID),
		GasLimitMultiplier:  c.Tx.GasLimitMultiplier,
		MinTipCap:           tip,
		LegacyTx:            c.Tx.Legacy,
		ReceiptPollInterval: c.Tx.ReceiptPollInterval,
		ReceiptTimeout:      c.Tx.ReceiptTimeout,
	}
}
