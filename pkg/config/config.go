// Package config loads the audit daemon configuration. Sources are layered
// defaults, then a JSON or YAML file, then AUDITD_ environment variables,
// then command-line flags; later sources override earlier ones.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	flag "github.com/spf13/pflag"
)

// EnvPrefix prefixes the environment variables the daemon reads.
const EnvPrefix = "AUDITD"

var (
	// ErrUnknownConfigFormat is returned for a config file that is neither JSON nor YAML.
	ErrUnknownConfigFormat = errors.New("unknown config file format")
	// ErrInvalidConfig is returned when the merged configuration is unusable.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Whitelist sources.
const (
	SourceMemory = "memory"
	SourceLedger = "ledger"
)

// Config is the daemon configuration.
type Config struct {
	HTTP struct {
		Addr      string `koanf:"addr"`
		RateLimit int    `koanf:"rateLimit"` // requests per minute per client
	} `koanf:"http"`

	Curve string `koanf:"curve"`
	Hash  string `koanf:"hash"`

	Whitelist struct {
		Height uint   `koanf:"height"`
		Source string `koanf:"source"`
	} `koanf:"whitelist"`

	Ledger struct {
		URL     string `koanf:"url"`
		Address string `koanf:"address"`
	} `koanf:"ledger"`

	Authorities struct {
		PublicKeys []string `koanf:"publicKeys"` // hex, in authority order
	} `koanf:"authorities"`

	Audit struct {
		AmountBound   int64         `koanf:"amountBound"`
		MaxIterations uint64        `koanf:"maxIterations"`
		ShareTTL      time.Duration `koanf:"shareTTL"`
		Workers       int           `koanf:"workers"`
		MaxBatch      int           `koanf:"maxBatch"`
	} `koanf:"audit"`

	JWT struct {
		KeyFile    string        `koanf:"keyFile"`
		ConfigFile string        `koanf:"configFile"`
		Issuer     string        `koanf:"issuer"`
		Audience   string        `koanf:"audience"`
		TokenTTL   time.Duration `koanf:"tokenTTL"`
	} `koanf:"jwt"`

	Auth struct {
		SessionTTL time.Duration `koanf:"sessionTTL"`
	} `koanf:"auth"`

	Logger LoggerConfig `koanf:"logger"`
}

var defaults = map[string]interface{}{
	"http.addr":                ":8080",
	"http.rateLimit":           120,
	"curve":                    "babyjubjub",
	"hash":                     "mimc",
	"whitelist.height":         20,
	"whitelist.source":         SourceMemory,
	"ledger.url":               "",
	"ledger.address":           "",
	"authorities.publicKeys":   []string{},
	"audit.amountBound":        int64(1 << 32),
	"audit.maxIterations":      uint64(0),
	"audit.shareTTL":           "15m",
	"audit.workers":            4,
	"audit.maxBatch":           256,
	"jwt.keyFile":              "keys/jwt-signing.pem",
	"jwt.configFile":           "keys/jwt-config.json",
	"jwt.issuer":               "https://auditd.zkaudit.example",
	"jwt.audience":             "zkaudit",
	"jwt.tokenTTL":             "5m",
	"auth.sessionTTL":          "2m",
	"logger.level":             "info",
	"logger.encoding":          "console",
	"logger.outputPaths":       []string{"stdout"},
	"logger.disableCaller":     false,
	"logger.disableStacktrace": false,
}

// Flags returns the flag set of the daemon. Flag names are the config keys.
func Flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", "", "path to a JSON or YAML config file")

	fs.String("http.addr", ":8080", "listen address")
	fs.Int("http.rateLimit", 120, "requests per minute per client")
	fs.String("curve", "babyjubjub", "authority curve (babyjubjub|secp256k1|ristretto255)")
	fs.String("hash", "mimc", "whitelist and commitment hash (mimc|sha256)")
	fs.Uint("whitelist.height", 20, "whitelist tree height")
	fs.String("whitelist.source", SourceMemory, "whitelist source (memory|ledger)")
	fs.String("ledger.url", "", "JSON-RPC endpoint of the ledger")
	fs.String("ledger.address", "", "whitelist contract address")
	fs.StringSlice("authorities.publicKeys", nil, "authority public keys, hex, in order")
	fs.Int64("audit.amountBound", 1<<32, "exclusive upper bound of recoverable amounts")
	fs.Uint64("audit.maxIterations", 0, "discrete-log budget per value, 0 for the full range")
	fs.Duration("audit.shareTTL", 15*time.Minute, "lifetime of a submitted key share")
	fs.Int("audit.workers", 4, "batch decryption workers")
	fs.Int("audit.maxBatch", 256, "events per batch request")
	fs.String("jwt.keyFile", "keys/jwt-signing.pem", "token signing key, generated when missing")
	fs.String("jwt.configFile", "keys/jwt-config.json", "token signing key metadata")
	fs.String("jwt.issuer", "https://auditd.zkaudit.example", "token issuer")
	fs.String("jwt.audience", "zkaudit", "token audience")
	fs.Duration("jwt.tokenTTL", 5*time.Minute, "token lifetime")
	fs.Duration("auth.sessionTTL", 2*time.Minute, "login handshake lifetime")
	fs.String("logger.level", "info", "log level")
	fs.String("logger.encoding", "console", "log encoding (console|json)")
	return fs
}

// Load parses args against fs and merges every source.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parsing flags")
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, errors.Wrap(err, "loading defaults")
	}

	if path, _ := fs.GetString("config"); path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}
	if err := loadEnv(k, EnvPrefix); err != nil {
		return nil, err
	}
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, errors.Wrap(err, "loading flags")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		parser = json.Parser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	default:
		return errors.Wrapf(ErrUnknownConfigFormat, "%s", path)
	}

	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "config file")
	}
	return errors.Wrapf(k.Load(file.Provider(path), parser), "loading %s", path)
}

// loadEnv maps PREFIX_HTTP_RATELIMIT onto http.rateLimit. Only keys that
// already exist are accepted, matched case-insensitively.
func loadEnv(k *koanf.Koanf, prefix string) error {
	known := make(map[string]string)
	for _, key := range k.Keys() {
		known[strings.ToLower(key)] = key
	}

	prefix += "_"
	return errors.Wrap(k.Load(env.Provider(prefix, ".", func(s string) string {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "_", ".")
		return known[key]
	}), nil), "loading environment")
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch {
	case len(c.Authorities.PublicKeys) == 0:
		return errors.Wrap(ErrInvalidConfig, "authorities.publicKeys is empty")
	case c.Whitelist.Source != SourceMemory && c.Whitelist.Source != SourceLedger:
		return errors.Wrapf(ErrInvalidConfig, "whitelist.source %q", c.Whitelist.Source)
	case c.Whitelist.Source == SourceLedger && (c.Ledger.URL == "" || c.Ledger.Address == ""):
		return errors.Wrap(ErrInvalidConfig, "ledger source needs ledger.url and ledger.address")
	case c.HTTP.RateLimit <= 0:
		return errors.Wrap(ErrInvalidConfig, "http.rateLimit must be positive")
	case c.Audit.AmountBound <= 0:
		return errors.Wrap(ErrInvalidConfig, "audit.amountBound must be positive")
	}
	return nil
}
