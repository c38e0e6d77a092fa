package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"sourcekit/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Network      NetworkConfig      `yaml:"network"`
	Storage      StorageConfig      `yaml:"storage"`
	Repositories RepositoriesConfig `yaml:"repositories"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Imaging      ImagingConfig      `yaml:"imaging"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
}

// RuntimeConfig holds extension execution settings.
type RuntimeConfig struct {
	DataDir            string        `yaml:"data_dir"`
	// ExecTimeout bounds a single extension invocation. Zero means unbounded.
	ExecTimeout        time.Duration `yaml:"exec_timeout"`
	WASMMaxMemoryPages uint32        `yaml:"wasm_max_memory_pages"` // 64 KiB pages, default 1024
	WASMCapabilities   []string      `yaml:"wasm_capabilities"`     // empty = all host functions
}

// NetworkConfig holds settings for the request scheduler extensions use.
type NetworkConfig struct {
	UserAgent          string        `yaml:"user_agent"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	// DefaultRPS applies when an extension does not declare requestsPerSecond.
	// Zero disables rate limiting.
	DefaultRPS         float64       `yaml:"default_rps"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes"`
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
	BlockPrivate       bool          `yaml:"block_private"`
}

// StorageConfig holds durable storage settings.
type StorageConfig struct {
	DBPath         string `yaml:"db_path"`
	// KeychainKeyEnv names the env var holding the keychain passphrase.
	// An empty passphrase stores keychain values unencrypted.
	KeychainKeyEnv string `yaml:"keychain_key_env"`
}

// RepositoriesConfig holds extension repository settings.
type RepositoriesConfig struct {
	URLs      []string      `yaml:"urls"`
	CacheDir  string        `yaml:"cache_dir"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	LocalDirs []string      `yaml:"local_dirs"`
}

// BridgeConfig holds settings for the interactive backend bridge.
type BridgeConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addr             string        `yaml:"addr"`
	Path             string        `yaml:"path"`
	Auth             AuthConfig    `yaml:"auth"`
	AttachWait       time.Duration `yaml:"attach_wait"`
	UrgentAttachWait time.Duration `yaml:"urgent_attach_wait"`
	MaxMessageBytes  int64         `yaml:"max_message_bytes"`
	MDNS             bool          `yaml:"mdns"`
	MDNSName         string        `yaml:"mdns_name"`
}

// AuthConfig holds bridge authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single bridge auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// DispatchConfig holds facade settings.
type DispatchConfig struct {
	MaxPages          int `yaml:"max_pages"`
	SearchConcurrency int `yaml:"search_concurrency"`
}

// ImagingConfig holds codec settings.
type ImagingConfig struct {
	JPEGQuality int `yaml:"jpeg_quality"`
	// MaxPixels caps width*height of decoded images and unscramble canvases.
	MaxPixels   int `yaml:"max_pixels"`
}

// SchedulerConfig holds cron/scheduler settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
	Action   string `yaml:"action"`   // "refresh_sources" or "reset_headless"
	OneShot  bool   `yaml:"one_shot,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // stdout, stderr or noop
	// SampleRatio is the fraction of root spans kept. Zero or one keeps all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// defaultDataDir returns the persistent data directory under $HOME/.sourcekit.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".sourcekit")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Runtime: RuntimeConfig{
			DataDir:            dataDir,
			WASMMaxMemoryPages: 1024,
		},
		Network: NetworkConfig{
			UserAgent:          "sourcekit/1.0",
			RequestTimeout:     30 * time.Second,
			MaxBodyBytes:       32 * 1024 * 1024,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Storage: StorageConfig{
			DBPath:         filepath.Join(dataDir, "sourcekit.db"),
			KeychainKeyEnv: "SOURCEKIT_KEYCHAIN_KEY",
		},
		Repositories: RepositoriesConfig{
			CacheDir: filepath.Join(dataDir, "cache"),
			CacheTTL: 15 * time.Minute,
		},
		Bridge: BridgeConfig{
			Enabled:          false,
			Addr:             "127.0.0.1:8765",
			Path:             "/bridge",
			AttachWait:       3 * time.Second,
			UrgentAttachWait: 500 * time.Millisecond,
			MaxMessageBytes:  64 * 1024 * 1024,
			MDNSName:         "sourcekit",
		},
		Dispatch: DispatchConfig{
			MaxPages:          50,
			SearchConcurrency: 4,
		},
		Imaging: ImagingConfig{
			JPEGQuality: 90,
			MaxPixels:   64 << 20,
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, "parse: "+err.Error())
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("SOURCEKIT_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps SOURCEKIT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SOURCEKIT_DATA_DIR"); v != "" {
		cfg.Runtime.DataDir = v
	}
	if v := os.Getenv("SOURCEKIT_EXEC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runtime.ExecTimeout = d
		}
	}
	if v := os.Getenv("SOURCEKIT_USER_AGENT"); v != "" {
		cfg.Network.UserAgent = v
	}
	if v := os.Getenv("SOURCEKIT_DEFAULT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Network.DefaultRPS = f
		}
	}
	if v := os.Getenv("SOURCEKIT_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("SOURCEKIT_REPOSITORIES"); v != "" {
		cfg.Repositories.URLs = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SOURCEKIT_LOCAL_DIRS"); v != "" {
		cfg.Repositories.LocalDirs = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SOURCEKIT_BRIDGE_ENABLED"); v != "" {
		cfg.Bridge.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SOURCEKIT_BRIDGE_ADDR"); v != "" {
		cfg.Bridge.Addr = v
	}
	if v := os.Getenv("SOURCEKIT_BRIDGE_TOKEN"); v != "" {
		cfg.Bridge.Auth.Type = "static"
		cfg.Bridge.Auth.Tokens = append(cfg.Bridge.Auth.Tokens, TokenConfig{Token: v, Name: "env"})
	}
	if v := os.Getenv("SOURCEKIT_BRIDGE_MDNS"); v == "true" {
		cfg.Bridge.MDNS = true
	}
	if v := os.Getenv("SOURCEKIT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SOURCEKIT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SOURCEKIT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SOURCEKIT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
// Empty elements are dropped.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." values in bridge tokens and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Bridge.Auth.Tokens {
		tok := cfg.Bridge.Auth.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("bridge auth token %s: %w", cfg.Bridge.Auth.Tokens[i].Name, err)
			}
			cfg.Bridge.Auth.Tokens[i].Token = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
