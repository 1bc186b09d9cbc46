// Package config provides configuration management for reelforge.
// Values come from built-in defaults, then an optional YAML file named by
// REELFORGE_CONFIG, then REELFORGE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".reelforge"

	// Environment variable names
	EnvConfigFile = "REELFORGE_CONFIG"
	EnvPort       = "REELFORGE_PORT"
	EnvLogLevel   = "REELFORGE_LOG_LEVEL"
	EnvDataDir    = "REELFORGE_DATA_DIR"
	EnvFFmpegPath = "REELFORGE_FFMPEG_PATH"

	EnvClipUnitCost          = "REELFORGE_CLIP_UNIT_COST"
	EnvGenerationConcurrency = "REELFORGE_GENERATION_CONCURRENCY"

	EnvStorageBaseURL   = "REELFORGE_STORAGE_BASE_URL"
	EnvStorageToken     = "REELFORGE_STORAGE_TOKEN"
	EnvPublicBaseURL    = "REELFORGE_PUBLIC_BASE_URL"
	EnvGeneratorBaseURL = "REELFORGE_GENERATOR_BASE_URL"
	EnvGeneratorToken   = "REELFORGE_GENERATOR_TOKEN"

	EnvRedisAddr   = "REELFORGE_REDIS_ADDR"
	EnvProgressTTL = "REELFORGE_PROGRESS_TTL"

	EnvKafkaBrokers = "REELFORGE_KAFKA_BROKERS"
	EnvKafkaTopic   = "REELFORGE_KAFKA_TOPIC"
	EnvKafkaGroupID = "REELFORGE_KAFKA_GROUP_ID"

	EnvOrchestratorTimeout = "REELFORGE_ORCHESTRATOR_TIMEOUT"
	EnvCompilerTimeout     = "REELFORGE_COMPILER_TIMEOUT"
	EnvTranscodeTimeout    = "REELFORGE_TRANSCODE_TIMEOUT"
	EnvGenerationPoll      = "REELFORGE_GENERATION_POLL_INTERVAL"
	EnvCompileAttempts     = "REELFORGE_COMPILE_ATTEMPTS"

	// Database filename
	DBFilename = "reelforge.db"

	// Pipeline defaults
	DefaultFFmpegPath            = "ffmpeg"
	DefaultClipUnitCost          = 0.25
	DefaultGenerationConcurrency = 4
	DefaultProgressTTL           = 24 * time.Hour
	DefaultKafkaTopic            = "reelforge.render"
	DefaultKafkaGroupID          = "reelforge"
	DefaultOrchestratorTimeout   = 30 * time.Minute
	DefaultCompilerTimeout       = 10 * time.Minute
	DefaultTranscodeTimeout      = 5 * time.Minute
	DefaultGenerationPoll        = 5 * time.Second
	DefaultCompileAttempts       = 2
	DefaultCompileBackoffMin     = 5 * time.Second
	DefaultCompileBackoffMax     = 60 * time.Second
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	MediaDir() string
	WorkDir() string
	FFmpegPath() string

	ClipUnitCost() float64
	GenerationConcurrency() int

	StorageBaseURL() string
	StorageToken() string
	PublicBaseURL() string
	GeneratorBaseURL() string
	GeneratorToken() string

	RedisAddr() string
	ProgressTTL() time.Duration

	KafkaBrokers() []string
	KafkaTopic() string
	KafkaGroupID() string

	OrchestratorTimeout() time.Duration
	CompilerTimeout() time.Duration
	TranscodeTimeout() time.Duration
	GenerationPollInterval() time.Duration
	CompileAttempts() int
	CompileBackoffMin() time.Duration
	CompileBackoffMax() time.Duration
}

// fileConfig mirrors the YAML config file. Zero values keep the default.
type fileConfig struct {
	Server struct {
		Port     int    `yaml:"port"`
		LogLevel string `yaml:"log_level"`
		DataDir  string `yaml:"data_dir"`
	} `yaml:"server"`
	Pipeline struct {
		FFmpegPath            string        `yaml:"ffmpeg_path"`
		ClipUnitCost          float64       `yaml:"clip_unit_cost"`
		GenerationConcurrency int           `yaml:"generation_concurrency"`
		OrchestratorTimeout   time.Duration `yaml:"orchestrator_timeout"`
		CompilerTimeout       time.Duration `yaml:"compiler_timeout"`
		TranscodeTimeout      time.Duration `yaml:"transcode_timeout"`
		GenerationPoll        time.Duration `yaml:"generation_poll_interval"`
		CompileAttempts       int           `yaml:"compile_attempts"`
	} `yaml:"pipeline"`
	Storage struct {
		BaseURL       string `yaml:"base_url"`
		Token         string `yaml:"token"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"storage"`
	Generator struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
	} `yaml:"generator"`
	Redis struct {
		Addr        string        `yaml:"addr"`
		ProgressTTL time.Duration `yaml:"progress_ttl"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		GroupID string   `yaml:"group_id"`
	} `yaml:"kafka"`
}

// EnvConfig holds the resolved configuration
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	ffmpegPath            string
	clipUnitCost          float64
	generationConcurrency int

	storageBaseURL   string
	storageToken     string
	publicBaseURL    string
	generatorBaseURL string
	generatorToken   string

	redisAddr   string
	progressTTL time.Duration

	kafkaBrokers []string
	kafkaTopic   string
	kafkaGroupID string

	orchestratorTimeout time.Duration
	compilerTimeout     time.Duration
	transcodeTimeout    time.Duration
	generationPoll      time.Duration
	compileAttempts     int
}

// New creates a new EnvConfig with defaults, the optional YAML file and
// environment variable overrides applied in that order
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:                  DefaultPort,
		logLevel:              DefaultLogLevel,
		dataDir:               defaultDataDir(),
		ffmpegPath:            DefaultFFmpegPath,
		clipUnitCost:          DefaultClipUnitCost,
		generationConcurrency: DefaultGenerationConcurrency,
		progressTTL:           DefaultProgressTTL,
		kafkaTopic:            DefaultKafkaTopic,
		kafkaGroupID:          DefaultKafkaGroupID,
		orchestratorTimeout:   DefaultOrchestratorTimeout,
		compilerTimeout:       DefaultCompilerTimeout,
		transcodeTimeout:      DefaultTranscodeTimeout,
		generationPoll:        DefaultGenerationPoll,
		compileAttempts:       DefaultCompileAttempts,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		cfg.applyFile(fc)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("invalid port %d: port must be between 1 and 65535", cfg.port)
	}
	if cfg.generationConcurrency < 1 {
		return nil, fmt.Errorf("invalid generation concurrency %d: must be at least 1", cfg.generationConcurrency)
	}
	if cfg.compileAttempts < 1 {
		return nil, fmt.Errorf("invalid compile attempts %d: must be at least 1", cfg.compileAttempts)
	}

	return cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fc fileConfig
	if err := yaml.NewDecoder(f).Decode(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (c *EnvConfig) applyFile(fc *fileConfig) {
	setInt(&c.port, fc.Server.Port)
	setString(&c.logLevel, fc.Server.LogLevel)
	setString(&c.dataDir, fc.Server.DataDir)

	setString(&c.ffmpegPath, fc.Pipeline.FFmpegPath)
	if fc.Pipeline.ClipUnitCost > 0 {
		c.clipUnitCost = fc.Pipeline.ClipUnitCost
	}
	setInt(&c.generationConcurrency, fc.Pipeline.GenerationConcurrency)
	setDuration(&c.orchestratorTimeout, fc.Pipeline.OrchestratorTimeout)
	setDuration(&c.compilerTimeout, fc.Pipeline.CompilerTimeout)
	setDuration(&c.transcodeTimeout, fc.Pipeline.TranscodeTimeout)
	setDuration(&c.generationPoll, fc.Pipeline.GenerationPoll)
	setInt(&c.compileAttempts, fc.Pipeline.CompileAttempts)

	setString(&c.storageBaseURL, fc.Storage.BaseURL)
	setString(&c.storageToken, fc.Storage.Token)
	setString(&c.publicBaseURL, fc.Storage.PublicBaseURL)
	setString(&c.generatorBaseURL, fc.Generator.BaseURL)
	setString(&c.generatorToken, fc.Generator.Token)

	setString(&c.redisAddr, fc.Redis.Addr)
	setDuration(&c.progressTTL, fc.Redis.ProgressTTL)

	if len(fc.Kafka.Brokers) > 0 {
		c.kafkaBrokers = fc.Kafka.Brokers
	}
	setString(&c.kafkaTopic, fc.Kafka.Topic)
	setString(&c.kafkaGroupID, fc.Kafka.GroupID)
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.ffmpegPath, os.Getenv(EnvFFmpegPath))

	if v := os.Getenv(EnvClipUnitCost); v != "" {
		cost, err := strconv.ParseFloat(v, 64)
		if err != nil || cost < 0 {
			return fmt.Errorf("invalid %s: %q", EnvClipUnitCost, v)
		}
		c.clipUnitCost = cost
	}
	if err := envInt(EnvGenerationConcurrency, &c.generationConcurrency); err != nil {
		return err
	}
	if err := envInt(EnvCompileAttempts, &c.compileAttempts); err != nil {
		return err
	}

	setString(&c.storageBaseURL, os.Getenv(EnvStorageBaseURL))
	setString(&c.storageToken, os.Getenv(EnvStorageToken))
	setString(&c.publicBaseURL, os.Getenv(EnvPublicBaseURL))
	setString(&c.generatorBaseURL, os.Getenv(EnvGeneratorBaseURL))
	setString(&c.generatorToken, os.Getenv(EnvGeneratorToken))
	setString(&c.redisAddr, os.Getenv(EnvRedisAddr))

	if v := os.Getenv(EnvKafkaBrokers); v != "" {
		c.kafkaBrokers = splitList(v)
	}
	setString(&c.kafkaTopic, os.Getenv(EnvKafkaTopic))
	setString(&c.kafkaGroupID, os.Getenv(EnvKafkaGroupID))

	for name, dst := range map[string]*time.Duration{
		EnvProgressTTL:         &c.progressTTL,
		EnvOrchestratorTimeout: &c.orchestratorTimeout,
		EnvCompilerTimeout:     &c.compilerTimeout,
		EnvTranscodeTimeout:    &c.transcodeTimeout,
		EnvGenerationPoll:      &c.generationPoll,
	} {
		if err := envDuration(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// MediaDir is the root of locally stored artifacts when no remote storage is set.
func (c *EnvConfig) MediaDir() string {
	return filepath.Join(c.dataDir, "media")
}

// WorkDir is the parent of per-project compile directories.
func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "work")
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) ClipUnitCost() float64 {
	return c.clipUnitCost
}

func (c *EnvConfig) GenerationConcurrency() int {
	return c.generationConcurrency
}

func (c *EnvConfig) StorageBaseURL() string {
	return c.storageBaseURL
}

func (c *EnvConfig) StorageToken() string {
	return c.storageToken
}

// PublicBaseURL is the prefix for URLs handed out by local storage.
// Defaults to the loopback API address.
func (c *EnvConfig) PublicBaseURL() string {
	if c.publicBaseURL != "" {
		return strings.TrimRight(c.publicBaseURL, "/")
	}
	return fmt.Sprintf("http://127.0.0.1:%d", c.port)
}

func (c *EnvConfig) GeneratorBaseURL() string {
	return c.generatorBaseURL
}

func (c *EnvConfig) GeneratorToken() string {
	return c.generatorToken
}

// RedisAddr returns the Redis address. Empty means in-memory progress.
func (c *EnvConfig) RedisAddr() string {
	return c.redisAddr
}

func (c *EnvConfig) ProgressTTL() time.Duration {
	return c.progressTTL
}

// KafkaBrokers returns the broker list. Empty disables Kafka intake.
func (c *EnvConfig) KafkaBrokers() []string {
	return c.kafkaBrokers
}

func (c *EnvConfig) KafkaTopic() string {
	return c.kafkaTopic
}

func (c *EnvConfig) KafkaGroupID() string {
	return c.kafkaGroupID
}

func (c *EnvConfig) OrchestratorTimeout() time.Duration {
	return c.orchestratorTimeout
}

func (c *EnvConfig) CompilerTimeout() time.Duration {
	return c.compilerTimeout
}

func (c *EnvConfig) TranscodeTimeout() time.Duration {
	return c.transcodeTimeout
}

func (c *EnvConfig) GenerationPollInterval() time.Duration {
	return c.generationPoll
}

func (c *EnvConfig) CompileAttempts() int {
	return c.compileAttempts
}

func (c *EnvConfig) CompileBackoffMin() time.Duration {
	return DefaultCompileBackoffMin
}

func (c *EnvConfig) CompileBackoffMax() time.Duration {
	return DefaultCompileBackoffMax
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid %s: must be positive", name)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
