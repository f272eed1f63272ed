package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// EngineConfig selects and parameterizes the transcription engine.
type EngineConfig struct {
	Mode         string `yaml:"mode"` // reference, exec
	Command      string `yaml:"command"`
	ModelPath    string `yaml:"model_path"`
	VocabPath    string `yaml:"vocab_path"`
	Multilingual bool   `yaml:"multilingual"`
	Threads      int    `yaml:"threads"` // 0 = available CPUs
}

// RecorderConfig parameterizes capture and recording persistence.
type RecorderConfig struct {
	Source     string `yaml:"source"` // silence, wav
	SourceWAV  string `yaml:"source_wav"`
	OutputPath string `yaml:"output_path"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Engine      EngineConfig    `yaml:"engine"`
	Recorder    RecorderConfig  `yaml:"recorder"`
	Store       StoreConfig     `yaml:"store"`
}

func Default() Config {
	return Config{
		RuntimeName: "murmur-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engine: EngineConfig{
			Mode:      "reference",
			VocabPath: "./models/filters_vocab.bin",
		},
		Recorder: RecorderConfig{
			Source:     "silence",
			OutputPath: "./data/recording.wav",
		},
		Store: StoreConfig{
			Path:          "./data/murmur-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MURMUR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MURMUR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MURMUR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "MURMUR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MURMUR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMUR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MURMUR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MURMUR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MURMUR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MURMUR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MURMUR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MURMUR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMUR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "MURMUR_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "MURMUR_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "MURMUR_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.VocabPath, "MURMUR_ENGINE_VOCAB_PATH")
	overrideBool(&cfg.Engine.Multilingual, "MURMUR_ENGINE_MULTILINGUAL")
	overrideInt(&cfg.Engine.Threads, "MURMUR_ENGINE_THREADS")
	overrideString(&cfg.Recorder.Source, "MURMUR_RECORDER_SOURCE")
	overrideString(&cfg.Recorder.SourceWAV, "MURMUR_RECORDER_SOURCE_WAV")
	overrideString(&cfg.Recorder.OutputPath, "MURMUR_RECORDER_OUTPUT_PATH")
	overrideString(&cfg.Store.Path, "MURMUR_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "MURMUR_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "MURMUR_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "MURMUR_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "MURMUR_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Engine.Mode {
	case "", "reference", "exec":
	default:
		return errors.New("engine.mode must be one of reference|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.VocabPath == "" {
		return errors.New("engine.vocab_path must not be empty")
	}
	if cfg.Engine.Threads < 0 {
		return errors.New("engine.threads must be >= 0")
	}
	switch cfg.Recorder.Source {
	case "silence", "wav":
	default:
		return errors.New("recorder.source must be one of silence|wav")
	}
	if cfg.Recorder.Source == "wav" && cfg.Recorder.SourceWAV == "" {
		return errors.New("recorder.source_wav must be set when source=wav")
	}
	if cfg.Recorder.OutputPath == "" {
		return errors.New("recorder.output_path must not be empty")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
