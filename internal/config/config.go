package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configDir  = "aquavoice"
	configName = "config"
	configType = "toml"
)

// Config stores runtime configuration for the voice client.
type Config struct {
	Voice    VoiceConfig
	Tanks    TanksConfig
	Deepgram DeepgramConfig
	Audio    AudioConfig
	Session  SessionConfig
	Log      LogConfig
	// File is the config file that was read, empty when none was found.
	File string
}

type VoiceConfig struct {
	WSBase        string
	PrimaryTankID string
	MaxRetries    int
	RetryStep     time.Duration
	PingInterval  time.Duration
}

type TanksConfig struct {
	APIBase  string
	APIToken string
	// File, when set, replaces the REST source with a TOML fixture.
	File string
}

type DeepgramConfig struct {
	APIKey       string
	APIBaseURL   string
	Model        string
	Language     string
	SmartFormat  bool
	Keywords     []string
	Endpointing  time.Duration
	UtteranceEnd time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	PlayerCommand   string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type SessionConfig struct {
	ChunkSize       int
	MaxUtterance    time.Duration
	// CorrectionsFile is a TOML list of vocabulary fixes applied to recognized speech.
	CorrectionsFile string
}

type LogConfig struct {
	Level  string
	Format string
}

// bindings maps config keys onto their environment variables, in priority order.
var bindings = map[string][]string{
	"voice.ws_base":             {"AQUAVOICE_VOICE_WS_BASE"},
	"voice.primary_tank":        {"AQUAVOICE_PRIMARY_TANK"},
	"voice.max_retries":         {"AQUAVOICE_MAX_RETRIES"},
	"voice.retry_step_ms":       {"AQUAVOICE_RETRY_STEP_MS"},
	"voice.ping_interval_ms":    {"AQUAVOICE_PING_INTERVAL_MS"},
	"tanks.api_base":            {"AQUAVOICE_API_BASE"},
	"tanks.api_token":           {"AQUAVOICE_API_TOKEN"},
	"tanks.file":                {"AQUAVOICE_TANKS_FILE"},
	"deepgram.api_key":          {"DEEPGRAM_API_KEY"},
	"deepgram.api_base":         {"DEEPGRAM_API_BASE"},
	"deepgram.model":            {"DEEPGRAM_MODEL"},
	"deepgram.language":         {"DEEPGRAM_LANGUAGE"},
	"deepgram.smart_format":     {"DEEPGRAM_SMART_FORMAT"},
	"deepgram.keywords":         {"DEEPGRAM_KEYWORDS"},
	"deepgram.endpointing_ms":   {"DEEPGRAM_ENDPOINTING_MS"},
	"deepgram.utterance_end_ms": {"DEEPGRAM_UTTERANCE_END_MS"},
	"audio.ffmpeg_command":      {"AQUAVOICE_FFMPEG_COMMAND"},
	"audio.ffplay_command":      {"AQUAVOICE_FFPLAY_COMMAND"},
	"audio.input_format":        {"AQUAVOICE_AUDIO_INPUT_FORMAT"},
	"audio.input_device":        {"AQUAVOICE_AUDIO_INPUT_DEVICE", "DEEPGRAM_PULSE_SOURCE"},
	"audio.sample_rate":         {"AQUAVOICE_SAMPLE_RATE"},
	"audio.channels":            {"AQUAVOICE_CHANNELS"},
	"session.chunk_size":        {"AQUAVOICE_AUDIO_CHUNK_SIZE"},
	"session.max_utterance_ms":  {"AQUAVOICE_MAX_UTTERANCE_MS"},
	"session.corrections_file":  {"AQUAVOICE_CORRECTIONS_FILE"},
	"log.level":                 {"AQUAVOICE_LOG_LEVEL"},
	"log.format":                {"AQUAVOICE_LOG_FORMAT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("voice.ws_base", "ws://localhost:8000/api/v1/voice/ws")
	v.SetDefault("voice.max_retries", 5)
	v.SetDefault("voice.retry_step_ms", 2000)
	v.SetDefault("voice.ping_interval_ms", 30000)
	v.SetDefault("tanks.api_base", "http://localhost:8000/api/v1")
	v.SetDefault("deepgram.api_base", "https://api.deepgram.com/v1")
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.smart_format", true)
	v.SetDefault("audio.ffmpeg_command", "ffmpeg")
	v.SetDefault("audio.ffplay_command", "ffplay")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("session.chunk_size", 4096)
	v.SetDefault("session.max_utterance_ms", 30000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load resolves configuration from ~/.config/aquavoice/config.toml, environment
// variables and defaults, in increasing order of precedence for the environment.
func Load() (Config, error) {
	return LoadWith(viper.New())
}

// LoadWith is Load on a caller-supplied viper instance. AQUAVOICE_CONFIG
// points at an explicit config file.
func LoadWith(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	setDefaults(v)
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if explicit := strings.TrimSpace(os.Getenv("AQUAVOICE_CONFIG")); explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, errors.New("could not determine home directory")
		}
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(filepath.Join(home, ".config", configDir))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Voice: VoiceConfig{
			WSBase:        trimmed(v, "voice.ws_base"),
			PrimaryTankID: trimmed(v, "voice.primary_tank"),
			MaxRetries:    intOr(v, "voice.max_retries", 5),
			RetryStep:     millisOr(v, "voice.retry_step_ms", 2*time.Second),
			PingInterval:  millisOr(v, "voice.ping_interval_ms", 30*time.Second),
		},
		Tanks: TanksConfig{
			APIBase:  trimmed(v, "tanks.api_base"),
			APIToken: trimmed(v, "tanks.api_token"),
			File:     trimmed(v, "tanks.file"),
		},
		Deepgram: DeepgramConfig{
			APIKey:       trimmed(v, "deepgram.api_key"),
			APIBaseURL:   trimmed(v, "deepgram.api_base"),
			Model:        trimmed(v, "deepgram.model"),
			Language:     trimmed(v, "deepgram.language"),
			SmartFormat:  boolOr(v, "deepgram.smart_format", true),
			Keywords:     stringList(v, "deepgram.keywords"),
			Endpointing:  millisOr(v, "deepgram.endpointing_ms", 0),
			UtteranceEnd: millisOr(v, "deepgram.utterance_end_ms", 0),
		},
		Audio: AudioConfig{
			RecorderCommand: trimmed(v, "audio.ffmpeg_command"),
			PlayerCommand:   trimmed(v, "audio.ffplay_command"),
			InputFormat:     trimmed(v, "audio.input_format"),
			InputDevice:     trimmed(v, "audio.input_device"),
			SampleRate:      intOr(v, "audio.sample_rate", 16000),
			Channels:        intOr(v, "audio.channels", 1),
		},
		Session: SessionConfig{
			ChunkSize:       intOr(v, "session.chunk_size", 4096),
			MaxUtterance:    millisOr(v, "session.max_utterance_ms", 30*time.Second),
			CorrectionsFile: trimmed(v, "session.corrections_file"),
		},
		Log: LogConfig{
			Level:  trimmed(v, "log.level"),
			Format: trimmed(v, "log.format"),
		},
		File: v.ConfigFileUsed(),
	}

	if cfg.Voice.WSBase == "" {
		return Config{}, errors.New("voice websocket base url is empty")
	}
	if cfg.Voice.MaxRetries < 0 {
		cfg.Voice.MaxRetries = 0
	}
	if cfg.Voice.RetryStep <= 0 {
		cfg.Voice.RetryStep = 2 * time.Second
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.MaxUtterance < 0 {
		cfg.Session.MaxUtterance = 0
	}
	if cfg.Deepgram.Endpointing < 0 {
		cfg.Deepgram.Endpointing = 0
	}
	if cfg.Deepgram.UtteranceEnd < 0 {
		cfg.Deepgram.UtteranceEnd = 0
	}

	return cfg, nil
}

func trimmed(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// intOr parses key as an integer. viper's GetInt turns garbage into 0, which
// would read as a deliberate setting, so unparsable values keep the fallback.
func intOr(v *viper.Viper, key string, fallback int) int {
	n, err := strconv.Atoi(trimmed(v, key))
	if err != nil {
		return fallback
	}
	return n
}

func millisOr(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	n, err := strconv.Atoi(trimmed(v, key))
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

// stringList accepts a TOML array or a comma separated string, as env values are.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch value := v.Get(key).(type) {
	case nil:
		return nil
	case string:
		raw = strings.Split(value, ",")
	default:
		raw = v.GetStringSlice(key)
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func boolOr(v *viper.Viper, key string, fallback bool) bool {
	switch strings.ToLower(trimmed(v, key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
