package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	orchestration "github.com/koscakluka/ema-voiceloop/core"
	"github.com/koscakluka/ema-voiceloop/core/backend"
	"github.com/koscakluka/ema-voiceloop/core/llms/groq"
	"github.com/koscakluka/ema-voiceloop/core/report"
	"github.com/spf13/viper"
)

const (
	AppName   = "voiceloop"
	EnvPrefix = "VOICELOOP"

	ProviderBackend  = "backend"
	ProviderDeepgram = "deepgram"
	ProviderGroq     = "groq"

	AudioMiniaudio = "miniaudio"
	AudioPortaudio = "portaudio"
)

type Config struct {
	Backend      BackendConfig             `json:"backend" mapstructure:"backend"`
	Transcriber  string                    `json:"transcriber" mapstructure:"transcriber" jsonschema:"enum=backend,enum=deepgram,description=Service that turns recordings into text"`
	Dialogue     string                    `json:"dialogue" mapstructure:"dialogue" jsonschema:"enum=backend,enum=groq,description=Service that replies to transcripts"`
	Synthesizer  string                    `json:"synthesizer" mapstructure:"synthesizer" jsonschema:"enum=backend,enum=deepgram,description=Service that turns replies into speech"`
	Deepgram     DeepgramConfig            `json:"deepgram" mapstructure:"deepgram"`
	Groq         GroqConfig                `json:"groq" mapstructure:"groq"`
	Audio        AudioConfig               `json:"audio" mapstructure:"audio"`
	Conversation ConversationConfig        `json:"conversation" mapstructure:"conversation"`
	Retry        orchestration.RetryPolicy `json:"retry" mapstructure:"retry"`
	Report       ReportConfig              `json:"report" mapstructure:"report"`
	Identity     IdentityConfig            `json:"identity" mapstructure:"identity"`
	Log          LogConfig                 `json:"log" mapstructure:"log"`
	Telemetry    TelemetryConfig           `json:"telemetry" mapstructure:"telemetry"`
}

type BackendConfig struct {
	URL     string        `json:"url" mapstructure:"url" jsonschema:"description=Base URL of the transcribe/chat/speak/report service"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// SpeechMediaType is sent as Accept on /speak.
	SpeechMediaType string `json:"speech_media_type,omitempty" mapstructure:"speech_media_type"`
	// Endpoints are the paths of the remote calls, relative to URL.
	Endpoints backend.Endpoints `json:"endpoints" mapstructure:"endpoints"`
}

type DeepgramConfig struct {
	APIKey   string `json:"api_key,omitempty" mapstructure:"api_key"`
	Language string `json:"language" mapstructure:"language"`
	Model    string `json:"model" mapstructure:"model"`
	Voice    string `json:"voice" mapstructure:"voice"`
}

// GroqConfig configures the chat completions dialogue. The report still
// comes from the backend, which only knows the fields it collected itself.
type GroqConfig struct {
	APIKey       string `json:"api_key,omitempty" mapstructure:"api_key"`
	URL          string `json:"url" mapstructure:"url"`
	Model        string `json:"model" mapstructure:"model"`
	Instructions string `json:"instructions,omitempty" mapstructure:"instructions"`
	HistoryLimit int    `json:"history_limit" mapstructure:"history_limit"`
}

type AudioConfig struct {
	Device     string `json:"device" mapstructure:"device" jsonschema:"enum=miniaudio,enum=portaudio"`
	SampleRate int    `json:"sample_rate" mapstructure:"sample_rate"`
	// BufferSize is the portaudio frames per buffer.
	BufferSize int `json:"buffer_size" mapstructure:"buffer_size"`
}

type ConversationConfig struct {
	RecordingWindow  time.Duration          `json:"recording_window" mapstructure:"recording_window"`
	AutoStartAfter   time.Duration          `json:"auto_start_after" mapstructure:"auto_start_after"`
	TurnPause        time.Duration          `json:"turn_pause" mapstructure:"turn_pause"`
	CompletionMarker string                 `json:"completion_marker" mapstructure:"completion_marker"`
	Messages         orchestration.Messages `json:"messages" mapstructure:"messages"`
}

type ReportConfig struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	FileName string `json:"file_name" mapstructure:"file_name"`
}

type IdentityConfig struct {
	// Path of the identity file; empty means the user config directory.
	Path string `json:"path,omitempty" mapstructure:"path"`
}

type LogConfig struct {
	File   string `json:"file,omitempty" mapstructure:"file"`
	Level  string `json:"level" mapstructure:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `json:"format" mapstructure:"format" jsonschema:"enum=text,enum=json"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" mapstructure:"otlp_endpoint"`
	ServiceName  string `json:"service_name" mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", backend.DefaultBaseURL)
	v.SetDefault("backend.timeout", backend.DefaultTimeout)
	v.SetDefault("backend.speech_media_type", "")
	endpoints := backend.DefaultEndpoints()
	v.SetDefault("backend.endpoints.transcribe", endpoints.Transcribe)
	v.SetDefault("backend.endpoints.chat", endpoints.Chat)
	v.SetDefault("backend.endpoints.speak", endpoints.Speak)
	v.SetDefault("backend.endpoints.session", endpoints.Session)
	v.SetDefault("backend.endpoints.generate", endpoints.Generate)
	v.SetDefault("transcriber", ProviderBackend)
	v.SetDefault("dialogue", ProviderBackend)
	v.SetDefault("synthesizer", ProviderBackend)

	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.language", "ar")
	v.SetDefault("deepgram.model", "nova-3")
	v.SetDefault("deepgram.voice", "aura-2-thalia-en")

	v.SetDefault("groq.api_key", "")
	v.SetDefault("groq.url", groq.DefaultURL)
	v.SetDefault("groq.model", groq.DefaultModel)
	v.SetDefault("groq.instructions", "")
	v.SetDefault("groq.history_limit", 20)

	v.SetDefault("audio.device", AudioMiniaudio)
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.buffer_size", 1024)

	v.SetDefault("conversation.recording_window", orchestration.DefaultRecordingWindow)
	v.SetDefault("conversation.auto_start_after", orchestration.DefaultAutoStartAfter)
	v.SetDefault("conversation.turn_pause", orchestration.DefaultTurnPause)
	v.SetDefault("conversation.completion_marker", orchestration.DefaultCompletionMarker)
	for key, text := range defaultMessages() {
		v.SetDefault("conversation.messages."+key, text)
	}

	v.SetDefault("retry.max_attempts", 1)
	v.SetDefault("retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("retry.max_interval", 5*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("report.dir", ".")
	v.SetDefault("report.file_name", report.DefaultFileName)
	v.SetDefault("identity.path", "")

	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", AppName)
}

func defaultMessages() map[string]string {
	data, err := json.Marshal(orchestration.DefaultMessages())
	if err != nil {
		return nil
	}
	messages := map[string]string{}
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil
	}
	return messages
}

// Load reads the configuration from path, or from voiceloop.yaml in the
// working directory or the user config directory when path is empty.
// Environment variables prefixed with VOICELOOP_ override file values, for
// example VOICELOOP_BACKEND_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, AppName))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url must be an http(s) URL, got %q", c.Backend.URL))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, errors.New("backend.timeout must be positive"))
	}
	for name, provider := range map[string]string{"transcriber": c.Transcriber, "synthesizer": c.Synthesizer} {
		if provider != ProviderBackend && provider != ProviderDeepgram {
			errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", name, ProviderBackend, ProviderDeepgram, provider))
		}
	}
	if c.Dialogue != ProviderBackend && c.Dialogue != ProviderGroq {
		errs = append(errs, fmt.Errorf("dialogue must be %q or %q, got %q", ProviderBackend, ProviderGroq, c.Dialogue))
	}
	if c.Dialogue == ProviderGroq && c.Groq.HistoryLimit < 0 {
		errs = append(errs, errors.New("groq.history_limit must not be negative"))
	}
	if c.Audio.Device != AudioMiniaudio && c.Audio.Device != AudioPortaudio {
		errs = append(errs, fmt.Errorf("audio.device must be %q or %q, got %q", AudioMiniaudio, AudioPortaudio, c.Audio.Device))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	if c.Audio.Device == AudioPortaudio && c.Audio.BufferSize <= 0 {
		errs = append(errs, errors.New("audio.buffer_size must be positive"))
	}

	if c.Conversation.RecordingWindow <= 0 {
		errs = append(errs, errors.New("conversation.recording_window must be positive"))
	}
	if c.Conversation.AutoStartAfter < 0 {
		errs = append(errs, errors.New("conversation.auto_start_after must not be negative"))
	}
	if c.Conversation.TurnPause < 0 {
		errs = append(errs, errors.New("conversation.turn_pause must not be negative"))
	}
	if strings.TrimSpace(c.Conversation.CompletionMarker) == "" {
		errs = append(errs, errors.New("conversation.completion_marker must not be empty"))
	}

	if c.Retry.MaxAttempts > 1 && c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry.multiplier must be at least 1"))
	}
	if c.Report.FileName == "" {
		errs = append(errs, errors.New("report.file_name must not be empty"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Schema is the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&Config{})
	schema.Title = "voiceloop configuration"
	return json.MarshalIndent(schema, "", "  ")
}
