package deepgram

import (
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voiceloop/core/audio"
	"github.com/koscakluka/ema-voiceloop/core/texttospeech"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const (
	scopeName = "github.com/koscakluka/ema-voiceloop/core/texttospeech/deepgram"

	defaultSpeakURL   = "wss://api.deepgram.com/v1/speak"
	defaultSampleRate = 24000
	defaultTimeout    = 30 * time.Second
)

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

// TextToSpeechClient synthesizes whole replies over Deepgram's speak
// websocket, one connection per reply.
type TextToSpeechClient struct {
	apiKey   string
	speakURL string
	dialer   *websocket.Dialer
	timeout  time.Duration
	options  texttospeech.TextToSpeechOptions

	voice deepgramVoice
	mu    sync.Mutex
}

type ClientOption func(*TextToSpeechClient)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment variable.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) {
		if apiKey != "" {
			c.apiKey = apiKey
		}
	}
}

func WithSpeakURL(speakURL string) ClientOption {
	return func(c *TextToSpeechClient) {
		if speakURL != "" {
			c.speakURL = speakURL
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *TextToSpeechClient) {
		c.timeout = timeout
	}
}

func WithTextToSpeechOptions(opts ...texttospeech.TextToSpeechOption) ClientOption {
	return func(c *TextToSpeechClient) {
		for _, opt := range opts {
			opt(&c.options)
		}
	}
}

func NewTextToSpeechClient(voice deepgramVoice, opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{
		apiKey:   os.Getenv("DEEPGRAM_API_KEY"),
		speakURL: defaultSpeakURL,
		dialer:   websocket.DefaultDialer,
		timeout:  defaultTimeout,
		options: texttospeech.TextToSpeechOptions{
			EncodingInfo: audio.EncodingInfo{SampleRate: defaultSampleRate, Format: audio.EncodingLinear16, Channels: 1},
		},
		voice: defaultVoice,
	}
	if voice != "" {
		if err := client.SetVoice(voice); err != nil {
			return nil, err
		}
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice deepgramVoice) error {
	if !slices.Contains(GetAvailableVoices(), voice) {
		return fmt.Errorf("invalid voice %q", voice)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = voice
	return nil
}

func (c *TextToSpeechClient) currentVoice() deepgramVoice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice
}
