package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-voiceloop/core"
	"github.com/koscakluka/ema-voiceloop/core/audio"
	"github.com/koscakluka/ema-voiceloop/core/audio/miniaudio"
	"github.com/koscakluka/ema-voiceloop/core/audio/portaudio"
	"github.com/koscakluka/ema-voiceloop/core/backend"
	"github.com/koscakluka/ema-voiceloop/core/identity"
	"github.com/koscakluka/ema-voiceloop/core/llms/groq"
	"github.com/koscakluka/ema-voiceloop/core/report"
	"github.com/koscakluka/ema-voiceloop/core/speechtotext"
	sttdeepgram "github.com/koscakluka/ema-voiceloop/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-voiceloop/core/texttospeech"
	ttsdeepgram "github.com/koscakluka/ema-voiceloop/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-voiceloop/internal/config"
	"github.com/koscakluka/ema-voiceloop/internal/log"
	"github.com/koscakluka/ema-voiceloop/internal/telemetry"
	"github.com/koscakluka/ema-voiceloop/internal/tui"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a voice conversation",
	Long: `Run opens the microphone and the speaker and starts the conversation.
The first recording starts on the first key press or click, or after the
configured auto start delay.

Keys: space toggles recording, g generates the report once it is available,
q quits.`,
	Args: cobra.NoArgs,
	RunE: runConversation,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

type audioDevice interface {
	audio.CaptureDevice
	audio.PlaybackDevice
	Close()
}

func runConversation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, logCloser, err := log.New(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("failed to flush telemetry", "error", err)
		}
	}()

	store, err := newIdentityStore(cfg)
	if err != nil {
		return err
	}

	client, err := newBackendClient(cfg, logger)
	if err != nil {
		return err
	}

	device, err := newAudioDevice(cfg)
	if err != nil {
		return err
	}
	defer device.Close()

	transcriber, err := newTranscriber(cfg, client, device.EncodingInfo())
	if err != nil {
		return err
	}
	dialogue, err := newDialogue(cfg, client, logger)
	if err != nil {
		return err
	}
	synthesizer, err := newSynthesizer(cfg, client, device.EncodingInfo())
	if err != nil {
		return err
	}

	orchestrator := orchestration.NewOrchestrator(
		orchestration.WithTranscriber(transcriber),
		orchestration.WithDialogue(dialogue),
		orchestration.WithSynthesizer(synthesizer),
		orchestration.WithCaptureDevice(device),
		orchestration.WithPlaybackDevice(device),
		orchestration.WithReportService(client),
		orchestration.WithReportSink(report.NewDirWriter(cfg.Report.Dir, cfg.Report.FileName)),
		orchestration.WithIdentity(store),
		orchestration.WithRecordingWindow(cfg.Conversation.RecordingWindow),
		orchestration.WithAutoStartAfter(cfg.Conversation.AutoStartAfter),
		orchestration.WithTurnPause(cfg.Conversation.TurnPause),
		orchestration.WithCompletionMarker(cfg.Conversation.CompletionMarker),
		orchestration.WithMessages(cfg.Conversation.Messages),
		orchestration.WithRetryPolicy(cfg.Retry),
		orchestration.WithLogger(logger),
	)
	defer orchestrator.Close()

	callbacks := []orchestration.OrchestrateOption{
		orchestration.WithRecordingCallback(func(recording audio.Recording) {
			logger.Debug("recording finished", "bytes", len(recording.Data), "media_type", recording.MediaType)
		}),
		orchestration.WithTurnCompletedCallback(func(turn orchestration.TurnRecord) {
			logger.Info("turn completed", "turn_id", turn.ID, "failed", turn.Failed())
		}),
	}

	var program *tea.Program
	program = tea.NewProgram(
		tui.NewModel(orchestrator, tui.WithStart(func() {
			orchestrator.Orchestrate(ctx, append(tui.Callbacks(program.Send), callbacks...)...)
		})),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func newIdentityStore(cfg *config.Config) (*identity.Store, error) {
	path := cfg.Identity.Path
	if path == "" {
		var err error
		if path, err = identity.DefaultPath(config.AppName); err != nil {
			return nil, err
		}
	}
	return identity.NewStore(path), nil
}

func newBackendClient(cfg *config.Config, logger *slog.Logger) (*backend.Client, error) {
	client, err := backend.NewClient(cfg.Backend.URL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithSpeechMediaType(cfg.Backend.SpeechMediaType),
		backend.WithEndpoints(cfg.Backend.Endpoints),
		backend.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	return client, nil
}

func newAudioDevice(cfg *config.Config) (audioDevice, error) {
	switch cfg.Audio.Device {
	case config.AudioPortaudio:
		client, err := portaudio.NewClient(cfg.Audio.BufferSize)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
		}
		return client, nil
	default:
		client, err := miniaudio.NewClient(miniaudio.WithCaptureSampleRate(cfg.Audio.SampleRate))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize miniaudio: %w", err)
		}
		return client, nil
	}
}

func newTranscriber(cfg *config.Config, client *backend.Client, encoding audio.EncodingInfo) (orchestration.Transcriber, error) {
	if cfg.Transcriber != config.ProviderDeepgram {
		return client, nil
	}
	transcriber, err := sttdeepgram.NewTranscriptionClient(
		sttdeepgram.WithAPIKey(cfg.Deepgram.APIKey),
		sttdeepgram.WithTranscriptionOptions(
			speechtotext.WithLanguage(cfg.Deepgram.Language),
			speechtotext.WithModel(cfg.Deepgram.Model),
			speechtotext.WithEncodingInfo(encoding),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deepgram transcriber: %w", err)
	}
	return transcriber, nil
}

func newDialogue(cfg *config.Config, client *backend.Client, logger *slog.Logger) (orchestration.Dialogue, error) {
	if cfg.Dialogue != config.ProviderGroq {
		return client, nil
	}
	dialogue, err := groq.NewClient(
		groq.WithAPIKey(cfg.Groq.APIKey),
		groq.WithURL(cfg.Groq.URL),
		groq.WithModel(cfg.Groq.Model),
		groq.WithInstructions(cfg.Groq.Instructions),
		groq.WithHistoryLimit(cfg.Groq.HistoryLimit),
		groq.WithTimeout(cfg.Backend.Timeout),
		groq.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create groq dialogue: %w", err)
	}
	return dialogue, nil
}

func newSynthesizer(cfg *config.Config, client *backend.Client, encoding audio.EncodingInfo) (orchestration.Synthesizer, error) {
	if cfg.Synthesizer != config.ProviderDeepgram {
		return client, nil
	}
	voice, ok := ttsdeepgram.ParseVoice(cfg.Deepgram.Voice)
	if !ok {
		return nil, fmt.Errorf("unknown deepgram voice %q", cfg.Deepgram.Voice)
	}
	synthesizer, err := ttsdeepgram.NewTextToSpeechClient(voice,
		ttsdeepgram.WithAPIKey(cfg.Deepgram.APIKey),
		ttsdeepgram.WithTextToSpeechOptions(texttospeech.WithEncodingInfo(encoding)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deepgram synthesizer: %w", err)
	}
	return synthesizer, nil
}
