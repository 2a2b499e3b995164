package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kennyrkun/dispatcher/assets"
	"github.com/kennyrkun/dispatcher/capture"
	"github.com/kennyrkun/dispatcher/core"
	"github.com/kennyrkun/dispatcher/dispatch"
	"github.com/kennyrkun/dispatcher/factories"
	"github.com/kennyrkun/dispatcher/idle"
	"github.com/kennyrkun/dispatcher/metrics"
	"github.com/kennyrkun/dispatcher/runner"
	"github.com/kennyrkun/dispatcher/transcribe"
	"github.com/kennyrkun/dispatcher/transmit"
	"github.com/kennyrkun/dispatcher/vad"
)

type options struct {
	settingsPath string
	envPath      string
	threshold    int
	input        string
	listAssets   bool
	showLevels   bool
	overrides    factories.FlagOverrides
}

func parseFlags() options {
	var o options
	var delayTone, delay float64
	flag.StringVar(&o.settingsPath, "settings", getEnv("SETTINGS_PATH", "./settings.json"), "path to settings.json")
	flag.StringVar(&o.envPath, "env", ".env.local", "dotenv file with API keys")
	flag.IntVar(&o.threshold, "threshold", 0, "override the voice activity RMS threshold")
	flag.StringVar(&o.input, "input", "", "capture input: portaudio, - for raw stdin, command, or a WAV file")
	flag.BoolVar(&o.listAssets, "list-assets", false, "list the tone and error clips and exit")
	flag.BoolVar(&o.showLevels, "levels", false, "print the input level of every frame")
	flag.BoolVar(&o.overrides.MDC, "mdc", false, "end every transmission with the MDC1200 burst")
	flag.Float64Var(&delayTone, "delayTone", 1.5, "start tone length in seconds, 0 disables it")
	flag.Float64Var(&delay, "delay", 0, "silent key-up delay in seconds, used when there is no start tone")
	flag.BoolVar(&o.overrides.SaveSpoken, "saveSpokenAudio", false, "keep synthesized responses")
	flag.BoolVar(&o.overrides.SaveReceived, "saveReceivedAudio", false, "keep received utterances")
	flag.Parse()

	// Only switches given on the command line override settings.json.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "delayTone":
			o.overrides.DelayTone = &delayTone
		case "delay":
			o.overrides.Delay = &delay
		}
	})
	return o
}

func main() {
	opts := parseFlags()

	if err := godotenv.Load(opts.envPath); err != nil {
		core.GetLogger().Warn("no dotenv file loaded", "path", opts.envPath, "error", err)
	}

	settings, err := loadSettings(opts)
	if err != nil {
		core.GetLogger().Fatal("invalid settings", "path", opts.settingsPath, "error", err)
	}
	core.SetLogger(*core.NewConsoleLogger(os.Stdout, core.ParseLevel(settings.LogLevel)))
	logger := core.GetLogger()

	if opts.listAssets {
		if err := listAssets(settings.AssetCatalog()); err != nil {
			logger.Fatal("failed to list assets", "error", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, opts, logger); err != nil {
		logger.Fatal("dispatcher stopped", "error", err)
	}
	logger.Info("goodbye")
}

func loadSettings(opts options) (factories.SettingsConfig, error) {
	settings, err := factories.SettingsConfigFromFile(opts.settingsPath)
	if errors.Is(err, os.ErrNotExist) {
		core.GetLogger().Warn("settings file not found, using defaults", "path", opts.settingsPath)
		settings, err = factories.DefaultSettingsConfig(), nil
	}
	if err != nil {
		return settings, err
	}

	settings.ApplyFlags(opts.overrides)
	if opts.threshold > 0 {
		settings.VAD.Threshold = opts.threshold
	}
	if opts.input != "" {
		settings.Capture.Input = opts.input
	}
	return settings, settings.Validate()
}

func run(ctx context.Context, settings factories.SettingsConfig, opts options, logger *core.Logger) error {
	// The session log comes first so every component tees into it.
	turnLog, logger, closeLog, err := openSessionLog(settings, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	sessionCfg, err := settings.ResolveSession()
	if err != nil {
		return err
	}
	sessionCfg.InjectAPIKeys(apiKeysFromEnv())
	engines, err := sessionCfg.BuildEngines(ctx, settings.Voices, logger)
	if err != nil {
		return err
	}

	vocab := dispatch.DefaultVocabulary()
	if settings.Paths.Vocabulary != "" {
		if vocab, err = dispatch.LoadVocabulary(settings.Paths.Vocabulary); err != nil {
			return err
		}
	}

	device, rate, err := openDevice(settings.Capture)
	if err != nil {
		return err
	}
	source := capture.NewSource(device, capture.SourceConfig{SampleRate: rate, FrameSize: settings.Capture.FrameSize}, logger)

	detector := vad.NewDetector(settings.VADConfig(), logger)
	if opts.showLevels {
		detector.OnLevel = func(level int) {
			fmt.Fprintf(os.Stderr, "\rlevel %6d", level)
		}
	}

	m := metrics.NewMetrics()
	pipeline := transmit.NewPipeline(settings.TransmitConfig(), engines.TTS, transmit.NewFFPlayPlayer(settings.Player, logger), settings.AssetCatalog(), m, logger)
	scheduler := idle.NewScheduler(settings.IdleConfig(), engines.LLM, pipeline, m, logger)

	voice, err := settings.Voice(settings.DispatcherVoice)
	if err != nil {
		return err
	}

	components := runner.Components{
		Source:       source,
		Detector:     detector,
		Store:        transcribe.NewStore(transcribe.Config{Dir: settings.Paths.Recordings, Retain: settings.Retention.SaveReceivedAudio}, engines.STT, logger),
		Orchestrator: dispatch.NewOrchestrator(vocab, engines.LLM, logger),
		Transmitter:  pipeline,
		Idle:         scheduler,
		TurnLog:      turnLog,
		Metrics:      m,
	}

	supervisor := runner.NewSupervisor(runner.Config{
		RestartDelay:        time.Duration(settings.RestartDelayS * float64(time.Second)),
		CueOnUnintelligible: settings.CueOnUnintelligible,
		Voice:               voice,
	}, components, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	if settings.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, settings.MetricsAddr, m, logger)
		})
	}
	g.Go(func() error {
		// A finite input ending stops the metrics server too.
		defer cancel()
		return supervisor.Run(gctx)
	})
	return g.Wait()
}

// openSessionLog starts the JSONL session file when transcripts are kept and
// returns the logger every component should be built with.
func openSessionLog(settings factories.SettingsConfig, logger *core.Logger) (runner.TurnLog, *core.Logger, func(), error) {
	if !settings.Retention.SaveTranscripts {
		return nil, logger, func() {}, nil
	}
	sessionID := time.Now().Format("2006-01-02_15-04-05") + "-" + uuid.NewString()[:8]
	w, err := core.NewSessionLogWriter(settings.Paths.Logs, sessionID)
	if err != nil {
		return nil, logger, func() {}, err
	}
	logger = core.NewSessionLogger(logger, w)
	logger.Info("writing transcripts", "path", w.Path())
	return w, logger, w.Close, nil
}

// openDevice picks the capture device and the sample rate frames are
// stamped with. A WAV file dictates its own rate.
func openDevice(c factories.CaptureSettings) (capture.Device, int, error) {
	switch c.Input {
	case factories.InputPortAudio:
		if !capture.PortAudioAvailable {
			return nil, 0, errors.New("this build has no PortAudio support; rebuild with -tags portaudio or pick another input")
		}
		return capture.NewPortAudioDevice(c.SampleRate, c.FrameSize), c.SampleRate, nil
	case factories.InputStdin:
		return capture.NewStreamDevice(os.Stdin, 1), c.SampleRate, nil
	case factories.InputCommand:
		return capture.NewCommandDevice(c.Command[0], c.Command[1:]...), c.SampleRate, nil
	}

	f, err := os.Open(filepath.Clean(c.Input))
	if err != nil {
		return nil, 0, fmt.Errorf("open input: %w", err)
	}
	device, format, err := capture.NewWAVStreamDevice(f)
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("input %s: %w", c.Input, err)
	}
	return device, format.SampleRate, nil
}

func listAssets(catalog assets.Catalog) error {
	for _, set := range []string{assets.SetTones, assets.SetErrors} {
		list, err := catalog.List(set)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d)\n", set, len(list))
		for _, a := range list {
			fmt.Printf("  %s\t%s\n", a.Name, a.Path)
		}
	}
	return nil
}

func apiKeysFromEnv() factories.APIKeys {
	return factories.APIKeys{
		Deepgram:   os.Getenv("DEEPGRAM_API_KEY"),
		OpenAI:     os.Getenv("OPENAI_API_KEY"),
		Together:   os.Getenv("TOGETHER_API_KEY"),
		Groq:       os.Getenv("GROQ_API_KEY"),
		DeepSeek:   os.Getenv("DEEPSEEK_API_KEY"),
		OpenRouter: os.Getenv("OPENROUTER_API_KEY"),
		Fireworks:  os.Getenv("FIREWORKS_API_KEY"),
		Cerebras:   os.Getenv("CEREBRAS_API_KEY"),
		XAI:        os.Getenv("XAI_API_KEY"),
		Mistral:    os.Getenv("MISTRAL_API_KEY"),
		Perplexity: os.Getenv("PERPLEXITY_API_KEY"),
		ElevenLabs: os.Getenv("ELEVENLABS_API_KEY"),
		Cartesia:   os.Getenv("CARTESIA_API_KEY"),
	}
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
