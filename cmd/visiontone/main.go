package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/petems/visiontone/internal/app"
	"github.com/petems/visiontone/internal/audio"
	"github.com/petems/visiontone/internal/config"
	"github.com/petems/visiontone/internal/frame"
	"github.com/petems/visiontone/internal/logging"
	"github.com/petems/visiontone/internal/observe"
	"github.com/petems/visiontone/internal/permissions"
	"github.com/petems/visiontone/internal/server"
	"github.com/petems/visiontone/internal/source"
	"github.com/petems/visiontone/internal/source/webcam"
	"github.com/petems/visiontone/internal/synth"
	"github.com/petems/visiontone/internal/vision"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (.json, .yaml or .yml); defaults to the platform config path")
	imagePath := flag.String("image", "", "use a still image instead of a camera")
	camera := flag.Int("camera", -1, "camera device index (overrides config)")
	sink := flag.String("sink", "", "audio sink: portaudio, wav or none (overrides config)")
	listDevices := flag.Bool("list-devices", false, "list cameras and audio outputs, then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("visiontone %s (%s)\n", Version, Commit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	applyFlags(cfg, *imagePath, *camera, *sink)
	if err := cfg.Validate(); err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	if *listDevices {
		printDevices(cfg, log)
		return
	}

	// macOS requires explicit camera approval before capture works
	if cfg.Source.Kind == config.SourceCamera {
		if err := permissions.EnsureCameraPermission(); err != nil {
			log.Fatal().Err(err).Msg("Required permissions not granted")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}
	defer shutdownMetrics(context.Background())

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create metric instruments")
	}

	src, err := newSource(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize frame source")
	}

	processor := vision.New(vision.Config{
		Width:     cfg.Source.Width,
		Height:    cfg.Source.Height,
		FrameRate: cfg.Processing.FrameRate,
	}, log)
	processor.SetParameters(vision.Update{
		BlurRadius:    &cfg.Processing.BlurRadius,
		EdgeThreshold: &cfg.Processing.EdgeThreshold,
		DepthScale:    &cfg.Processing.DepthScale,
	})
	if roi := cfg.VisionSettings().ROI; roi.Enabled {
		processor.SetROI(roi.X, roi.Y, roi.Width, roi.Height, true)
	}

	synthesizer := synth.New(synth.Format{
		SampleRate: cfg.Audio.SampleRate,
		BufferSize: cfg.Audio.BufferSize,
	}, log)
	p := cfg.ToneParameters()
	synthesizer.SetParameters(synth.Update{
		BaseFreq:     &p.BaseFreq,
		DepthFactor:  &p.DepthFactor,
		AngleFactor:  &p.AngleFactor,
		VolumeFactor: &p.VolumeFactor,
		Reverb:       &p.Reverb,
		Compression:  &p.Compression,
	})

	output, err := newSink(cfg, synthesizer, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio output")
	}
	if output != nil {
		defer output.Close()
	}

	appCfg := app.Config{
		Source:    src,
		Processor: processor,
		Synth:     synthesizer,
		Sink:      output,
		Metrics:   metrics,
		Config:    cfg,
		Logger:    log,
	}

	// The server needs the app as its controller, and the app needs the
	// server as its status updater.
	var srv *server.Server
	if cfg.Server.Addr != "" {
		srv = server.New(cfg.Server.Addr, nil, log)
		appCfg.Server = srv
		appCfg.StatusUpdater = srv
	}
	application := app.New(appCfg)
	if srv != nil {
		srv.SetController(application)
	}

	// Hot reload only makes sense for a file the user actually has.
	watchPath := *configPath
	if watchPath == "" {
		watchPath = config.Path()
	}
	if _, err := os.Stat(watchPath); err == nil {
		watcher, err := config.NewWatcher(watchPath, log, func(old, new *config.Config) {
			application.ApplyChanges(config.Diff(old, new))
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			defer watcher.Stop()
		}
	}

	log.Info().
		Str("version", Version).
		Str("source", cfg.Source.Kind).
		Str("sink", cfg.Audio.Sink).
		Msg("VisionTone starting...")

	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Pipeline error")
		os.Exit(1)
	}
	log.Info().Msg("Shutting down...")
}

func applyFlags(cfg *config.Config, imagePath string, camera int, sink string) {
	if imagePath != "" {
		cfg.Source.Kind = config.SourceImage
		cfg.Source.ImagePath = imagePath
	}
	if camera >= 0 {
		cfg.Source.Kind = config.SourceCamera
		cfg.Source.Device = camera
	}
	if sink != "" {
		cfg.Audio.Sink = sink
	}
}

func newSource(cfg *config.Config, log zerolog.Logger) (*source.Source, error) {
	sc := source.Config{
		Device: cfg.Source.Device,
		Width:  cfg.Source.Width,
		Height: cfg.Source.Height,
		FPS:    cfg.Source.FPS,
	}
	if cfg.Source.Kind == config.SourceImage {
		img, err := frame.Load(cfg.Source.ImagePath)
		if err != nil {
			return nil, err
		}
		return source.NewStill(sc, img, log), nil
	}
	return source.New(sc, webcam.Opener{Width: sc.Width, Height: sc.Height, FPS: sc.FPS}, log), nil
}

func newSink(cfg *config.Config, s *synth.Synth, log zerolog.Logger) (audio.Sink, error) {
	switch cfg.Audio.Sink {
	case config.SinkPortAudio:
		return audio.NewPlayer(s, cfg.Audio.SampleRate, cfg.Audio.BufferSize, log)
	case config.SinkWAV:
		return audio.NewRecorder(cfg.Audio.WAVPath, s, cfg.Audio.SampleRate, cfg.Audio.BufferSize, log), nil
	default:
		return nil, nil
	}
}

func printDevices(cfg *config.Config, log zerolog.Logger) {
	opener := webcam.Opener{Width: cfg.Source.Width, Height: cfg.Source.Height, FPS: cfg.Source.FPS}
	fmt.Println("Cameras:")
	for _, idx := range source.EnumerateDevices(opener) {
		fmt.Printf("  %d\n", idx)
	}

	outputs, err := audio.ListOutputDevices()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list audio outputs")
		return
	}
	fmt.Println("Audio outputs:")
	for _, d := range outputs {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf(" %s %s\n", marker, d.Name)
	}
}
