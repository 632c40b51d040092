package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/malte101/MLRvst-sub002/config"
	"github.com/malte101/MLRvst-sub002/engine"
	"github.com/malte101/MLRvst-sub002/grid"
	"github.com/malte101/MLRvst-sub002/scheduler"
	"github.com/malte101/MLRvst-sub002/tui"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	headless := flag.Bool("headless", false, "Run without the terminal monitor")
	debug := flag.Bool("debug", false, "Enable debug logging")
	writeConfig := flag.Bool("write-config", false, "Write the default config file and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	setupLogging(cfg.Log)

	if *writeConfig {
		if err := cfg.Save(configPath); err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("Failed to write config")
		}
		log.Info().Str("path", configPath).Msg("Wrote default config")
		return
	}

	eng := engine.New(engine.Options{
		SampleRate: cfg.Engine.SampleRate,
		BlockSize:  cfg.Engine.BlockSize,
		Tempo:      cfg.Engine.Tempo,
		Strips:     cfg.Engine.Strips,
		Groups:     cfg.Engine.Groups,
	})

	clock := scheduler.NewClock(eng, eng, cfg.Quantize.Enabled, scheduler.ClampDivision(cfg.Quantize.Division))
	loops := scheduler.NewLoopChangeQueue(clock, eng, eng, log.Logger)
	sched := scheduler.NewTriggerScheduler(clock, eng, eng, loops, log.Logger)
	sched.SetScratchHoldThreshold(cfg.Quantize.ScratchHoldThreshold)
	loops.SetScratchHoldThreshold(cfg.Quantize.ScratchHoldThreshold)
	sched.SetRecorder(eng.Recorder())

	transport := grid.NewTransport(cfg.App.BrokerHost, cfg.App.BrokerPort, log.Logger)
	if err := transport.Bind(cfg.App.ListenPort); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind receiver")
	}

	registry := grid.NewRegistry()
	leds := grid.NewLedFrameCache()
	sup := grid.NewSupervisor(transport, registry, leds, grid.Options{
		BrokerHost:           cfg.App.BrokerHost,
		Prefix:               cfg.App.Prefix,
		Rotation:             cfg.Link.Rotation,
		DiscoveryInterval:    cfg.Link.DiscoveryInterval.Duration(),
		ReconnectInterval:    cfg.Link.ReconnectInterval.Duration(),
		MaxReconnectAttempts: cfg.Link.MaxReconnectAttempts,
		HandshakeTimeout:     cfg.Link.HandshakeTimeout.Duration(),
		ConnectionTimeout:    cfg.Link.ConnectionTimeout.Duration(),
		PingInterval:         cfg.Link.PingInterval.Duration(),
		LedFlushInterval:     cfg.Link.LedFlushInterval.Duration(),
	}, log.Logger)
	sup.Attach(transport.Router())

	log.Info().Int("port", transport.BoundPort()).Msg("grid-link listening")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := transport.Serve(); err != nil {
			log.Error().Err(err).Msg("receiver stopped")
			cancel()
		}
	}()
	go sup.Run(ctx)
	go blockLoop(ctx, eng, sched, loops, sup)
	go keyPump(ctx, sup, sched, eng)

	if cfg.UI.Enabled && !*headless {
		m := tui.NewModel(sup, registry, sched, eng)
		p := tea.NewProgram(m, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			log.Error().Err(err).Msg("monitor failed")
		}
		cancel()
	} else {
		<-ctx.Done()
	}

	transport.Close()
	log.Info().Msg("shutdown complete")
}

// blockLoop is the stand-in audio render context: it advances the engine
// clock one block at a time and drains the pending trigger and loop-change
// tables at each block boundary.
func blockLoop(ctx context.Context, eng *engine.Engine, sched *scheduler.TriggerScheduler, loops *scheduler.LoopChangeQueue, sup *grid.Supervisor) {
	blockDur := time.Duration(float64(eng.BlockSize()) / float64(eng.SampleRate()) * float64(time.Second))
	ticker := time.NewTicker(blockDur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prevBeat := eng.TimelineBeat()
			eng.Advance()
			beat := eng.TimelineBeat()

			sched.ProcessBlock()
			loops.ProcessBlock()

			// Pattern replay bypasses quantization (events were recorded
			// at already-quantized beats) but still resolves group choke,
			// so replayed patterns sound like what was heard.
			for _, ev := range eng.Recorder().ReplayBetween(prevBeat, beat) {
				sched.ReplayTrigger(ev.Strip, ev.Column, ev.Beat)
			}

			renderLeds(eng, sched, sup.Leds())
		}
	}
}

// renderLeds paints playback and gate state into the LED cache: the
// playing column bright, the loop region dim, pending-trigger rows
// mid-level on their scheduled column.
func renderLeds(eng *engine.Engine, sched *scheduler.TriggerScheduler, leds *grid.LedFrameCache) {
	strips := eng.Strips()
	for y := 0; y < grid.GridHeight; y++ {
		if y == 0 || y-1 >= len(strips) {
			for x := 0; x < grid.GridWidth; x++ {
				leds.SetLevel(x, y, grid.LevelOff)
			}
			continue
		}
		s := strips[y-1]
		for x := 0; x < grid.GridWidth; x++ {
			level := grid.LevelOff
			if x >= s.LoopStart && x < s.LoopEnd && (s.LoopStart != 0 || s.LoopEnd != engine.DefaultColumns) {
				level = 4
			}
			if s.Playing && x == s.Column {
				level = grid.LevelMax
			}
			leds.SetLevel(x, y, level)
		}
	}
	for _, pt := range sched.Pending() {
		leds.SetLevel(pt.Column, pt.StripIndex+1, 8)
	}
}

// keyPump routes grid key events: row 0 is the control row (pattern
// record/play, quantize toggle), rows 1..n map to strips with the column
// as the trigger point.
func keyPump(ctx context.Context, sup *grid.Supervisor, sched *scheduler.TriggerScheduler, eng *engine.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sup.Keys():
			if !ok {
				return
			}
			if ev.Y == 0 {
				if ev.State == 1 {
					handleControlKey(ev.X, eng)
				}
				continue
			}
			strip := ev.Y - 1
			if strip >= eng.NumStrips() {
				continue
			}
			if ev.State == 1 {
				eng.KeyDown(strip)
				sched.Press(strip, ev.X)
			} else {
				eng.KeyUp(strip)
			}
		}
	}
}

func handleControlKey(x int, eng *engine.Engine) {
	rec := eng.Recorder()
	switch x {
	case 0:
		if rec.Recording() {
			rec.StopRecording()
			log.Info().Msg("pattern record off")
		} else {
			rec.StartRecording(eng.TimelineBeat())
			log.Info().Msg("pattern record on")
		}
	case 1:
		rec.SetPlaying(!rec.Playing())
		log.Info().Bool("playing", rec.Playing()).Msg("pattern playback")
	}
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05.000",
			NoColor:    !cfg.Colors,
		})
	}

	switch cfg.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
