// Package daemon runs the long-lived sidekick process: it owns one manager
// per enabled sidecar, restores their configured state on start, publishes
// bot events, serves the API, runs scheduled memory cleanup and reacts to
// config changes.
package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/alexsjones/sidekick/internal/apiserver"
	"github.com/alexsjones/sidekick/internal/config"
	"github.com/alexsjones/sidekick/internal/eventbus"
	"github.com/alexsjones/sidekick/internal/llm"
	"github.com/alexsjones/sidekick/internal/memory"
	"github.com/alexsjones/sidekick/internal/observability"
	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/tts"
	"github.com/alexsjones/sidekick/internal/voicebot"
)

const shutdownTimeout = 15 * time.Second

// Daemon holds the managers of the enabled sidecars. Disabled sidecars have
// a nil manager.
type Daemon struct {
	LLM    *llm.Manager
	Memory *memory.Manager
	Bot    *voicebot.Manager
	TTS    *tts.Manager

	bus     eventbus.EventBus
	prom    *sidecar.PrometheusMetrics
	cleanup *cleanupScheduler
	log     logr.Logger

	mu  sync.Mutex
	cfg *config.Config
}

// New builds the managers for cfg. No process is started.
func New(cfg *config.Config, bus eventbus.EventBus, log logr.Logger) *Daemon {
	d := &Daemon{
		bus:  bus,
		prom: sidecar.NewPrometheusMetrics("sidekick"),
		log:  log,
		cfg:  cfg,
	}
	metrics := sidecar.MultiMetrics(d.prom, observability.NewSidecarMetrics(), eventbus.LifecycleMetrics(bus, log))

	if sc := cfg.Sidecars.LLM; sc.Enabled {
		d.LLM = llm.NewManager(cfg.LLMSidecar(log, metrics), sc.SettleDelay)
	}
	if sc := cfg.Sidecars.Memory; sc.Enabled {
		d.Memory = memory.NewManager(cfg.MemorySidecar(log, metrics), sc.SettleDelay)
	}
	if sc := cfg.Sidecars.Bot; sc.Enabled {
		d.Bot = voicebot.NewManager(cfg.BotSidecar(log, metrics), sc.SettleDelay, sc.EventBuffer)
		d.Bot.SetToken(cfg.BotToken())
	}
	if sc := cfg.Sidecars.TTS; sc.Enabled {
		d.TTS = tts.NewManager(cfg.TTSSidecar(log, metrics), sc.SettleDelay)
		d.TTS.SetOutputDevice(cfg.TTS.OutputDevice)
	}
	d.cleanup = newCleanupScheduler(d.runCleanup, log.WithName("cleanup"))
	return d
}

// Sidecars returns the supervisors of the enabled sidecars.
func (d *Daemon) Sidecars() []apiserver.Sidecar {
	var out []apiserver.Sidecar
	if d.LLM != nil {
		out = append(out, d.LLM.Supervisor())
	}
	if d.Memory != nil {
		out = append(out, d.Memory.Supervisor())
	}
	if d.Bot != nil {
		out = append(out, d.Bot.Supervisor())
	}
	if d.TTS != nil {
		out = append(out, d.TTS.Supervisor())
	}
	return out
}

func (d *Daemon) current() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Run serves until ctx is done, then stops every sidecar. Changes on
// reloads, when non-nil, are applied as they arrive.
func (d *Daemon) Run(ctx context.Context, reloads <-chan *config.Config) error {
	cfg := d.current()
	if err := d.cleanup.Schedule(cfg.Memory.CleanupSchedule); err != nil {
		d.log.Error(err, "invalid cleanup schedule, cleanup disabled", "schedule", cfg.Memory.CleanupSchedule)
	}
	d.cleanup.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.restore(gctx, cfg)
		return nil
	})

	if d.Bot != nil {
		g.Go(func() error {
			eventbus.Pump(gctx, d.bus, d.Bot.Supervisor().Name(), d.Bot.Events(), d.log.WithName("events"))
			return nil
		})
	}

	if reloads != nil {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case next, ok := <-reloads:
					if !ok {
						return nil
					}
					d.Apply(gctx, next)
				}
			}
		})
	}

	server := apiserver.NewServer(d.Sidecars(), d.bus, d.prom.Registry(), d.log.WithName("apiserver"))
	g.Go(func() error {
		return server.Start(gctx, cfg.HTTP.Addr)
	})

	err := g.Wait()
	<-d.cleanup.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := d.Shutdown(shutdownCtx); serr != nil {
		d.log.Error(serr, "sidecar shutdown failed")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// restore brings sidecars into the state the config asks for. Failures are
// logged; the managers retry on the next call.
func (d *Daemon) restore(ctx context.Context, cfg *config.Config) {
	if d.LLM != nil && cfg.LLM.ModelPath != "" {
		if err := d.LLM.LoadModel(ctx, cfg.LLM.ModelPath); err != nil {
			d.log.Error(err, "failed to load model", "path", cfg.LLM.ModelPath)
		} else {
			d.log.Info("model loaded", "path", cfg.LLM.ModelPath)
		}
	}
	if d.TTS != nil && cfg.TTS.ModelPath != "" {
		if err := d.TTS.LoadModel(ctx, cfg.TTS.ModelPath); err != nil {
			d.log.Error(err, "failed to load voice", "path", cfg.TTS.ModelPath)
		}
	}

	if d.Bot == nil || d.Bot.Token() == "" {
		return
	}
	if err := d.Bot.Connect(ctx); err != nil {
		d.log.Error(err, "bot failed to connect")
		return
	}
	if cfg.Bot.GuildID == "" || cfg.Bot.ChannelID == "" {
		return
	}
	if err := d.Bot.JoinVoice(ctx, cfg.Bot.GuildID, cfg.Bot.ChannelID); err != nil {
		d.log.Error(err, "bot failed to join voice", "guild", cfg.Bot.GuildID, "channel", cfg.Bot.ChannelID)
		return
	}
	if cfg.Bot.Listen {
		if err := d.Bot.EnableListening(ctx); err != nil {
			d.log.Error(err, "bot failed to enable listening")
		}
	}
}

// Apply switches to next: a changed bot token reconnects a connected bot,
// speech follows the new output device, and the cleanup job follows the new
// schedule and TTL. Process settings take effect on the next restart of the
// daemon.
func (d *Daemon) Apply(ctx context.Context, next *config.Config) {
	d.mu.Lock()
	d.cfg = next
	d.mu.Unlock()

	if err := d.cleanup.Schedule(next.Memory.CleanupSchedule); err != nil {
		d.log.Error(err, "invalid cleanup schedule, keeping the previous one", "schedule", next.Memory.CleanupSchedule)
	}
	if d.TTS != nil {
		d.TTS.SetOutputDevice(next.TTS.OutputDevice)
	}

	if d.Bot == nil {
		return
	}
	token := next.BotToken()
	if token == d.Bot.Token() {
		return
	}
	d.Bot.SetToken(token)
	d.log.Info("bot token changed")

	st, err := d.Bot.Status(ctx)
	if err != nil || !st.Connected {
		return
	}
	if err := d.Bot.Disconnect(ctx); err != nil {
		d.log.Error(err, "failed to disconnect bot")
		return
	}
	if token == "" {
		return
	}
	if err := d.Bot.Connect(ctx); err != nil {
		d.log.Error(err, "failed to reconnect bot with the new token")
	}
}

func (d *Daemon) runCleanup() {
	if d.Memory == nil {
		return
	}
	ttl := d.current().Memory.TTLDays
	if ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	deleted, err := d.Memory.Cleanup(ctx, ttl)
	if err != nil {
		d.log.Error(err, "memory cleanup failed")
		return
	}
	d.log.Info("memory cleanup finished", "deleted", deleted, "ttlDays", ttl)
}

// Shutdown stops every sidecar in parallel.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	if d.LLM != nil {
		g.Go(func() error { return d.LLM.Shutdown(ctx) })
	}
	if d.Memory != nil {
		g.Go(func() error { return d.Memory.Shutdown(ctx) })
	}
	if d.Bot != nil {
		g.Go(func() error { return d.Bot.Shutdown(ctx) })
	}
	if d.TTS != nil {
		g.Go(func() error { return d.TTS.Shutdown(ctx) })
	}
	return g.Wait()
}
