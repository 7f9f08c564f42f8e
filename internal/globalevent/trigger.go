package globalevent

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
	"github.com/wolfman30/roleplay-realtime/internal/observability/metrics"
	"github.com/wolfman30/roleplay-realtime/internal/storage"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// RaidEvent is the bandit raid event name.
const RaidEvent = "bandit_raid"

// Poster writes a message into a chat channel as a synthetic author.
type Poster interface {
	Post(ctx context.Context, ch chat.Channel, authorID, content string) (chat.Message, error)
}

// TriggerConfig configures a Trigger.
type TriggerConfig struct {
	Name     string
	Location string
	Cooldown time.Duration
	Chance   float64
	Lines    []string
}

var defaultRaidLines = []string{
	"Mãos ao alto! Isto é um assalto! Ninguém se mexe!",
	"Passem o dinheiro do caixa, rápido!",
	"Os bandidos invadiram o local e levaram tudo que viram pela frente!",
}

// Trigger fires one event: roll the chance, win the gate, post the
// narrator message.
type Trigger struct {
	cfg     TriggerConfig
	gate    Gate
	poster  Poster
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.RealtimeMetrics

	mu   sync.Mutex
	roll func() float64
	pick func(n int) int
}

// NewTrigger creates a raid Trigger. Zero config fields take defaults.
func NewTrigger(cfg TriggerConfig, gate Gate, poster Poster, timeout time.Duration, logger *logging.Logger, m *metrics.RealtimeMetrics) *Trigger {
	if gate == nil || poster == nil {
		panic("globalevent: gate and poster required")
	}
	if cfg.Name == "" {
		cfg.Name = RaidEvent
	}
	if len(cfg.Lines) == 0 {
		cfg.Lines = defaultRaidLines
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Trigger{
		cfg:     cfg,
		gate:    gate,
		poster:  poster,
		timeout: timeout,
		logger:  logger,
		metrics: m,
		roll:    rand.Float64,
		pick:    rand.IntN,
	}
}

// TryFire evaluates the event once. It reports whether this call fired it.
func (t *Trigger) TryFire(ctx context.Context) (bool, error) {
	t.mu.Lock()
	roll := t.roll()
	line := t.cfg.Lines[t.pick(len(t.cfg.Lines))]
	t.mu.Unlock()

	if roll >= t.cfg.Chance {
		t.metrics.ObserveGlobalEvent(t.cfg.Name, "skipped")
		return false, nil
	}

	var acquired bool
	err := storage.Do(ctx, t.timeout, "globalevent.acquire", func(ctx context.Context) error {
		var err error
		acquired, err = t.gate.TryAcquire(ctx, t.cfg.Name, t.cfg.Cooldown)
		return err
	})
	if err != nil {
		t.metrics.ObserveGlobalEvent(t.cfg.Name, "error")
		return false, err
	}
	if !acquired {
		t.metrics.ObserveGlobalEvent(t.cfg.Name, "cooldown")
		return false, nil
	}

	if _, err := t.poster.Post(ctx, chat.NewChannel(t.cfg.Location, ""), chat.BanditUserID, line); err != nil {
		t.metrics.ObserveGlobalEvent(t.cfg.Name, "error")
		t.logger.Error("globalevent: fired but message not posted", "event", t.cfg.Name, "location", t.cfg.Location, "error", err)
		return true, err
	}
	t.metrics.ObserveGlobalEvent(t.cfg.Name, "fired")
	t.logger.Info("globalevent: fired", "event", t.cfg.Name, "location", t.cfg.Location)
	return true, nil
}

// Run evaluates the trigger every interval until ctx ends.
func (t *Trigger) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.TryFire(ctx); err != nil {
				t.logger.Warn("globalevent: evaluation failed", "event", t.cfg.Name, "error", err)
			}
		}
	}
}
