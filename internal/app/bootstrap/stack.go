package bootstrap

import (
	"context"
	"database/sql"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
	appconfig "github.com/wolfman30/roleplay-realtime/internal/config"
	"github.com/wolfman30/roleplay-realtime/internal/globalevent"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/internal/notify"
	"github.com/wolfman30/roleplay-realtime/internal/observability/metrics"
	"github.com/wolfman30/roleplay-realtime/internal/presence"
	"github.com/wolfman30/roleplay-realtime/internal/profiles"
	"github.com/wolfman30/roleplay-realtime/internal/treatment"
	"github.com/wolfman30/roleplay-realtime/internal/unread"
	"github.com/wolfman30/roleplay-realtime/internal/webchat"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// profileCacheTTL bounds how stale a display name or avatar may be.
const profileCacheTTL = 30 * time.Second

// Infra is the set of external connections a process was able to open.
// Any of them may be nil; the stack falls back to in-process stores.
type Infra struct {
	Redis      *redis.Client
	Pool       *pgxpool.Pool
	ProfilesDB *sql.DB
	AWS        *aws.Config
}

// Stack is every realtime component, wired.
type Stack struct {
	Registry  *locations.Registry
	Gatherer  *prometheus.Registry
	Metrics   *metrics.RealtimeMetrics
	Adapter   *chat.Adapter
	Router    *chat.Router
	Sender    *chat.Sender
	Access    *locations.Authorizer
	Grants    *locations.PostgresGrants
	Directory *profiles.Directory
	Presence  *presence.Tracker
	Online    *presence.OnlineResolver
	Unread    *unread.Tracker
	Treatment *treatment.Service
	Status    treatment.StatusFeed
	Notifier  *notify.Async
	Gate      globalevent.Gate
	Raid      *globalevent.Trigger
	Socket    *webchat.Handler
}

// Close stops background delivery owned by the stack.
func (s *Stack) Close() {
	if s.Notifier != nil {
		s.Notifier.Close()
	}
}

// BuildStack wires the realtime core from cfg and whatever infra is
// available. UseMemoryStore forces in-process stores even when infra is
// present.
func BuildStack(ctx context.Context, cfg *appconfig.Config, infra Infra, logger *logging.Logger) *Stack {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryStore {
		infra = Infra{AWS: infra.AWS}
	}

	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewRealtimeMetrics(gatherer)
	registry := locations.Default()

	var (
		msgLog    chat.Log
		feed      chat.Feed
		presStore presence.Store
		receipts  unread.ReceiptStore
		reqStore  treatment.Store
		status    treatment.StatusFeed
		grants    locations.GrantChecker
		pgGrants  *locations.PostgresGrants
	)
	if infra.Pool != nil {
		msgLog = chat.NewPostgresLog(infra.Pool)
		receipts = unread.NewPostgresReceipts(infra.Pool)
		reqStore = treatment.NewPostgresStore(infra.Pool)
		pgGrants = locations.NewPostgresGrants(infra.Pool)
		grants = pgGrants
	} else {
		logger.Warn("bootstrap: no database, using in-memory stores")
		msgLog = chat.NewMemoryLog()
		receipts = unread.NewMemoryReceipts()
		reqStore = treatment.NewMemoryStore()
	}
	if infra.Redis != nil {
		feed = chat.NewRedisFeed(infra.Redis, logger)
		presStore = presence.NewRedisStore(infra.Redis, 3*presence.DefaultHeartbeat)
		status = treatment.NewRedisStatusFeed(infra.Redis)
	} else {
		logger.Warn("bootstrap: no redis, live feed is process-local")
		feed = chat.NewMemoryFeed()
		presStore = presence.NewMemoryStore()
		status = treatment.NewMemoryStatusFeed()
	}

	st := &Stack{Registry: registry, Gatherer: gatherer, Metrics: m, Status: status, Grants: pgGrants}

	var (
		lookup   profiles.Lookup
		subjects locations.SubjectLookup
		activity chat.ActivityRecorder
		lastSeen presence.ActivitySource
		clearer  treatment.AfflictionClearer
	)
	if infra.ProfilesDB != nil {
		st.Directory = profiles.NewDirectory(infra.ProfilesDB)
		lookup = profiles.NewCache(st.Directory, profileCacheTTL)
		subjects, activity, lastSeen, clearer = st.Directory, st.Directory, st.Directory, st.Directory
	}

	st.Access = locations.NewAuthorizer(registry, grants, subjects)
	st.Notifier = BuildNotifier(cfg, infra.AWS, logger, m)
	st.Adapter = chat.NewAdapter(msgLog, feed, cfg.StoreTimeout, logger, chat.WithMetrics(m))
	st.Router = chat.NewRouter(chat.RouterConfig{
		Adapter:  st.Adapter,
		Profiles: lookup,
		PageSize: cfg.HistoryPageSize,
		Logger:   logger,
		Metrics:  m,
	})
	st.Sender = chat.NewSender(chat.SenderConfig{
		Adapter:  st.Adapter,
		Access:   st.Access,
		Notifier: st.Notifier,
		Activity: activity,
		Logger:   logger,
	})
	st.Presence = presence.NewTracker(presence.Config{
		Store:        presStore,
		Profiles:     lookup,
		Activity:     activity,
		TypingIdle:   cfg.TypingIdle,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
		Metrics:      m,
	})
	st.Online = presence.NewOnlineResolver(presStore, lastSeen, cfg.OnlineWindow, cfg.StoreTimeout, logger)
	st.Unread = unread.NewTracker(registry, st.Adapter, receipts, cfg.StoreTimeout, logger)
	st.Treatment = treatment.NewService(treatment.Config{
		Store:        reqStore,
		Registry:     registry,
		Clearer:      clearer,
		Feed:         status,
		Notifier:     st.Notifier,
		Poster:       st.Sender,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
		Metrics:      m,
	})

	st.Gate = BuildGate(cfg, infra, logger)
	if cfg.RaidEnabled {
		st.Raid = globalevent.NewTrigger(globalevent.TriggerConfig{
			Name:     globalevent.RaidEvent,
			Location: cfg.RaidLocation,
			Cooldown: cfg.RaidCooldown,
			Chance:   cfg.RaidChance,
		}, st.Gate, st.Sender, cfg.StoreTimeout, logger, m)
	}

	st.Socket = webchat.NewHandler(webchat.Config{
		Registry:        registry,
		Router:          st.Router,
		Sender:          st.Sender,
		Access:          st.Access,
		Presence:        st.Presence,
		Unread:          st.Unread,
		Live:            st.Adapter,
		Treatment:       st.Treatment,
		Status:          status,
		Profiles:        lookup,
		DefaultLocation: cfg.DefaultLocation,
		StoreTimeout:    cfg.StoreTimeout,
		Logger:          logger,
		Metrics:         m,
	})
	return st
}

// BuildGate picks the cooldown gate named by cfg.GlobalEventStore. A
// backend that is not available degrades to the in-process gate, which only
// holds within a single instance.
func BuildGate(cfg *appconfig.Config, infra Infra, logger *logging.Logger) globalevent.Gate {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.GlobalEventStore {
	case "redis":
		if infra.Redis != nil {
			return globalevent.NewRedisGate(infra.Redis)
		}
	case "postgres":
		if infra.Pool != nil {
			return globalevent.NewPostgresGate(infra.Pool)
		}
	case "dynamodb":
		if infra.AWS != nil {
			return globalevent.NewDynamoGate(dynamodb.NewFromConfig(*infra.AWS), cfg.GlobalEventTable)
		}
	case "memory", "":
		return globalevent.NewMemoryGate()
	}
	logger.Warn("bootstrap: global event store unavailable, cooldown is per instance", "store", cfg.GlobalEventStore)
	return globalevent.NewMemoryGate()
}

// BuildNotifier assembles the broadcast chain: the SQS producer (or a log
// line locally), optional email to offline players, all behind the async
// wrapper so senders never wait on delivery.
func BuildNotifier(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger, m *metrics.RealtimeMetrics) *notify.Async {
	if logger == nil {
		logger = logging.Default()
	}
	var chain notify.Fanout
	if cfg.NotifyQueueURL != "" && awsCfg != nil {
		chain = append(chain, notify.NewSQSDispatcher(sqs.NewFromConfig(*awsCfg), cfg.NotifyQueueURL))
	} else {
		chain = append(chain, notify.NewLogDispatcher(logger))
	}

	if email := buildEmailSender(cfg, awsCfg, logger); email != nil && len(cfg.NotifyEmailRecipients) > 0 {
		chain = append(chain, notify.NewEmailDispatcher(email, cfg.NotifyEmailRecipients))
		logger.Info("bootstrap: email notifications enabled", "provider", cfg.NotifyEmailProvider, "recipients", len(cfg.NotifyEmailRecipients))
	}
	return notify.NewAsync(chain, cfg.NotifyTimeout, logger, m)
}

func buildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.NotifyEmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger); s != nil {
			return s
		}
	case "ses":
		if awsCfg != nil {
			if s := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.EmailFromAddress,
				FromName:  cfg.EmailFromName,
			}, logger); s != nil {
				return s
			}
		}
	case "stub":
		return notify.NewStubEmailSender(logger)
	case "":
		return nil
	}
	logger.Warn("bootstrap: email provider not configured", "provider", cfg.NotifyEmailProvider)
	return nil
}
