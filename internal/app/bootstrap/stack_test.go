package bootstrap

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/roleplay-realtime/internal/config"
	"github.com/wolfman30/roleplay-realtime/internal/globalevent"
	"github.com/wolfman30/roleplay-realtime/internal/treatment"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

func quietLogger() *logging.Logger { return logging.NewWithWriter(io.Discard, "error") }

func memoryConfig() *appconfig.Config {
	return &appconfig.Config{
		UseMemoryStore:   true,
		StoreTimeout:     time.Second,
		HistoryPageSize:  100,
		DefaultLocation:  "hospital",
		TypingIdle:       time.Second,
		OnlineWindow:     time.Minute,
		RaidLocation:     "bakery",
		RaidCooldown:     time.Hour,
		RaidChance:       1,
		GlobalEventStore: "memory",
		NotifyTimeout:    time.Second,
	}
}

func TestBuildStackInMemory(t *testing.T) {
	st := BuildStack(context.Background(), memoryConfig(), Infra{}, quietLogger())
	t.Cleanup(st.Close)

	require.NotNil(t, st.Socket)
	require.NotNil(t, st.Sender)
	require.NotNil(t, st.Treatment)
	assert.Nil(t, st.Directory)
	assert.Nil(t, st.Raid, "raid disabled by default")
	assert.IsType(t, &globalevent.MemoryGate{}, st.Gate)
	assert.IsType(t, &treatment.MemoryStatusFeed{}, st.Status)

	req, err := st.Treatment.Request(context.Background(), treatment.NewRequest{
		PatientID: "p1", DiseaseID: "flu", CureTimeMinutes: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, treatment.StatusPending, req.Status)
}

func TestBuildStackRaidPostsOnce(t *testing.T) {
	cfg := memoryConfig()
	cfg.RaidEnabled = true
	st := BuildStack(context.Background(), cfg, Infra{}, quietLogger())
	t.Cleanup(st.Close)
	require.NotNil(t, st.Raid)

	fired, err := st.Raid.TryFire(context.Background())
	require.NoError(t, err)
	assert.True(t, fired)
	fired, err = st.Raid.TryFire(context.Background())
	require.NoError(t, err)
	assert.False(t, fired, "cooldown holds")
}

func TestBuildStackUsesRedisWhenAvailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := memoryConfig()
	cfg.UseMemoryStore = false
	cfg.GlobalEventStore = "redis"
	st := BuildStack(context.Background(), cfg, Infra{Redis: client}, quietLogger())
	t.Cleanup(st.Close)

	assert.IsType(t, &globalevent.RedisGate{}, st.Gate)
	assert.IsType(t, &treatment.RedisStatusFeed{}, st.Status)
}

func TestBuildGateFallsBack(t *testing.T) {
	cfg := memoryConfig()
	for _, store := range []string{"redis", "postgres", "dynamodb", "bogus"} {
		cfg.GlobalEventStore = store
		assert.IsType(t, &globalevent.MemoryGate{}, BuildGate(cfg, Infra{}, quietLogger()), store)
	}

	cfg.GlobalEventStore = "dynamodb"
	awsCfg := aws.Config{Region: "us-east-1"}
	assert.IsType(t, &globalevent.DynamoGate{}, BuildGate(cfg, Infra{AWS: &awsCfg}, quietLogger()))
}

func TestBuildEmailSender(t *testing.T) {
	cfg := memoryConfig()
	assert.Nil(t, buildEmailSender(cfg, nil, quietLogger()))

	cfg.NotifyEmailProvider = "sendgrid"
	assert.Nil(t, buildEmailSender(cfg, nil, quietLogger()), "no api key")

	cfg.NotifyEmailProvider = "stub"
	assert.NotNil(t, buildEmailSender(cfg, nil, quietLogger()))

	cfg.NotifyEmailProvider = "ses"
	awsCfg := aws.Config{Region: "us-east-1"}
	assert.NotNil(t, buildEmailSender(cfg, &awsCfg, quietLogger()))
}

func TestBuildNotifierNeverBlocks(t *testing.T) {
	cfg := memoryConfig()
	cfg.NotifyEmailProvider = "stub"
	cfg.NotifyEmailRecipients = []string{"a@example.com"}
	n := BuildNotifier(cfg, nil, quietLogger(), nil)
	require.NoError(t, n.NotifyExcept(context.Background(), "u1", "Hospital", "oi", "hospital"))
	n.Close()
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	assert.Nil(t, ConnectPostgresPool(context.Background(), "", quietLogger()))
	db, err := OpenProfilesDB(context.Background(), " ")
	assert.NoError(t, err)
	assert.Nil(t, db)
}

func TestBuildRedisClientDisabled(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, quietLogger(), true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), true)
	require.NotNil(t, client)
	_ = client.Close()
}
