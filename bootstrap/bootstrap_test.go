package bootstrap

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ruleengine/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func loadTestConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
log:
  level: error
data_paths:
  data_dir: %q
api:
  host: 127.0.0.1
  port: %d
%s`, filepath.Join(dir, "data"), freePort(t), extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func TestInitLogger(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		logger, sugar, err := InitLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, logger)
		assert.NotNil(t, sugar)
	}

	logger, _, err := InitLogger("warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1), "debug should be disabled at warn")

	_, _, err = InitLogger("verbose")
	assert.Error(t, err)
}

func TestEnsureDataDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	require.NoError(t, EnsureDataDirectory(dir, zaptest.NewLogger(t).Sugar()))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(filepath.Join(dir, ".ruleengine_write_test"))
	assert.True(t, os.IsNotExist(err), "write test file should be removed")
}

func TestInitStorage(t *testing.T) {
	cfg := loadTestConfig(t, "")
	sugar := zaptest.NewLogger(t).Sugar()

	sc, err := InitStorage(context.Background(), cfg, sugar)
	require.NoError(t, err)
	defer sc.Close(sugar)

	assert.NotNil(t, sc.SQLite)
	assert.NotNil(t, sc.RuleStorage)
	assert.Nil(t, sc.Redis)
	assert.FileExists(t, cfg.GetSQLitePath())

	checks := sc.HealthChecks()
	require.Contains(t, checks, "sqlite")
	assert.NotContains(t, checks, "redis")
	assert.NoError(t, checks["sqlite"](context.Background()))

	svc, err := sc.NewRuleService(cfg, sugar)
	require.NoError(t, err)
	rule, err := svc.CreateRule(context.Background(), "seniors", "age > 30")
	require.NoError(t, err)
	_, err = svc.GetRule(context.Background(), rule.ID)
	assert.NoError(t, err)
}

func TestInitStorage_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadTestConfig(t, fmt.Sprintf("redis:\n  enabled: true\n  addr: %q\n", mr.Addr()))
	sugar := zaptest.NewLogger(t).Sugar()

	sc, err := InitStorage(context.Background(), cfg, sugar)
	require.NoError(t, err)
	defer sc.Close(sugar)

	require.NotNil(t, sc.Redis)
	checks := sc.HealthChecks()
	require.Contains(t, checks, "redis")
	assert.NoError(t, checks["redis"](context.Background()))

	svc, err := sc.NewRuleService(cfg, sugar)
	require.NoError(t, err)
	rule, err := svc.CreateRule(context.Background(), "", "age > 30 AND department = 'Sales'")
	require.NoError(t, err)
	_, err = svc.LoadTree(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
}

func TestInitStorage_RedisUnavailable(t *testing.T) {
	cfg := loadTestConfig(t, "redis:\n  enabled: true\n  addr: 127.0.0.1:1\n")
	sugar := zaptest.NewLogger(t).Sugar()

	sc, err := InitStorage(context.Background(), cfg, sugar)
	require.NoError(t, err)
	defer sc.Close(sugar)
	assert.Nil(t, sc.Redis)
}

func TestNilStorageRuleService(t *testing.T) {
	cfg := loadTestConfig(t, "")
	var sc *StorageComponents

	svc, err := sc.NewRuleService(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ok, err := svc.Evaluate(context.Background(), "age > 30", nil)
	require.Error(t, err, "missing attribute")
	assert.False(t, ok)

	_, err = svc.GetRule(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.Error(t, err)
}

func TestAppLifecycle(t *testing.T) {
	cfg := loadTestConfig(t, "")
	ctx := context.Background()

	app, err := NewAppWithConfig(ctx, cfg)
	require.NoError(t, err)
	assert.Empty(t, app.Addr())

	require.NoError(t, app.Start(ctx))
	require.NotEmpty(t, app.Addr())

	url := "http://" + app.Addr() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	app.Shutdown()
	app.Shutdown()

	_, err = http.Get(url)
	assert.Error(t, err)
}

func TestAppStart_PortInUse(t *testing.T) {
	cfg := loadTestConfig(t, "")
	ln, err := net.Listen("tcp", cfg.ListenAddr())
	require.NoError(t, err)
	defer ln.Close()

	app, err := NewAppWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Shutdown()

	assert.Error(t, app.Start(context.Background()))
}

func TestNewApp_BadConfigPath(t *testing.T) {
	_, err := NewApp(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
