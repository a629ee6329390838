package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/line-planner/internal/controller"
	"github.com/ChuLiYu/line-planner/internal/storage/sqlstore"
	"github.com/ChuLiYu/line-planner/internal/storage/wal"
	"github.com/ChuLiYu/line-planner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644), "Failed to write test config file")
	return path
}

// testConfig 回傳指向暫存目錄、不開任何埠的設定
func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.WAL.Path = filepath.Join(dir, "planner.wal")
	cfg.Snapshot.Path = filepath.Join(dir, "planner.snapshot.json")
	cfg.Snapshot.IntervalSeconds = 0
	cfg.Refresh.IntervalSeconds = 0
	cfg.Server.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Log.Level = "error"
	return cfg
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "line-planner", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Use] = true
		if c.HasSubCommands() {
			continue
		}
		assert.NotNil(t, c.RunE, "%s should set RunE", c.Use)
	}
	for _, want := range []string{"run", "status", "capacity", "summary", "export", "import", "wal"} {
		assert.True(t, names[want], "Should have %q command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)

	envFlag := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, envFlag)
	assert.Equal(t, ".env", envFlag.DefValue)

	assert.NotNil(t, cmd.PersistentFlags().Lookup("addr"))
}

func TestQueryCommandsRequireFlags(t *testing.T) {
	opts := &options{}

	capCmd := buildCapacityCommand(opts)
	assert.NotNil(t, capCmd.Flags().Lookup("model"))
	assert.NotNil(t, capCmd.Flags().Lookup("date"))

	sumCmd := buildSummaryCommand(opts)
	assert.NotNil(t, sumCmd.Flags().Lookup("order"))

	root := BuildCLI()
	root.SetArgs([]string{"summary"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order")
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
planner:
  workday_hours: 7.5
  lookahead_days: 90
  posts:
    - {id: 1, type: general}
    - {id: 2, type: specialist}

wal:
  path: "./test.wal"
  buffer_size: 50
  sync_on_append: true

snapshot:
  path: "./test.snapshot.json"
  interval_seconds: 15
  backups: 2

refresh:
  workers: 8

metrics:
  enabled: false
  port: 8080

store:
  driver: sqlite3
  dsn: "file:planner.db"
`)

	cfg, err := loadConfig(path, "")
	require.NoError(t, err, "loadConfig should not return an error")

	assert.Equal(t, 7.5, cfg.Planner.WorkdayHours)
	assert.Equal(t, 90, cfg.Planner.LookaheadDays)
	assert.Equal(t, []types.Post{{ID: 1, Type: types.StageGeneral}, {ID: 2, Type: types.StageSpecialist}}, cfg.Planner.Posts)
	assert.Equal(t, "./test.wal", cfg.WAL.Path)
	assert.Equal(t, 50, cfg.WAL.BufferSize)
	assert.True(t, cfg.WAL.SyncOnAppend)
	assert.Equal(t, 15, cfg.Snapshot.IntervalSeconds)
	assert.Equal(t, 2, cfg.Snapshot.Backups)
	assert.Equal(t, 8, cfg.Refresh.Workers)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 8080, cfg.Metrics.Port)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)

	// 未設定的欄位保留預設值
	assert.Equal(t, 50051, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Refresh.IntervalSeconds)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, ""), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Len(t, cfg.Planner.Posts, 5)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := loadConfig("/nonexistent/config.yaml", "")

	assert.Error(t, err)
	assert.Nil(t, cfg, "Config should be nil on error")
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
planner:
  workday_hours: "not a number"
  invalid yaml structure
    broken indentation
`)

	cfg, err := loadConfig(path, "")

	assert.Error(t, err)
	assert.Nil(t, cfg, "Config should be nil on parse error")
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"zero workday", "planner:\n  workday_hours: 0\n", "WorkdayHours"},
		{"duplicate posts", "planner:\n  posts:\n    - {id: 1, type: general}\n    - {id: 1, type: specialist}\n", "Posts"},
		{"unknown post type", "planner:\n  posts:\n    - {id: 1, type: welding}\n", "Type"},
		{"bad log level", "log:\n  level: loud\n", "Level"},
		{"driver without dsn", "store:\n  driver: postgres\n", "DSN"},
		{"unknown driver", "store:\n  driver: oracle\n  dsn: x\n", "Driver"},
		{"port out of range", "server:\n  port: 70000\n", "Port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.content), "")
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), "invalid config")
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PLANNER_WAL_PATH", "/tmp/override.wal")
	t.Setenv("PLANNER_GRPC_PORT", "6000")
	t.Setenv("PLANNER_LOG_FORMAT", "json")

	cfg, err := loadConfig(writeConfig(t, "wal:\n  path: from-file.wal\n"), "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.wal", cfg.WAL.Path)
	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_InvalidEnvPort(t *testing.T) {
	t.Setenv("PLANNER_METRICS_PORT", "ninety")

	_, err := loadConfig(writeConfig(t, ""), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLANNER_METRICS_PORT")
}

func TestLoadConfig_EnvFile(t *testing.T) {
	_, preset := os.LookupEnv("PLANNER_STORE_PREFIX")
	require.False(t, preset, "PLANNER_STORE_PREFIX must not be set for this test")
	t.Cleanup(func() { os.Unsetenv("PLANNER_STORE_PREFIX") })

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PLANNER_STORE_PREFIX=plan_\n"), 0644))

	cfg, err := loadConfig(writeConfig(t, ""), envFile)
	require.NoError(t, err)
	assert.Equal(t, "plan_", cfg.Store.Prefix)

	// 不存在的 .env 不是錯誤
	_, err = loadConfig(writeConfig(t, ""), filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestControllerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Planner.WorkdayHours = 6
	cfg.WAL.FlushIntervalMs = 250
	cfg.Snapshot.IntervalSeconds = 30
	cfg.Refresh.TimeoutMs = 1500

	cc := cfg.controllerConfig(nil, nil)
	assert.Equal(t, cfg.WAL.Path, cc.WALPath)
	assert.Equal(t, cfg.Snapshot.Path, cc.SnapshotPath)
	assert.Equal(t, 6.0, cc.Planner.WorkdayHours)
	assert.Equal(t, cfg.Planner.Posts, cc.Planner.Posts)
	assert.Equal(t, 250*time.Millisecond, cc.WAL.FlushInterval)
	assert.Equal(t, 30*time.Second, cc.SnapshotInterval)
	assert.Equal(t, 1500*time.Millisecond, cc.ProjectionTimeout)
	assert.Equal(t, 4, cc.RefreshWorkers)
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger, closer := newLogger(cfg, &buf)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("visible", "order_id", "o-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "only the warn line should be written")
	assert.Equal(t, "visible", line["msg"])
	assert.Equal(t, "o-1", line["order_id"])
}

func TestNewLogger_File(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.File = filepath.Join(t.TempDir(), "logs", "planner.log")

	var buf bytes.Buffer
	logger, closer := newLogger(cfg, &buf)
	logger.Info("written twice")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.Log.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written twice")
	assert.Contains(t, buf.String(), "written twice")
}

func TestPrintStatus(t *testing.T) {
	cfg := DefaultConfig()

	var buf bytes.Buffer
	printStatus(&buf, "configs/default.yaml", cfg, nil)
	out := buf.String()
	assert.Contains(t, out, "configs/default.yaml")
	assert.Contains(t, out, "Server not reachable")
	assert.Contains(t, out, "http://localhost:9090/metrics")

	buf.Reset()
	live := &controller.Status{Started: true, Today: types.NewDate(2026, time.October, 18), Workers: 5, Posts: 6}
	live.Orders.InProgress = 2
	printStatus(&buf, "configs/default.yaml", cfg, live)
	out = buf.String()
	assert.Contains(t, out, "2026-10-18")
	assert.Contains(t, out, "2 in progress")
	assert.NotContains(t, out, "Server not reachable")
}

func TestParseDateFlag(t *testing.T) {
	d, err := parseDateFlag("2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, types.NewDate(2026, time.October, 18), d)

	d, err = parseDateFlag("")
	require.NoError(t, err)
	assert.Equal(t, types.Today(), d)

	_, err = parseDateFlag("18/10/2026")
	assert.Error(t, err)
}

func TestRunSystem_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stderr bytes.Buffer
	require.NoError(t, runSystem(ctx, cfg, &stderr))

	_, err := os.Stat(cfg.Snapshot.Path)
	assert.NoError(t, err, "graceful stop should leave a snapshot behind")
}

func TestExportState(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "sqlite3"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "export.db")
	cfg.Store.Prefix = "lp_"

	// 先以控制器寫入一些狀態
	ctrl, err := controller.NewController(cfg.controllerConfig(nil, nil))
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())
	workerID, err := ctrl.AddWorker("Ana", types.RoleSpecialist, 0)
	require.NoError(t, err)
	_, err = ctrl.Assign(ctrl.Today(), 3, workerID)
	require.NoError(t, err)
	require.NoError(t, ctrl.Stop())

	var stdout, stderr bytes.Buffer
	require.NoError(t, exportState(context.Background(), cfg, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "Exported 1 workers")

	store, err := sqlstore.Open(cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Prefix)
	require.NoError(t, err)
	defer store.Close()

	data, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, data.Workers, 1)
	assert.Equal(t, workerID, data.Workers[0].ID)
	require.Len(t, data.Assignments, 1)
	assert.Equal(t, types.PostID(3), data.Assignments[0].PostID)
	assert.Len(t, data.Posts, 5)
}

func TestExportState_RequiresDriver(t *testing.T) {
	cfg := testConfig(t)

	err := exportState(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestImportState(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "shared.db")

	// 來源：匯出一名員工與一筆排班
	src := testConfig(t)
	src.Store.Driver = "sqlite3"
	src.Store.DSN = dsn
	ctrl, err := controller.NewController(src.controllerConfig(nil, nil))
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())
	workerID, err := ctrl.AddWorker("Ana", types.RoleGeneral, 0)
	require.NoError(t, err)
	_, err = ctrl.Assign(ctrl.Today(), 1, workerID)
	require.NoError(t, err)
	require.NoError(t, ctrl.Stop())
	require.NoError(t, exportState(context.Background(), src, &bytes.Buffer{}, &bytes.Buffer{}))

	// 目標：另一個資料目錄，原本有不同的員工
	dst := testConfig(t)
	dst.Store = src.Store
	ctrl, err = controller.NewController(dst.controllerConfig(nil, nil))
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())
	_, err = ctrl.AddWorker("Bo", types.RoleSpecialist, 0)
	require.NoError(t, err)
	require.NoError(t, ctrl.Stop())

	var stdout bytes.Buffer
	require.NoError(t, importState(context.Background(), dst, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "Imported 1 workers")

	// 重新從磁碟恢復，內容必須是匯入的狀態
	ctrl, err = controller.NewController(dst.controllerConfig(nil, nil))
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	data := ctrl.State()
	require.Len(t, data.Workers, 1)
	assert.Equal(t, "Ana", data.Workers[0].Name)
	require.Len(t, data.Assignments, 1)
	assert.Equal(t, workerID, data.Assignments[0].WorkerID)
}

func TestImportState_RequiresDriver(t *testing.T) {
	cfg := testConfig(t)

	err := importState(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

// writeJournal 寫入兩筆事件後關閉
func writeJournal(t *testing.T, path string) {
	t.Helper()
	w, err := wal.NewWAL(path, wal.DefaultOptions())
	require.NoError(t, err)
	day := types.NewDate(2024, time.March, 4)
	_, err = w.Append(wal.EventAddWorker, day, map[string]string{"name": "Ana"}, true)
	require.NoError(t, err)
	_, err = w.Append(wal.EventAssign, day, map[string]int{"post": 1}, true)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestWALInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.wal")
	writeJournal(t, path)

	var out bytes.Buffer
	require.NoError(t, inspectWAL(path, false, &out))
	assert.Contains(t, out.String(), "Events:     2")
	assert.Contains(t, out.String(), "Seq Range:  1 - 2")
	assert.Contains(t, out.String(), "ADD_WORKER")
	assert.Contains(t, out.String(), "ASSIGN")
	assert.NotContains(t, out.String(), "[Seq:1]")

	out.Reset()
	require.NoError(t, inspectWAL(path, true, &out))
	assert.Contains(t, out.String(), "[Seq:1] ADD_WORKER today=2024-03-04")
	assert.Contains(t, out.String(), "[Seq:2] ASSIGN")
}

func TestWALCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.wal")
	writeJournal(t, path)

	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"wal", "validate", "--file", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "2 events")

	// 重複的內容讓序號倒退
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	broken := filepath.Join(t.TempDir(), "broken.wal")
	require.NoError(t, os.WriteFile(broken, append(raw, raw...), 0644))

	cmd = BuildCLI()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"wal", "validate", "--file", broken})
	err = cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, wal.ErrSeqOutOfOrder)
}
