package controller

// ============================================================================
// Controller - 產線排程系統的核心協調器
// ============================================================================
//
// 職責：
//   1. 串接規劃核心（planner.Context）與訂單追蹤（ordertracker.Tracker）
//   2. 所有變更先套用、成功後寫入 WAL（強制落盤），保證日誌順序等於套用順序
//   3. 啟動時從快照 + WAL 重放恢復狀態
//   4. 定期以 refresh pool 並發刷新未完成訂單的完工推估
//   5. 定期建立快照並旋轉 WAL
//
// 鎖順序：
//   c.mu（串行化變更與快照）→ planner / tracker 各自的鎖
//   讀取操作不經過 c.mu，直接交給 planner / tracker
//
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/line-planner/internal/capacity"
	"github.com/ChuLiYu/line-planner/internal/metrics"
	"github.com/ChuLiYu/line-planner/internal/ordertracker"
	"github.com/ChuLiYu/line-planner/internal/planner"
	"github.com/ChuLiYu/line-planner/internal/refresh"
	"github.com/ChuLiYu/line-planner/internal/snapshot"
	"github.com/ChuLiYu/line-planner/internal/storage/wal"
	"github.com/ChuLiYu/line-planner/pkg/types"
	"github.com/google/uuid"
)

var (
	// ErrNotStarted Controller 尚未完成恢復
	ErrNotStarted = errors.New("controller not started")
	// ErrStopped Controller 已停止
	ErrStopped = errors.New("controller stopped")
)

// Config Controller 設定
type Config struct {
	WALPath           string
	SnapshotPath      string
	WAL               wal.Options
	SnapshotInterval  time.Duration // 0 表示不定期建立快照
	SnapshotBackups   int           // 保留的舊快照數量
	RefreshInterval   time.Duration // 0 表示不定期刷新推估
	RefreshWorkers    int
	ProjectionTimeout time.Duration
	Planner           planner.Options
	Logger            *slog.Logger
	Metrics           *metrics.Collector // 可為 nil
}

// DefaultConfig 返回預設設定
func DefaultConfig() Config {
	return Config{
		WALPath:           "data/planner.wal",
		SnapshotPath:      "data/planner.snapshot.json",
		WAL:               wal.DefaultOptions(),
		SnapshotInterval:  5 * time.Minute,
		SnapshotBackups:   3,
		RefreshInterval:   time.Minute,
		RefreshWorkers:    4,
		ProjectionTimeout: 5 * time.Second,
		Planner:           planner.DefaultOptions(),
	}
}

// Status 執行狀態
type Status struct {
	Started     bool               `json:"started"`
	Today       types.Date         `json:"today"`
	Uptime      string             `json:"uptime"`
	LastSeq     uint64             `json:"last_seq"`
	Workers     int                `json:"workers"`
	Models      int                `json:"models"`
	Posts       int                `json:"posts"`
	Assignments int                `json:"assignments"`
	Orders      ordertracker.Stats `json:"orders"`
	Refresh     RefreshReport      `json:"last_refresh"`
}

// RefreshReport 一輪推估刷新的結果
type RefreshReport struct {
	AsOf      types.Date    `json:"as_of"`
	Refreshed int           `json:"refreshed"`
	Unknown   int           `json:"unknown"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Controller 協調規劃核心、訂單追蹤、WAL 與快照
type Controller struct {
	mu         sync.Mutex
	refreshMu  sync.Mutex
	refreshRun uint64 // 受 refreshMu 保護

	planner  *planner.Context
	tracker  *ordertracker.Tracker
	wal      *wal.WAL
	snapshot *snapshot.Manager
	pool     *refresh.Pool
	metrics  *metrics.Collector
	log      *slog.Logger
	config   Config

	started     bool
	stopped     bool
	stopCh      chan struct{}
	loopWg      sync.WaitGroup
	startTime   time.Time
	lastRefresh RefreshReport
}

// NewController 建立 Controller，尚未恢復狀態
//
// 參數：
//   - config: 設定，未填欄位使用預設值
//
// 錯誤處理：
//   - 工位配置不合法或 WAL 無法開啟時返回錯誤
func NewController(config Config) (*Controller, error) {
	def := DefaultConfig()
	if config.WALPath == "" {
		config.WALPath = def.WALPath
	}
	if config.SnapshotPath == "" {
		config.SnapshotPath = def.SnapshotPath
	}
	if config.RefreshWorkers <= 0 {
		config.RefreshWorkers = def.RefreshWorkers
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, err := planner.New(config.Planner)
	if err != nil {
		return nil, err
	}

	w, err := wal.NewWAL(config.WALPath, config.WAL)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	return &Controller{
		planner:  ctx,
		tracker:  ordertracker.New(ctx),
		wal:      w,
		snapshot: snapshot.NewManager(config.SnapshotPath),
		pool:     refresh.NewPool(config.RefreshWorkers * 4),
		metrics:  config.Metrics,
		log:      config.Logger,
		config:   config,
		stopCh:   make(chan struct{}),
	}, nil
}

// ============================================================================
// 啟動與恢復
// ============================================================================

// Start 恢復狀態並啟動背景迴圈
//
// 恢復流程：
//  1. 載入快照（若存在）
//  2. 重放序號大於快照 LastSeq 的 WAL 事件，以事件記錄的營運日套用
//  3. 啟動 refresh pool 並刷新所有未完成訂單的推估
//  4. 啟動刷新與快照迴圈
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}

	begin := time.Now()
	c.log.Info("Starting recovery", "wal", c.config.WALPath, "snapshot", c.config.SnapshotPath)

	lastSeq, err := c.loadSnapshot()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	replayed, err := c.replayWAL(lastSeq)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if err := c.pool.Start(c.config.RefreshWorkers, refresh.ProjectorFunc(c.project)); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("start refresh pool: %w", err)
	}

	c.started = true
	c.startTime = time.Now()
	c.mu.Unlock()

	report, err := c.RefreshProjections(context.Background())
	if err != nil {
		c.log.Warn("Initial projection refresh failed", "error", err)
	}

	elapsed := time.Since(begin)
	if c.metrics != nil {
		c.metrics.SetRecoveryTime(elapsed)
	}
	c.log.Info("Recovery completed",
		"snapshot_seq", lastSeq,
		"replayed", replayed,
		"orders", report.Refreshed,
		"duration", elapsed)

	if c.config.RefreshInterval > 0 {
		c.loopWg.Add(1)
		go c.refreshLoop()
	}
	if c.config.SnapshotInterval > 0 {
		c.loopWg.Add(1)
		go c.snapshotLoop()
	}
	return nil
}

// loadSnapshot 載入快照，返回快照涵蓋的最後序號
func (c *Controller) loadSnapshot() (uint64, error) {
	if !c.snapshot.Exists() {
		c.log.Info("No snapshot found, starting from configured layout")
		return 0, nil
	}

	data, err := c.snapshot.Load()
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	if err := c.planner.Restore(data); err != nil {
		return 0, fmt.Errorf("restore planner: %w", err)
	}
	if err := c.tracker.Restore(data.Orders); err != nil {
		return 0, fmt.Errorf("restore orders: %w", err)
	}
	c.wal.EnsureSeq(data.LastSeq)

	c.log.Info("Snapshot loaded",
		"last_seq", data.LastSeq,
		"workers", len(data.Workers),
		"models", len(data.Models),
		"posts", len(data.Posts),
		"orders", len(data.Orders))
	return data.LastSeq, nil
}

// replayWAL 重放快照之後的事件
func (c *Controller) replayWAL(afterSeq uint64) (int, error) {
	replayed := 0
	err := c.wal.Replay(func(event wal.Event) error {
		if event.Seq <= afterSeq {
			return nil
		}
		cmd, err := decodeCommand(event)
		if err != nil {
			return err
		}
		if _, err := c.apply(event.Today, cmd); err != nil {
			return fmt.Errorf("replay %s at seq=%d: %w", event.Type, event.Seq, err)
		}
		replayed++
		return nil
	})
	if err != nil {
		return replayed, fmt.Errorf("replay wal: %w", err)
	}
	return replayed, nil
}

// ============================================================================
// 變更管線
// ============================================================================

// execute 套用指令並寫入 WAL
//
// 驗證失敗的指令不會寫入日誌。套用成功但寫入失敗時，
// 記憶體狀態已改變，錯誤仍返回給呼叫端。
func (c *Controller) execute(cmd Command) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, ErrStopped
	}
	if !c.started {
		return nil, ErrNotStarted
	}

	today := c.planner.Today()
	result, err := c.apply(today, cmd)
	c.recordMutation(cmd, result, err)
	if err != nil {
		return result, err
	}

	if _, err := c.wal.Append(cmd.EventType(), today, cmd, true); err != nil {
		c.log.Error("Failed to journal mutation", "type", cmd.EventType(), "error", err)
		return result, fmt.Errorf("journal %s: %w", cmd.EventType(), err)
	}
	return result, nil
}

func (c *Controller) recordMutation(cmd Command, result any, err error) {
	if c.metrics == nil {
		return
	}
	kind := types.KindOf(err)
	if err != nil && kind == "" {
		kind = "Internal"
	}
	c.metrics.RecordMutation(string(cmd.EventType()), kind)
	if err != nil {
		return
	}

	switch cmd.(type) {
	case AssignCmd:
		if r, ok := result.(AssignResult); ok && r.Replaced {
			c.metrics.RecordReplaced()
		}
	case CreateOrderCmd:
		c.metrics.RecordOrderCreated()
	case RecordProgressCmd:
		status, _ := result.(types.OrderStatus)
		c.metrics.RecordProgress(status == types.OrderCompleted)
	}
}

// AddWorker 新增員工
func (c *Controller) AddWorker(name string, role types.Role, hoursPerDay float64) (types.WorkerID, error) {
	cmd := AddWorkerCmd{ID: types.WorkerID(uuid.NewString()), Name: name, Role: role, HoursPerDay: hoursPerDay}
	if _, err := c.execute(cmd); err != nil {
		return "", err
	}
	return cmd.ID, nil
}

// RemoveWorker 移除員工，cascade 時一併清除其今日起的排班
func (c *Controller) RemoveWorker(id types.WorkerID, cascade bool) ([]types.Assignment, error) {
	result, err := c.execute(RemoveWorkerCmd{ID: id, Cascade: cascade})
	cleared, _ := result.([]types.Assignment)
	return cleared, err
}

// CreateModel 建立型號
func (c *Controller) CreateModel(name types.ModelID, stages []types.Stage) (types.ModelID, error) {
	if _, err := c.execute(CreateModelCmd{Name: name, Stages: stages}); err != nil {
		return "", err
	}
	return name, nil
}

// AddPost 新增工位
func (c *Controller) AddPost(post types.Post) error {
	_, err := c.execute(AddPostCmd{Post: post})
	return err
}

// RemovePost 移除工位
func (c *Controller) RemovePost(id types.PostID) error {
	_, err := c.execute(RemovePostCmd{ID: id})
	return err
}

// Assign 指派員工到某日某工位，返回被取代的員工
func (c *Controller) Assign(date types.Date, postID types.PostID, workerID types.WorkerID) (AssignResult, error) {
	result, err := c.execute(AssignCmd{Date: date, PostID: postID, WorkerID: workerID})
	r, _ := result.(AssignResult)
	return r, err
}

// Unassign 清空某日某工位，返回原本的員工
func (c *Controller) Unassign(date types.Date, postID types.PostID) (types.WorkerID, error) {
	result, err := c.execute(UnassignCmd{Date: date, PostID: postID})
	prev, _ := result.(types.WorkerID)
	return prev, err
}

// CreateOrder 建立訂單，建立日為今日
func (c *Controller) CreateOrder(model types.ModelID, quantity int) (types.OrderID, error) {
	return c.CreateOrderOn(model, quantity, c.planner.Today())
}

// CreateOrderOn 以指定建立日建立訂單
func (c *Controller) CreateOrderOn(model types.ModelID, quantity int, createdOn types.Date) (types.OrderID, error) {
	cmd := CreateOrderCmd{
		ID:        types.OrderID(uuid.NewString()),
		Model:     model,
		Quantity:  quantity,
		CreatedOn: createdOn,
	}
	if _, err := c.execute(cmd); err != nil {
		return "", err
	}
	return cmd.ID, nil
}

// RecordProgress 紀錄訂單某日完成數量並刷新其推估
func (c *Controller) RecordProgress(id types.OrderID, date types.Date, units int) (types.OrderStatus, error) {
	result, err := c.execute(RecordProgressCmd{OrderID: id, Date: date, Units: units})
	if err != nil {
		return "", err
	}
	if _, err := c.tracker.Refresh(id, c.planner.Today()); err != nil {
		c.log.Warn("Projection refresh failed", "order", id, "error", err)
	}
	status, _ := result.(types.OrderStatus)
	return status, nil
}

// ============================================================================
// 查詢
// ============================================================================

// Planner 返回規劃核心（唯讀使用）
func (c *Controller) Planner() *planner.Context {
	return c.planner
}

// Tracker 返回訂單追蹤器（唯讀使用）
func (c *Controller) Tracker() *ordertracker.Tracker {
	return c.tracker
}

// Today 返回目前營運日
func (c *Controller) Today() types.Date {
	return c.planner.Today()
}

// CapacityFor 計算型號某日產能並更新產能指標
func (c *Controller) CapacityFor(model types.ModelID, date types.Date) (capacity.Breakdown, error) {
	breakdown, err := c.planner.CapacityFor(model, date)
	if err != nil {
		return breakdown, err
	}
	if c.metrics != nil {
		c.metrics.SetCapacity(string(model), breakdown.Units)
	}
	return breakdown, nil
}

// ProjectedCompletion 以今日為基準推估訂單完工日
func (c *Controller) ProjectedCompletion(id types.OrderID) (types.Projection, error) {
	start := time.Now()
	projection, err := c.tracker.Refresh(id, c.planner.Today())
	if c.metrics != nil && err == nil {
		c.metrics.ObserveProjection(time.Since(start))
	}
	return projection, err
}

// Summary 返回訂單摘要
func (c *Controller) Summary(id types.OrderID) (types.OrderSummary, error) {
	return c.tracker.Summary(id, c.planner.Today())
}

// Status 返回執行狀態
func (c *Controller) Status() Status {
	c.mu.Lock()
	started := c.started
	uptime := time.Duration(0)
	if started {
		uptime = time.Since(c.startTime)
	}
	c.mu.Unlock()

	c.refreshMu.Lock()
	last := c.lastRefresh
	c.refreshMu.Unlock()

	today := c.planner.Today()
	return Status{
		Started:     started,
		Today:       today,
		Uptime:      uptime.Round(time.Second).String(),
		LastSeq:     c.wal.GetLastSeq(),
		Workers:     len(c.planner.Workers()),
		Models:      len(c.planner.Models()),
		Posts:       len(c.planner.Posts()),
		Assignments: len(c.planner.Assignments(today)),
		Orders:      c.tracker.Stats(),
		Refresh:     last,
	}
}

// ============================================================================
// 推估刷新
// ============================================================================

// project 是 refresh pool 使用的推估函式
func (c *Controller) project(ctx context.Context, id types.OrderID, asOf types.Date) (types.Projection, error) {
	if err := ctx.Err(); err != nil {
		return types.Projection{}, err
	}
	return c.tracker.ProjectedCompletionDate(id, asOf)
}

// RefreshProjections 並發刷新所有未完成訂單的推估
//
// 提交與收集分開進行，避免任務數超過通道緩衝時互相阻塞。
// 每一輪有自己的輪次編號；被取消的前一輪遺留在 pool 中的結果會被丟棄。
func (c *Controller) RefreshProjections(ctx context.Context) (RefreshReport, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.refreshRun++
	run := c.refreshRun

	begin := time.Now()
	asOf := c.planner.Today()
	open := c.tracker.Open()
	report := RefreshReport{AsOf: asOf}

	submitCtx, cancelSubmit := context.WithCancel(ctx)
	defer cancelSubmit()
	go func() {
		for _, id := range open {
			task := refresh.Task{Run: run, OrderID: id, AsOf: asOf, Timeout: c.config.ProjectionTimeout}
			if err := c.pool.SubmitContext(submitCtx, task); err != nil {
				return
			}
		}
	}()

	for received := 0; received < len(open); {
		result, err := c.pool.ReceiveResultContext(ctx)
		if err != nil {
			report.Duration = time.Since(begin)
			return report, err
		}
		if result.Run != run {
			continue
		}
		received++
		if result.Err != nil {
			report.Failed++
			c.log.Debug("Projection failed", "order", result.OrderID, "error", result.Err)
			continue
		}
		c.tracker.Store(result.OrderID, result.Projection)
		report.Refreshed++
		if !result.Projection.Known {
			report.Unknown++
		}
		if c.metrics != nil {
			c.metrics.ObserveProjection(result.Duration)
		}
	}

	report.Duration = time.Since(begin)
	c.lastRefresh = report
	if c.metrics != nil {
		c.metrics.UpdateOrderStats(len(open), report.Unknown)
	}
	return report, nil
}

// refreshLoop 定期刷新推估
func (c *Controller) refreshLoop() {
	defer c.loopWg.Done()

	ticker := time.NewTicker(c.config.RefreshInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopCh
		cancel()
	}()

	for {
		select {
		case <-c.stopCh:
			c.log.Info("Refresh loop stopped")
			return
		case <-ticker.C:
			report, err := c.RefreshProjections(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, refresh.ErrPoolClosed) {
					c.log.Warn("Projection refresh failed", "error", err)
				}
				continue
			}
			c.log.Debug("Projections refreshed",
				"orders", report.Refreshed,
				"unknown", report.Unknown,
				"duration", report.Duration)
		}
	}
}

// ============================================================================
// 快照
// ============================================================================

// snapshotLoop 定期建立快照
func (c *Controller) snapshotLoop() {
	defer c.loopWg.Done()

	ticker := time.NewTicker(c.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.log.Info("Snapshot loop stopped")
			return
		case <-ticker.C:
			if err := c.TakeSnapshot(); err != nil {
				c.log.Error("Failed to take snapshot", "error", err)
			}
		}
	}
}

// TakeSnapshot 建立快照並旋轉 WAL
//
// 全程持有 c.mu：快照涵蓋的序號之後不會有事件在旋轉時遺失。
func (c *Controller) TakeSnapshot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeSnapshotLocked()
}

// Import 以外部狀態（例如 SQL store 的內容）取代目前全部狀態
//
// 匯入後立即建立快照並輪替 WAL，匯入前的日誌事件不會再被重放。
// 序號只增不減：data.LastSeq 小於目前序號時沿用目前序號。
//
// 錯誤處理：
//   - ErrNotStarted / ErrStopped: 控制器不在執行中
//   - 資料無效時返回錯誤，原狀態不變
func (c *Controller) Import(data types.SnapshotData) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if !c.started {
		return ErrNotStarted
	}

	previous := c.stateLocked()
	if err := c.planner.Restore(data); err != nil {
		return fmt.Errorf("import planner state: %w", err)
	}
	if err := c.tracker.Restore(data.Orders); err != nil {
		if rbErr := c.planner.Restore(previous); rbErr != nil {
			c.log.Error("Failed to roll back planner state", "error", rbErr)
		}
		if rbErr := c.tracker.Restore(previous.Orders); rbErr != nil {
			c.log.Error("Failed to roll back orders", "error", rbErr)
		}
		return fmt.Errorf("import orders: %w", err)
	}
	c.wal.EnsureSeq(data.LastSeq)

	c.log.Info("State imported",
		"last_seq", data.LastSeq,
		"workers", len(data.Workers),
		"models", len(data.Models),
		"orders", len(data.Orders))
	return c.takeSnapshotLocked()
}

// State 返回目前完整狀態，LastSeq 為最後寫入日誌的序號
func (c *Controller) State() types.SnapshotData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() types.SnapshotData {
	data := types.SnapshotData{SchemaVer: snapshot.SchemaVersion, LastSeq: c.wal.GetLastSeq()}
	c.planner.Snapshot(&data)
	data.Orders = c.tracker.Snapshot()
	return data
}

func (c *Controller) takeSnapshotLocked() error {
	if err := c.wal.Flush(); err != nil {
		return fmt.Errorf("flush wal: %w", err)
	}

	data := c.stateLocked()
	if err := c.snapshot.WriteWithBackup(data, c.config.SnapshotBackups); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := c.wal.Rotate(); err != nil {
		return fmt.Errorf("rotate wal: %w", err)
	}

	c.log.Info("Snapshot taken",
		"last_seq", data.LastSeq,
		"workers", len(data.Workers),
		"assignments", len(data.Assignments),
		"orders", len(data.Orders))
	return nil
}

// ============================================================================
// 停止
// ============================================================================

// Stop 停止背景迴圈，建立最後一次快照並關閉 WAL
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	c.log.Info("Stopping controller")
	close(c.stopCh)
	c.loopWg.Wait()
	c.pool.Stop()

	var snapErr error
	if started {
		c.mu.Lock()
		snapErr = c.takeSnapshotLocked()
		c.mu.Unlock()
		if snapErr != nil {
			c.log.Error("Failed to take final snapshot", "error", snapErr)
		}
	}

	if err := c.wal.Close(); err != nil {
		return errors.Join(snapErr, fmt.Errorf("close wal: %w", err))
	}
	c.log.Info("Controller stopped")
	return snapErr
}
