// ============================================================================
// 排程上下文 - 名冊、型號、工位、排班表與產能計算的單一擁有者
// ============================================================================
//
// Package: internal/planner
// 文件: context.go
// 功能: 組合各核心元件，以單一讀寫鎖保護，對外提供一致的操作介面
//
// 職責說明:
//   1. 跨元件的檢查（移除員工/工位時的未來排班檢查）
//   2. 營運日（Clock）的來源；每個變更操作都有 ...AsOf 版本，
//      讓日誌重放時可以使用變更當時的營運日
//   3. 產能查詢與完工推估所需的連續產量序列
//
// 並發安全:
//   - 變更操作使用寫鎖
//   - 查詢與產量序列使用讀鎖，且在單一讀鎖內完成，
//     保證推估時看到一致的狀態
//
// ============================================================================

package planner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ChuLiYu/line-planner/internal/calendar"
	"github.com/ChuLiYu/line-planner/internal/capacity"
	"github.com/ChuLiYu/line-planner/internal/posts"
	"github.com/ChuLiYu/line-planner/internal/process"
	"github.com/ChuLiYu/line-planner/internal/roster"
	"github.com/ChuLiYu/line-planner/pkg/types"
)

// Clock 回傳目前的營運日
type Clock func() types.Date

// Options 上下文設定
type Options struct {
	WorkdayHours  float64      // 標準工作日長度（小時）
	LookaheadDays int          // 完工推估的最大天數
	Posts         []types.Post // 工位配置
	Clock         Clock        // 營運日來源，nil 時使用本地今天
}

// DefaultOptions 預設設定：8 小時工作日、推估一年、預設工位配置
func DefaultOptions() Options {
	return Options{
		WorkdayHours:  8,
		LookaheadDays: 365,
		Posts:         posts.DefaultLayout(),
		Clock:         types.Today,
	}
}

// Context 排程上下文
type Context struct {
	mu        sync.RWMutex
	clock     Clock
	lookahead int
	calc      capacity.Calculator
	roster    *roster.Roster
	catalog   *process.Catalog
	registry  *posts.Registry
	calendar  *calendar.Calendar
}

// New 建立排程上下文
func New(opts Options) (*Context, error) {
	def := DefaultOptions()
	if opts.WorkdayHours <= 0 {
		opts.WorkdayHours = def.WorkdayHours
	}
	if opts.LookaheadDays <= 0 {
		opts.LookaheadDays = def.LookaheadDays
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}

	registry, err := posts.New(opts.Posts)
	if err != nil {
		return nil, fmt.Errorf("post layout: %w", err)
	}
	r := roster.New()

	return &Context{
		clock:     opts.Clock,
		lookahead: opts.LookaheadDays,
		calc:      capacity.NewCalculator(opts.WorkdayHours),
		roster:    r,
		catalog:   process.NewCatalog(),
		registry:  registry,
		calendar:  calendar.New(r, registry),
	}, nil
}

// ============================================================================
// 營運日與設定
// ============================================================================

// Today 目前的營運日
func (c *Context) Today() types.Date {
	c.mu.RLock()
	clock := c.clock
	c.mu.RUnlock()
	return clock()
}

// SetClock 替換營運日來源（測試與模擬使用）
func (c *Context) SetClock(clock Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// WorkdayHours 標準工作日長度
func (c *Context) WorkdayHours() float64 {
	return c.calc.WorkdayHours
}

// LookaheadDays 完工推估的最大天數
func (c *Context) LookaheadDays() int {
	return c.lookahead
}

// ============================================================================
// 員工
// ============================================================================

// AddWorker 新增員工，回傳新產生的 ID
func (c *Context) AddWorker(name string, role types.Role, hoursPerDay float64) (types.WorkerID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster.Add(name, role, hoursPerDay)
}

// PutWorker 以既有 ID 新增員工
func (c *Context) PutWorker(w types.Worker) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster.Put(w)
}

// RemoveWorker 以目前營運日移除員工
func (c *Context) RemoveWorker(id types.WorkerID, cascade bool) ([]types.Assignment, error) {
	return c.RemoveWorkerAsOf(c.Today(), id, cascade)
}

// RemoveWorkerAsOf 移除員工
//
// 參數：
//   - today: 營運日，此日（含）之後的排班視為未來排班
//   - cascade: 為 true 時一併清除未來排班；否則有未來排班即拒絕
//
// 返回值：
//   - []types.Assignment: 被清除的排班（依日期排序）
//
// 錯誤處理：
//   - ErrUnknownWorker: 員工不存在
//   - ErrHasFutureAssignment: 有未來排班且未指定 cascade
func (c *Context) RemoveWorkerAsOf(today types.Date, id types.WorkerID, cascade bool) ([]types.Assignment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.roster.Worker(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownWorker, id)
	}
	future := c.calendar.ForWorker(id, today)
	if len(future) > 0 && !cascade {
		return nil, fmt.Errorf("%w: %s has %d assignment(s) from %s",
			types.ErrHasFutureAssignment, w.Name, len(future), future[0].Date)
	}

	var cleared []types.Assignment
	if cascade {
		cleared = c.calendar.ClearWorker(id, today)
	}
	if err := c.roster.Remove(id); err != nil {
		return nil, err
	}
	return cleared, nil
}

// Worker 查詢員工
func (c *Context) Worker(id types.WorkerID) (types.Worker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roster.Worker(id)
}

// WorkerByName 依名稱查詢員工
func (c *Context) WorkerByName(name string) (types.Worker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roster.Lookup(name)
}

// Workers 依名稱排序的所有員工
func (c *Context) Workers() []types.Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roster.Workers()
}

// ============================================================================
// 型號
// ============================================================================

// CreateModel 建立型號；工序類型必須已在工位登記表內
func (c *Context) CreateModel(name types.ModelID, stages []types.Stage) (types.ModelID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog.Create(name, stages, c.registry)
}

// Model 查詢型號
func (c *Context) Model(id types.ModelID) (types.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog.Model(id)
}

// HasModel 型號是否存在
func (c *Context) HasModel(id types.ModelID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog.Has(id)
}

// Models 所有型號
func (c *Context) Models() []types.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog.Models()
}

// ============================================================================
// 工位
// ============================================================================

// AddPost 新增工位
func (c *Context) AddPost(p types.Post) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Add(p)
}

// RemovePost 以目前營運日移除工位
func (c *Context) RemovePost(id types.PostID) error {
	return c.RemovePostAsOf(c.Today(), id)
}

// RemovePostAsOf 移除工位；此日（含）之後仍有排班時拒絕
func (c *Context) RemovePostAsOf(today types.Date, id types.PostID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.registry.Post(id); !ok {
		return fmt.Errorf("%w: %d", types.ErrUnknownPost, id)
	}
	if future := c.calendar.ForPost(id, today); len(future) > 0 {
		return fmt.Errorf("%w: post %d has %d assignment(s) from %s",
			types.ErrHasFutureAssignment, id, len(future), future[0].Date)
	}
	return c.registry.Remove(id)
}

// Posts 依編號排序的所有工位
func (c *Context) Posts() []types.Post {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.Posts()
}

// ============================================================================
// 排班
// ============================================================================

// Assign 以目前營運日排班
func (c *Context) Assign(date types.Date, postID types.PostID, workerID types.WorkerID) (types.WorkerID, bool, error) {
	return c.AssignAsOf(c.Today(), date, postID, workerID)
}

// AssignAsOf 排班，回傳被取代的員工
func (c *Context) AssignAsOf(today, date types.Date, postID types.PostID, workerID types.WorkerID) (types.WorkerID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calendar.Assign(today, date, postID, workerID)
}

// Unassign 以目前營運日清空工位
func (c *Context) Unassign(date types.Date, postID types.PostID) (types.WorkerID, bool, error) {
	return c.UnassignAsOf(c.Today(), date, postID)
}

// UnassignAsOf 清空某日某工位
func (c *Context) UnassignAsOf(today, date types.Date, postID types.PostID) (types.WorkerID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calendar.Unassign(today, date, postID)
}

// AssignmentsFor 某日的排班（拷貝）
func (c *Context) AssignmentsFor(date types.Date) map[types.PostID]types.WorkerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calendar.AssignmentsFor(date)
}

// Assignments 從 from（含）起的所有排班
func (c *Context) Assignments(from types.Date) []types.Assignment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all := c.calendar.All()
	i := sort.Search(len(all), func(i int) bool { return !all[i].Date.Before(from) })
	return all[i:]
}

// ============================================================================
// 產能
// ============================================================================

// CapacityFor 某型號在某日依當日排班的每日產量
func (c *Context) CapacityFor(modelID types.ModelID, date types.Date) (capacity.Breakdown, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	model, ok := c.catalog.Model(modelID)
	if !ok {
		return capacity.Breakdown{}, fmt.Errorf("%w: %q", types.ErrUnknownModel, modelID)
	}
	return c.calc.Compute(model, date, c.staffed(c.calendar.AssignmentsFor(date))), nil
}

// CapacitySeries 從 from 起連續 days 天的產量
//
// 最後排定日期之後的日子沿用最後排定日期的排班。
// 整個序列在單一讀鎖內計算。
func (c *Context) CapacitySeries(modelID types.ModelID, from types.Date, days int) (capacity.Series, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	model, ok := c.catalog.Model(modelID)
	if !ok {
		return capacity.Series{}, fmt.Errorf("%w: %q", types.ErrUnknownModel, modelID)
	}
	if days < 0 {
		days = 0
	}

	series := capacity.Series{From: from, Daily: make([]float64, days)}
	for i := range series.Daily {
		date := from.AddDays(i)
		series.Daily[i] = c.calc.Compute(model, date, c.staffed(c.calendar.EffectiveAssignments(date))).Units
	}

	last, planned := c.calendar.LastPlanned()
	switch {
	case !planned:
		series.Steady = true
	case !series.End().Before(last):
		series.Steady = true
		series.Tail = c.calc.Compute(model, last, c.staffed(c.calendar.AssignmentsFor(last))).Units
	}
	return series, nil
}

// staffed 將排班轉為產能計算的輸入；已移除的員工或工位略過
func (c *Context) staffed(assignments map[types.PostID]types.WorkerID) []capacity.Staffed {
	out := make([]capacity.Staffed, 0, len(assignments))
	for postID, workerID := range assignments {
		post, ok := c.registry.Post(postID)
		if !ok {
			continue
		}
		worker, ok := c.roster.Worker(workerID)
		if !ok {
			continue
		}
		out = append(out, capacity.Staffed{Post: post, Worker: worker})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Post.ID < out[j].Post.ID })
	return out
}

// ============================================================================
// 快照支持
// ============================================================================

// Snapshot 將排程狀態寫入快照資料
func (c *Context) Snapshot(data *types.SnapshotData) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data.Workers = c.roster.Workers()
	data.Models = c.catalog.Models()
	data.Posts = c.registry.Posts()
	data.Assignments = c.calendar.All()
}

// Restore 以快照資料重建排程狀態，取代目前所有內容
func (c *Context) Restore(data types.SnapshotData) error {
	registry, err := posts.New(data.Posts)
	if err != nil {
		return fmt.Errorf("restore posts: %w", err)
	}
	r := roster.New()
	for _, w := range data.Workers {
		if err := r.Put(w); err != nil {
			return fmt.Errorf("restore worker %s: %w", w.ID, err)
		}
	}
	catalog := process.NewCatalog()
	for _, m := range data.Models {
		catalog.Put(m)
	}
	cal := calendar.New(r, registry)
	for _, a := range data.Assignments {
		cal.Put(a)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster, c.catalog, c.registry, c.calendar = r, catalog, registry, cal
	return nil
}
