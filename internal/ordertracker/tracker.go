// ============================================================================
// 訂單追蹤器 - 訂單狀態機與完工日推估
// ============================================================================
//
// Package: internal/ordertracker
// 文件: tracker.go
// 功能: 管理生產訂單、每日進度紀錄與預估完工日
//
// 訂單狀態轉換 (State Machine):
//   Created (已建立)
//      ↓ 第一筆 RecordDailyProgress()
//   InProgress (生產中)
//      ↓ 累計完成數量 == 訂單數量
//   Completed (已完成，終態)
//
// 數據結構設計:
//   orders map[OrderID]*Order - 主存儲，單一真實來源
//   輔助索引（依狀態快速篩選）:
//   - created / inProgress / completed map
//
// 進度紀錄:
//   每個日期最多一筆；同日期再次紀錄會取代舊值（冪等），
//   累計完成數量永遠等於各日最新數值的總和。
//
// 並發安全:
//   - 使用 sync.RWMutex 保護訂單
//   - 推估時先向排程上下文取得產量序列，再取自身的鎖，兩把鎖不巢狀
//
// ============================================================================

package ordertracker

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ChuLiYu/line-planner/internal/capacity"
	"github.com/ChuLiYu/line-planner/pkg/types"
	"github.com/google/uuid"
)

// epsilon 浮點累加的比較容差
const epsilon = 1e-9

// Planner 訂單追蹤器需要的排程上下文唯讀介面
type Planner interface {
	HasModel(id types.ModelID) bool
	CapacitySeries(model types.ModelID, from types.Date, days int) (capacity.Series, error)
	LookaheadDays() int
}

// Tracker 訂單追蹤器
type Tracker struct {
	mu         sync.RWMutex
	orders     map[types.OrderID]*types.Order
	created    map[types.OrderID]*types.Order
	inProgress map[types.OrderID]*types.Order
	completed  map[types.OrderID]*types.Order
	planner    Planner
}

// Stats 各狀態的訂單數量
type Stats struct {
	Created    int `json:"created"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

// New 建立訂單追蹤器
func New(planner Planner) *Tracker {
	return &Tracker{
		orders:     make(map[types.OrderID]*types.Order),
		created:    make(map[types.OrderID]*types.Order),
		inProgress: make(map[types.OrderID]*types.Order),
		completed:  make(map[types.OrderID]*types.Order),
		planner:    planner,
	}
}

// CreateOrder 建立訂單，回傳新產生的 ID
//
// 錯誤處理（依檢查順序）：
//   - ErrInvalidQuantity: 數量 <= 0
//   - ErrUnknownModel: 型號不存在
func (t *Tracker) CreateOrder(model types.ModelID, quantity int, createdOn types.Date) (types.OrderID, error) {
	id := types.OrderID(uuid.NewString())
	if err := t.CreateOrderWithID(id, model, quantity, createdOn); err != nil {
		return "", err
	}
	return id, nil
}

// CreateOrderWithID 以既有 ID 建立訂單（日誌重放使用）
func (t *Tracker) CreateOrderWithID(id types.OrderID, model types.ModelID, quantity int, createdOn types.Date) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: %d", types.ErrInvalidQuantity, quantity)
	}
	if !t.planner.HasModel(model) {
		return fmt.Errorf("%w: %q", types.ErrUnknownModel, model)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.orders[id]; exists {
		return fmt.Errorf("%w: order %s", types.ErrDuplicateName, id)
	}
	order := &types.Order{
		ID:        id,
		Model:     model,
		Quantity:  quantity,
		CreatedOn: createdOn,
		Status:    types.OrderCreated,
		Progress:  []types.ProgressEntry{},
	}
	t.orders[id] = order
	t.created[id] = order
	return nil
}

// RecordDailyProgress 紀錄某日完成數量，同日期取代舊值
//
// 返回值：
//   - types.OrderStatus: 紀錄後的訂單狀態
//
// 錯誤處理（依檢查順序，失敗時進度不變）：
//   - ErrUnknownOrder: 訂單不存在
//   - ErrAlreadyComplete: 訂單已完成
//   - ErrNegativeUnits: 數量為負
//   - ErrExceedsQuantity: 紀錄後累計超過訂單數量
func (t *Tracker) RecordDailyProgress(id types.OrderID, date types.Date, units int) (types.OrderStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	order, exists := t.orders[id]
	if !exists {
		return "", fmt.Errorf("%w: %s", types.ErrUnknownOrder, id)
	}
	if order.Status == types.OrderCompleted {
		return order.Status, fmt.Errorf("%w: order %s", types.ErrAlreadyComplete, id)
	}
	if units < 0 {
		return order.Status, fmt.Errorf("%w: %d", types.ErrNegativeUnits, units)
	}

	idx := sort.Search(len(order.Progress), func(i int) bool { return !order.Progress[i].Date.Before(date) })
	replacing := idx < len(order.Progress) && order.Progress[idx].Date == date

	total := order.TotalCompleted + units
	if replacing {
		total -= order.Progress[idx].Units
	}
	if total > order.Quantity {
		return order.Status, fmt.Errorf("%w: %d of %d after recording %d on %s",
			types.ErrExceedsQuantity, total, order.Quantity, units, date)
	}

	entry := types.ProgressEntry{Date: date, Units: units}
	if replacing {
		order.Progress[idx] = entry
	} else {
		order.Progress = append(order.Progress, types.ProgressEntry{})
		copy(order.Progress[idx+1:], order.Progress[idx:])
		order.Progress[idx] = entry
	}
	order.TotalCompleted = total

	if total == order.Quantity {
		t.setStatus(order, types.OrderCompleted)
	} else {
		t.setStatus(order, types.OrderInProgress)
	}
	return order.Status, nil
}

// ProjectedCompletionDate 推估訂單完工日
//
// 已完成的訂單回傳累計完成數量達到訂單數量的那一天。
// 否則從 asOf 的隔天起逐日累加產能（asOf 當天的產出應由其進度紀錄反映），
// 直到累計量足以完成剩餘數量。
func (t *Tracker) ProjectedCompletionDate(id types.OrderID, asOf types.Date) (types.Projection, error) {
	t.mu.RLock()
	order, exists := t.orders[id]
	if !exists {
		t.mu.RUnlock()
		return types.Projection{}, fmt.Errorf("%w: %s", types.ErrUnknownOrder, id)
	}
	model := order.Model
	remaining := order.Quantity - order.TotalCompleted
	var reached types.Date
	if remaining <= 0 {
		reached = completionDate(order)
	}
	t.mu.RUnlock()

	if remaining <= 0 {
		return types.Projection{Date: reached, Known: true, AsOf: asOf}, nil
	}

	series, err := t.planner.CapacitySeries(model, asOf.AddDays(1), t.planner.LookaheadDays())
	if err != nil {
		return types.Projection{}, err
	}
	date, known := Project(remaining, series)
	return types.Projection{Date: date, Known: known, AsOf: asOf}, nil
}

// Refresh 推估並將結果存回訂單
func (t *Tracker) Refresh(id types.OrderID, asOf types.Date) (types.Projection, error) {
	projection, err := t.ProjectedCompletionDate(id, asOf)
	if err != nil {
		return types.Projection{}, err
	}
	t.Store(id, projection)
	return projection, nil
}

// Store 存入推估結果；訂單不存在時忽略
func (t *Tracker) Store(id types.OrderID, projection types.Projection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if order, exists := t.orders[id]; exists {
		p := projection
		order.Projection = &p
	}
}

// Summary 訂單摘要：數量、完成數、完成百分比與推估完工日
func (t *Tracker) Summary(id types.OrderID, asOf types.Date) (types.OrderSummary, error) {
	projection, err := t.ProjectedCompletionDate(id, asOf)
	if err != nil {
		return types.OrderSummary{}, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	order, exists := t.orders[id]
	if !exists {
		return types.OrderSummary{}, fmt.Errorf("%w: %s", types.ErrUnknownOrder, id)
	}
	return types.OrderSummary{
		OrderID:         order.ID,
		Model:           order.Model,
		Status:          order.Status,
		Quantity:        order.Quantity,
		TotalCompleted:  order.TotalCompleted,
		PercentComplete: 100 * float64(order.TotalCompleted) / float64(order.Quantity),
		Projection:      projection,
	}, nil
}

// Order 查詢訂單（拷貝）
func (t *Tracker) Order(id types.OrderID) (types.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	order, exists := t.orders[id]
	if !exists {
		return types.Order{}, false
	}
	return order.Clone(), true
}

// Orders 所有訂單，依建立日期與 ID 排序
func (t *Tracker) Orders() []types.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedClones(t.orders)
}

// Open 尚未完成的訂單 ID
func (t *Tracker) Open() []types.OrderID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.OrderID, 0, len(t.created)+len(t.inProgress))
	for id := range t.created {
		out = append(out, id)
	}
	for id := range t.inProgress {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats 各狀態的訂單數量
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		Created:    len(t.created),
		InProgress: len(t.inProgress),
		Completed:  len(t.completed),
	}
}

// ============================================================================
// 快照支持
// ============================================================================

// Snapshot 所有訂單的深拷貝
func (t *Tracker) Snapshot() []types.Order {
	return t.Orders()
}

// Restore 以快照取代所有訂單，並重建狀態索引
func (t *Tracker) Restore(orders []types.Order) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.orders = make(map[types.OrderID]*types.Order, len(orders))
	t.created = make(map[types.OrderID]*types.Order)
	t.inProgress = make(map[types.OrderID]*types.Order)
	t.completed = make(map[types.OrderID]*types.Order)

	for _, o := range orders {
		if _, exists := t.orders[o.ID]; exists {
			return fmt.Errorf("%w: order %s", types.ErrDuplicateName, o.ID)
		}
		order := o.Clone()
		sort.Slice(order.Progress, func(i, j int) bool { return order.Progress[i].Date < order.Progress[j].Date })
		t.orders[order.ID] = &order
		t.index(&order)
	}
	return nil
}

// ============================================================================
// 推估
// ============================================================================

// Project 逐日累加產量直到足以完成 remaining
//
// 序列結束後若為穩定狀態且產量為正，以封閉式計算剩餘天數；
// 否則回傳 known = false。
func Project(remaining int, series capacity.Series) (types.Date, bool) {
	need := float64(remaining)
	cumulative := 0.0
	for i, units := range series.Daily {
		cumulative += units
		if cumulative >= need-epsilon {
			return series.From.AddDays(i), true
		}
	}
	if !series.Steady || series.Tail <= epsilon {
		return 0, false
	}
	days := math.Ceil((need-cumulative)/series.Tail - epsilon)
	if days < 1 {
		days = 1
	}
	return series.From.AddDays(len(series.Daily) - 1 + int(days)), true
}

// completionDate 累計完成數量達到訂單數量的日期
func completionDate(order *types.Order) types.Date {
	cumulative := 0
	for _, e := range order.Progress {
		cumulative += e.Units
		if cumulative >= order.Quantity {
			return e.Date
		}
	}
	if n := len(order.Progress); n > 0 {
		return order.Progress[n-1].Date
	}
	return order.CreatedOn
}

// ============================================================================
// 內部輔助方法
// ============================================================================

func (t *Tracker) setStatus(order *types.Order, status types.OrderStatus) {
	if order.Status == status {
		return
	}
	t.unindex(order)
	order.Status = status
	t.index(order)
}

func (t *Tracker) index(order *types.Order) {
	switch order.Status {
	case types.OrderCreated:
		t.created[order.ID] = order
	case types.OrderInProgress:
		t.inProgress[order.ID] = order
	case types.OrderCompleted:
		t.completed[order.ID] = order
	}
}

func (t *Tracker) unindex(order *types.Order) {
	delete(t.created, order.ID)
	delete(t.inProgress, order.ID)
	delete(t.completed, order.ID)
}

func sortedClones(orders map[types.OrderID]*types.Order) []types.Order {
	out := make([]types.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedOn != out[j].CreatedOn {
			return out[i].CreatedOn < out[j].CreatedOn
		}
		return out[i].ID < out[j].ID
	})
	return out
}
