// Package roster 管理員工名冊與其能力標籤。
//
// Roster 本身不加鎖，由 planner.Context 的單一鎖保護。
// 移除員工時的「未來排班」檢查需要排班表，因此在 planner 層協調。
package roster

import (
	"fmt"
	"math"
	"sort"

	"github.com/ChuLiYu/line-planner/pkg/types"
	"github.com/google/uuid"
)

// Roster 員工名冊
type Roster struct {
	workers map[types.WorkerID]*types.Worker
	byName  map[string]types.WorkerID
}

// New 建立空的名冊
func New() *Roster {
	return &Roster{
		workers: make(map[types.WorkerID]*types.Worker),
		byName:  make(map[string]types.WorkerID),
	}
}

// Add 以新產生的 ID 加入員工
//
// 錯誤處理：
//   - ErrDuplicateName: 名稱已存在
//   - ErrRoleMismatch: 角色不在封閉集合內
//   - ErrInvalidTime: 每日工時為負數、超過 24 小時或非有限值
func (r *Roster) Add(name string, role types.Role, hoursPerDay float64) (types.WorkerID, error) {
	id := types.WorkerID(uuid.NewString())
	if err := r.Put(types.Worker{ID: id, Name: name, Role: role, HoursPerDay: hoursPerDay}); err != nil {
		return "", err
	}
	return id, nil
}

// MaxHoursPerDay 單一員工每日工時上限
const MaxHoursPerDay = 24

// Put 以既有 ID 加入員工（日誌重放與快照恢復使用）
func (r *Roster) Put(w types.Worker) error {
	if _, exists := r.byName[w.Name]; exists {
		return fmt.Errorf("%w: worker %q", types.ErrDuplicateName, w.Name)
	}
	if _, exists := r.workers[w.ID]; exists {
		return fmt.Errorf("%w: worker id %s", types.ErrDuplicateName, w.ID)
	}
	if !w.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", types.ErrRoleMismatch, w.Role)
	}
	if w.HoursPerDay < 0 || w.HoursPerDay > MaxHoursPerDay || math.IsNaN(w.HoursPerDay) || math.IsInf(w.HoursPerDay, 0) {
		return fmt.Errorf("%w: hours per day %v", types.ErrInvalidTime, w.HoursPerDay)
	}

	worker := w
	r.workers[w.ID] = &worker
	r.byName[w.Name] = w.ID
	return nil
}

// Remove 移除員工；未來排班的檢查由呼叫端負責
func (r *Roster) Remove(id types.WorkerID) error {
	w, exists := r.workers[id]
	if !exists {
		return fmt.Errorf("%w: %s", types.ErrUnknownWorker, id)
	}
	delete(r.byName, w.Name)
	delete(r.workers, id)
	return nil
}

// Worker 查詢員工
func (r *Roster) Worker(id types.WorkerID) (types.Worker, bool) {
	w, exists := r.workers[id]
	if !exists {
		return types.Worker{}, false
	}
	return *w, true
}

// Lookup 依名稱查詢員工
func (r *Roster) Lookup(name string) (types.Worker, bool) {
	id, exists := r.byName[name]
	if !exists {
		return types.Worker{}, false
	}
	return r.Worker(id)
}

// Workers 依名稱排序回傳所有員工
func (r *Roster) Workers() []types.Worker {
	out := make([]types.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len 員工人數
func (r *Roster) Len() int {
	return len(r.workers)
}
