// ============================================================================
// 排班表 - (日期, 工位) → 員工
// ============================================================================
//
// Package: internal/calendar
// 文件: calendar.go
// 功能: 維護每日工位排班，並在寫入時驗證能力與衝突規則
//
// 不變量:
//   - 每個 (日期, 工位) 最多一名員工（複合鍵 types.Slot）
//   - 每名員工每天最多一個工位（booked 索引）
//   - 員工角色必須能服務該工位的工序類型（types.CanService）
//   - 營運日之前的日期為唯讀歷史
//
// 數據結構:
//   slots  map[Slot]WorkerID       - 主存儲
//   booked map[booking]PostID      - 員工當日所在工位，用於重複排班檢查
//   perDay map[Date]int            - 每日排班數，用於找出最後排定日期
//
// 並發安全:
//   本身不加鎖，由 planner.Context 的單一讀寫鎖保護
//
// ============================================================================

package calendar

import (
	"fmt"
	"sort"

	"github.com/ChuLiYu/line-planner/pkg/types"
)

// WorkerLookup 查詢員工
type WorkerLookup interface {
	Worker(id types.WorkerID) (types.Worker, bool)
}

// PostLookup 查詢工位
type PostLookup interface {
	Post(id types.PostID) (types.Post, bool)
}

type booking struct {
	worker types.WorkerID
	date   types.Date
}

// Calendar 排班表
type Calendar struct {
	slots   map[types.Slot]types.WorkerID
	booked  map[booking]types.PostID
	perDay  map[types.Date]int
	workers WorkerLookup
	posts   PostLookup
}

// New 建立排班表
func New(workers WorkerLookup, posts PostLookup) *Calendar {
	return &Calendar{
		slots:   make(map[types.Slot]types.WorkerID),
		booked:  make(map[booking]types.PostID),
		perDay:  make(map[types.Date]int),
		workers: workers,
		posts:   posts,
	}
}

// Assign 將員工排入某日某工位
//
// 參數：
//   - today: 營運日，早於此日的日期不可修改
//
// 返回值：
//   - previous, replaced: 被取代的前一位員工（同一人重複排入時 replaced 為 false）
//   - error: 依序檢查 ErrUnknownPost、ErrUnknownWorker、ErrRoleMismatch、
//     ErrPastDateImmutable、ErrWorkerDoubleBooked
func (c *Calendar) Assign(today, date types.Date, postID types.PostID, workerID types.WorkerID) (types.WorkerID, bool, error) {
	post, ok := c.posts.Post(postID)
	if !ok {
		return "", false, fmt.Errorf("%w: %d", types.ErrUnknownPost, postID)
	}
	worker, ok := c.workers.Worker(workerID)
	if !ok {
		return "", false, fmt.Errorf("%w: %s", types.ErrUnknownWorker, workerID)
	}
	if !types.CanService(worker.Role, post.Type) {
		return "", false, fmt.Errorf("%w: %s (%s) cannot work %s post %d",
			types.ErrRoleMismatch, worker.Name, worker.Role, post.Type, post.ID)
	}
	if date.Before(today) {
		return "", false, fmt.Errorf("%w: %s is before %s", types.ErrPastDateImmutable, date, today)
	}
	if other, busy := c.booked[booking{workerID, date}]; busy && other != postID {
		return "", false, fmt.Errorf("%w: %s already on post %d at %s",
			types.ErrWorkerDoubleBooked, worker.Name, other, date)
	}

	slot := types.Slot{Date: date, PostID: postID}
	prev, occupied := c.slots[slot]
	if occupied && prev == workerID {
		return "", false, nil
	}
	c.put(slot, workerID)
	return prev, occupied, nil
}

// Unassign 清空某日某工位；已空時不做任何事
func (c *Calendar) Unassign(today, date types.Date, postID types.PostID) (types.WorkerID, bool, error) {
	if _, ok := c.posts.Post(postID); !ok {
		return "", false, fmt.Errorf("%w: %d", types.ErrUnknownPost, postID)
	}
	if date.Before(today) {
		return "", false, fmt.Errorf("%w: %s is before %s", types.ErrPastDateImmutable, date, today)
	}
	prev, occupied := c.remove(types.Slot{Date: date, PostID: postID})
	return prev, occupied, nil
}

// Put 直接寫入排班，不做任何驗證（快照恢復使用）
func (c *Calendar) Put(a types.Assignment) {
	c.put(types.Slot{Date: a.Date, PostID: a.PostID}, a.WorkerID)
}

// AssignmentsFor 回傳某日明確排定的工位 → 員工（拷貝）
func (c *Calendar) AssignmentsFor(date types.Date) map[types.PostID]types.WorkerID {
	out := make(map[types.PostID]types.WorkerID)
	if c.perDay[date] == 0 {
		return out
	}
	for slot, w := range c.slots {
		if slot.Date == date {
			out[slot.PostID] = w
		}
	}
	return out
}

// LastPlanned 最後一個有排班的日期
func (c *Calendar) LastPlanned() (types.Date, bool) {
	var last types.Date
	found := false
	for d := range c.perDay {
		if !found || d > last {
			last, found = d, true
		}
	}
	return last, found
}

// EffectiveAssignments 回傳用於推估的排班：
// 最後排定日期之後的日子沿用最後排定日期的排班模式
func (c *Calendar) EffectiveAssignments(date types.Date) map[types.PostID]types.WorkerID {
	if last, ok := c.LastPlanned(); ok && last.Before(date) {
		return c.AssignmentsFor(last)
	}
	return c.AssignmentsFor(date)
}

// ForWorker 某員工在 from（含）之後的排班，依日期排序
func (c *Calendar) ForWorker(workerID types.WorkerID, from types.Date) []types.Assignment {
	return c.collect(func(slot types.Slot, w types.WorkerID) bool {
		return w == workerID && !slot.Date.Before(from)
	})
}

// ForPost 某工位在 from（含）之後的排班，依日期排序
func (c *Calendar) ForPost(postID types.PostID, from types.Date) []types.Assignment {
	return c.collect(func(slot types.Slot, _ types.WorkerID) bool {
		return slot.PostID == postID && !slot.Date.Before(from)
	})
}

// ClearWorker 清除某員工在 from（含）之後的所有排班，回傳被清除的項目
func (c *Calendar) ClearWorker(workerID types.WorkerID, from types.Date) []types.Assignment {
	cleared := c.ForWorker(workerID, from)
	for _, a := range cleared {
		c.remove(types.Slot{Date: a.Date, PostID: a.PostID})
	}
	return cleared
}

// All 所有排班，依 (日期, 工位) 排序
func (c *Calendar) All() []types.Assignment {
	return c.collect(func(types.Slot, types.WorkerID) bool { return true })
}

// Len 排班總數
func (c *Calendar) Len() int {
	return len(c.slots)
}

// ============================================================================
// 內部輔助方法
// ============================================================================

func (c *Calendar) put(slot types.Slot, workerID types.WorkerID) {
	if prev, occupied := c.slots[slot]; occupied {
		delete(c.booked, booking{prev, slot.Date})
	} else {
		c.perDay[slot.Date]++
	}
	c.slots[slot] = workerID
	c.booked[booking{workerID, slot.Date}] = slot.PostID
}

func (c *Calendar) remove(slot types.Slot) (types.WorkerID, bool) {
	prev, occupied := c.slots[slot]
	if !occupied {
		return "", false
	}
	delete(c.slots, slot)
	delete(c.booked, booking{prev, slot.Date})
	c.perDay[slot.Date]--
	if c.perDay[slot.Date] == 0 {
		delete(c.perDay, slot.Date)
	}
	return prev, true
}

func (c *Calendar) collect(keep func(types.Slot, types.WorkerID) bool) []types.Assignment {
	var out []types.Assignment
	for slot, w := range c.slots {
		if keep(slot, w) {
			out = append(out, types.Assignment{Date: slot.Date, PostID: slot.PostID, WorkerID: w})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].PostID < out[j].PostID
	})
	return out
}
