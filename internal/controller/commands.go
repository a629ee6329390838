package controller

// ============================================================================
// 變更指令 - 日誌事件的內容與套用邏輯
// ============================================================================
//
// 每個指令同時用於線上變更與日誌重放：
//   - 線上：先產生 ID，套用到核心，成功後寫入日誌
//   - 重放：從日誌解碼，以事件記錄的營運日（Today）重新套用
// 由於 ID 在套用前就已決定，重放會得到完全相同的狀態。
//
// ============================================================================

import (
	"fmt"

	"github.com/ChuLiYu/line-planner/internal/storage/wal"
	"github.com/ChuLiYu/line-planner/pkg/types"
)

// Command 可被日誌記錄的變更
type Command interface {
	EventType() wal.EventType
}

// AddWorkerCmd 新增員工
type AddWorkerCmd struct {
	ID          types.WorkerID `json:"id"`
	Name        string         `json:"name"`
	Role        types.Role     `json:"role"`
	HoursPerDay float64        `json:"hours_per_day,omitempty"`
}

// RemoveWorkerCmd 移除員工
type RemoveWorkerCmd struct {
	ID      types.WorkerID `json:"id"`
	Cascade bool           `json:"cascade"`
}

// CreateModelCmd 建立型號
type CreateModelCmd struct {
	Name   types.ModelID `json:"name"`
	Stages []types.Stage `json:"stages"`
}

// AddPostCmd 新增工位
type AddPostCmd struct {
	Post types.Post `json:"post"`
}

// RemovePostCmd 移除工位
type RemovePostCmd struct {
	ID types.PostID `json:"id"`
}

// AssignCmd 排班
type AssignCmd struct {
	Date     types.Date     `json:"date"`
	PostID   types.PostID   `json:"post_id"`
	WorkerID types.WorkerID `json:"worker_id"`
}

// UnassignCmd 清空工位
type UnassignCmd struct {
	Date   types.Date   `json:"date"`
	PostID types.PostID `json:"post_id"`
}

// CreateOrderCmd 建立訂單
type CreateOrderCmd struct {
	ID        types.OrderID `json:"id"`
	Model     types.ModelID `json:"model"`
	Quantity  int           `json:"quantity"`
	CreatedOn types.Date    `json:"created_on"`
}

// RecordProgressCmd 紀錄每日進度
type RecordProgressCmd struct {
	OrderID types.OrderID `json:"order_id"`
	Date    types.Date    `json:"date"`
	Units   int           `json:"units"`
}

func (AddWorkerCmd) EventType() wal.EventType      { return wal.EventAddWorker }
func (RemoveWorkerCmd) EventType() wal.EventType   { return wal.EventRemoveWorker }
func (CreateModelCmd) EventType() wal.EventType    { return wal.EventCreateModel }
func (AddPostCmd) EventType() wal.EventType        { return wal.EventAddPost }
func (RemovePostCmd) EventType() wal.EventType     { return wal.EventRemovePost }
func (AssignCmd) EventType() wal.EventType         { return wal.EventAssign }
func (UnassignCmd) EventType() wal.EventType       { return wal.EventUnassign }
func (CreateOrderCmd) EventType() wal.EventType    { return wal.EventCreateOrder }
func (RecordProgressCmd) EventType() wal.EventType { return wal.EventRecordProgress }

// AssignResult 排班結果
type AssignResult struct {
	Previous types.WorkerID `json:"previous,omitempty"`
	Replaced bool           `json:"replaced"`
}

// decodeCommand 由日誌事件還原指令
func decodeCommand(event wal.Event) (Command, error) {
	var cmd Command
	switch event.Type {
	case wal.EventAddWorker:
		cmd = &AddWorkerCmd{}
	case wal.EventRemoveWorker:
		cmd = &RemoveWorkerCmd{}
	case wal.EventCreateModel:
		cmd = &CreateModelCmd{}
	case wal.EventAddPost:
		cmd = &AddPostCmd{}
	case wal.EventRemovePost:
		cmd = &RemovePostCmd{}
	case wal.EventAssign:
		cmd = &AssignCmd{}
	case wal.EventUnassign:
		cmd = &UnassignCmd{}
	case wal.EventCreateOrder:
		cmd = &CreateOrderCmd{}
	case wal.EventRecordProgress:
		cmd = &RecordProgressCmd{}
	default:
		return nil, fmt.Errorf("unknown event type %q at seq=%d", event.Type, event.Seq)
	}
	if err := event.Decode(cmd); err != nil {
		return nil, fmt.Errorf("decode %s at seq=%d: %w", event.Type, event.Seq, err)
	}
	return cmd, nil
}

// apply 將指令套用到核心元件，呼叫端需持有 c.mu
func (c *Controller) apply(today types.Date, cmd Command) (any, error) {
	switch cmd := cmd.(type) {
	case *AddWorkerCmd:
		return c.applyAddWorker(*cmd)
	case AddWorkerCmd:
		return c.applyAddWorker(cmd)
	case *RemoveWorkerCmd:
		return c.planner.RemoveWorkerAsOf(today, cmd.ID, cmd.Cascade)
	case RemoveWorkerCmd:
		return c.planner.RemoveWorkerAsOf(today, cmd.ID, cmd.Cascade)
	case *CreateModelCmd:
		return c.planner.CreateModel(cmd.Name, cmd.Stages)
	case CreateModelCmd:
		return c.planner.CreateModel(cmd.Name, cmd.Stages)
	case *AddPostCmd:
		return nil, c.planner.AddPost(cmd.Post)
	case AddPostCmd:
		return nil, c.planner.AddPost(cmd.Post)
	case *RemovePostCmd:
		return nil, c.planner.RemovePostAsOf(today, cmd.ID)
	case RemovePostCmd:
		return nil, c.planner.RemovePostAsOf(today, cmd.ID)
	case *AssignCmd:
		return c.applyAssign(today, *cmd)
	case AssignCmd:
		return c.applyAssign(today, cmd)
	case *UnassignCmd:
		prev, _, err := c.planner.UnassignAsOf(today, cmd.Date, cmd.PostID)
		return prev, err
	case UnassignCmd:
		prev, _, err := c.planner.UnassignAsOf(today, cmd.Date, cmd.PostID)
		return prev, err
	case *CreateOrderCmd:
		return nil, c.tracker.CreateOrderWithID(cmd.ID, cmd.Model, cmd.Quantity, cmd.CreatedOn)
	case CreateOrderCmd:
		return nil, c.tracker.CreateOrderWithID(cmd.ID, cmd.Model, cmd.Quantity, cmd.CreatedOn)
	case *RecordProgressCmd:
		return c.tracker.RecordDailyProgress(cmd.OrderID, cmd.Date, cmd.Units)
	case RecordProgressCmd:
		return c.tracker.RecordDailyProgress(cmd.OrderID, cmd.Date, cmd.Units)
	}
	return nil, fmt.Errorf("unsupported command %T", cmd)
}

func (c *Controller) applyAddWorker(cmd AddWorkerCmd) (any, error) {
	return cmd.ID, c.planner.PutWorker(types.Worker{
		ID:          cmd.ID,
		Name:        cmd.Name,
		Role:        cmd.Role,
		HoursPerDay: cmd.HoursPerDay,
	})
}

func (c *Controller) applyAssign(today types.Date, cmd AssignCmd) (any, error) {
	prev, replaced, err := c.planner.AssignAsOf(today, cmd.Date, cmd.PostID, cmd.WorkerID)
	return AssignResult{Previous: prev, Replaced: replaced}, err
}
