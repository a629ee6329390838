package refresh

import (
	"context"
	"time"

	"github.com/ChuLiYu/line-planner/pkg/types"
)

// Task 代表一筆待刷新的訂單推估
type Task struct {
	Run     uint64        // 刷新輪次，結果原樣帶回
	OrderID types.OrderID // 訂單 ID
	AsOf    types.Date    // 推估基準日
	Timeout time.Duration // 執行超時時間，0 表示不限
}

// Result 代表推估結果
type Result struct {
	Run        uint64           // 對應 Task.Run
	OrderID    types.OrderID    // 訂單 ID
	Projection types.Projection // 推估結果（Err 不為 nil 時無意義）
	Err        error            // 錯誤訊息（如果有）
	Duration   time.Duration    // 實際執行時間
}

// Projector 計算訂單的完工推估
type Projector interface {
	Project(ctx context.Context, id types.OrderID, asOf types.Date) (types.Projection, error)
}

// ProjectorFunc 讓普通函式實作 Projector
type ProjectorFunc func(ctx context.Context, id types.OrderID, asOf types.Date) (types.Projection, error)

// Project 呼叫 f
func (f ProjectorFunc) Project(ctx context.Context, id types.OrderID, asOf types.Date) (types.Projection, error) {
	return f(ctx, id, asOf)
}
