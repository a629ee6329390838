// Package types 定義了 line-planner 系統中使用的核心領域模型
package types

// WorkerID 員工唯一識別碼
type WorkerID string

// ModelID 產品型號識別碼（即型號名稱，全域唯一）
type ModelID string

// OrderID 訂單唯一識別碼
type OrderID string

// PostID 工位編號
type PostID int

// Role 員工能力標籤（封閉集合）
type Role string

const (
	RoleGeneral    Role = "general"    // 組裝員：只能在一般組裝工位工作
	RoleSpecialist Role = "specialist" // 工程師：可在任何工位工作
)

// StageType 工序類型，同時也是工位類型
type StageType string

const (
	StageGeneral    StageType = "general"    // 一般組裝
	StageSpecialist StageType = "specialist" // 專業工序
)

// OrderStatus 訂單狀態
type OrderStatus string

const (
	OrderCreated    OrderStatus = "created"     // 已建立，尚無進度紀錄
	OrderInProgress OrderStatus = "in_progress" // 至少有一筆進度紀錄
	OrderCompleted  OrderStatus = "completed"   // 完成數量等於訂單數量（終態）
)

// compatibility 角色與工序類型的相容表，唯一的判斷來源
var compatibility = map[StageType]map[Role]bool{
	StageGeneral:    {RoleGeneral: true, RoleSpecialist: true},
	StageSpecialist: {RoleSpecialist: true},
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleGeneral || r == RoleSpecialist
}

// Valid reports whether s is one of the known stage types.
func (s StageType) Valid() bool {
	_, ok := compatibility[s]
	return ok
}

// CanService 判斷某角色能否負責某類型的工位
func CanService(role Role, stage StageType) bool {
	return compatibility[stage][role]
}

// Worker 員工
type Worker struct {
	ID          WorkerID `json:"id"`
	Name        string   `json:"name"`
	Role        Role     `json:"role"`
	HoursPerDay float64  `json:"hours_per_day,omitempty"` // 0 表示使用標準工作日長度
}

// Hours 回傳員工每日可用工時，未設定時使用標準工作日
func (w Worker) Hours(workday float64) float64 {
	if w.HoursPerDay > 0 {
		return w.HoursPerDay
	}
	return workday
}

// Stage 產品的一道工序
type Stage struct {
	Name        string    `json:"name"`
	Type        StageType `json:"type"`
	TimePerUnit float64   `json:"time_per_unit"` // 每單位所需工時（小時）
}

// Model 產品型號：有序的工序清單
type Model struct {
	ID     ModelID `json:"id"`
	Stages []Stage `json:"stages"`
}

// Clone 深拷貝，避免呼叫端修改已建立的型號
func (m Model) Clone() Model {
	stages := make([]Stage, len(m.Stages))
	copy(stages, m.Stages)
	return Model{ID: m.ID, Stages: stages}
}

// Post 實體工位
type Post struct {
	ID   PostID    `json:"id" yaml:"id" validate:"gt=0"`
	Type StageType `json:"type" yaml:"type" validate:"oneof=general specialist"`
}

// Slot 排班表的複合鍵 (日期, 工位)
type Slot struct {
	Date   Date
	PostID PostID
}

// Assignment 某日某工位由某員工負責
type Assignment struct {
	Date     Date     `json:"date"`
	PostID   PostID   `json:"post_id"`
	WorkerID WorkerID `json:"worker_id"`
}

// ProgressEntry 某日完成的數量
type ProgressEntry struct {
	Date  Date `json:"date"`
	Units int  `json:"units"`
}

// Projection 預估完工日期；Known 為 false 表示以目前人力無法完工
type Projection struct {
	Date  Date `json:"date"`
	Known bool `json:"known"`
	AsOf  Date `json:"as_of"`
}

// Order 生產訂單
type Order struct {
	ID             OrderID         `json:"id"`
	Model          ModelID         `json:"model"`
	Quantity       int             `json:"quantity"`
	CreatedOn      Date            `json:"created_on"`
	Status         OrderStatus     `json:"status"`
	Progress       []ProgressEntry `json:"progress"` // 依日期排序，每日最多一筆
	TotalCompleted int             `json:"total_completed"`
	Projection     *Projection     `json:"projection,omitempty"` // 最近一次刷新的預估
}

// Clone 深拷貝訂單
func (o Order) Clone() Order {
	c := o
	c.Progress = make([]ProgressEntry, len(o.Progress))
	copy(c.Progress, o.Progress)
	if o.Projection != nil {
		p := *o.Projection
		c.Projection = &p
	}
	return c
}

// OrderSummary 訂單摘要，供前端顯示
type OrderSummary struct {
	OrderID         OrderID     `json:"order_id"`
	Model           ModelID     `json:"model"`
	Status          OrderStatus `json:"status"`
	Quantity        int         `json:"quantity"`
	TotalCompleted  int         `json:"total_completed"`
	PercentComplete float64     `json:"percent_complete"`
	Projection      Projection  `json:"projection"`
}

// SnapshotData 快照資料，用於系統狀態的持久化和恢復
type SnapshotData struct {
	SchemaVer   int          `json:"schema_ver"` // 資料結構版本號
	LastSeq     uint64       `json:"last_seq"`   // 快照涵蓋的最後一個日誌序號
	Workers     []Worker     `json:"workers"`
	Models      []Model      `json:"models"`
	Posts       []Post       `json:"posts"`
	Assignments []Assignment `json:"assignments"`
	Orders      []Order      `json:"orders"`
}
