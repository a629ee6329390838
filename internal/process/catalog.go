// Package process 管理產品型號（有序工序清單）。
//
// 型號建立後不可修改：修改需建立新型號，避免進行中訂單的產能假設被默默改變。
// 工序順序只影響顯示；產能由各工序類型的瓶頸決定（見 internal/capacity）。
package process

import (
	"fmt"
	"math"
	"sort"

	"github.com/ChuLiYu/line-planner/pkg/types"
)

// StageTypes 回報某工序類型是否已在工位登記表中
type StageTypes interface {
	HasType(t types.StageType) bool
}

// Catalog 型號目錄
type Catalog struct {
	models map[types.ModelID]types.Model
}

// NewCatalog 建立空的目錄
func NewCatalog() *Catalog {
	return &Catalog{models: make(map[types.ModelID]types.Model)}
}

// Create 建立型號
//
// 錯誤處理（依檢查順序）：
//   - ErrDuplicateName: 名稱已存在
//   - ErrEmptyStageList: 沒有任何工序
//   - ErrInvalidTime: 任一工序單位工時 <= 0 或非有限值
//   - ErrUnknownStageType: 工序類型不在工位登記表內
func (c *Catalog) Create(name types.ModelID, stages []types.Stage, registered StageTypes) (types.ModelID, error) {
	if _, exists := c.models[name]; exists {
		return "", fmt.Errorf("%w: model %q", types.ErrDuplicateName, name)
	}
	if len(stages) == 0 {
		return "", fmt.Errorf("%w: model %q", types.ErrEmptyStageList, name)
	}
	for i, s := range stages {
		if s.TimePerUnit <= 0 || math.IsNaN(s.TimePerUnit) || math.IsInf(s.TimePerUnit, 0) {
			return "", fmt.Errorf("%w: stage %d (%s) takes %v h/unit", types.ErrInvalidTime, i, s.Name, s.TimePerUnit)
		}
		if !s.Type.Valid() || !registered.HasType(s.Type) {
			return "", fmt.Errorf("%w: stage %d (%s) has type %q", types.ErrUnknownStageType, i, s.Name, s.Type)
		}
	}

	c.models[name] = types.Model{ID: name, Stages: stages}.Clone()
	return name, nil
}

// Put 直接放入型號（快照恢復使用，不再驗證工位類型）
func (c *Catalog) Put(m types.Model) {
	c.models[m.ID] = m.Clone()
}

// Model 查詢型號，回傳拷貝
func (c *Catalog) Model(id types.ModelID) (types.Model, bool) {
	m, exists := c.models[id]
	if !exists {
		return types.Model{}, false
	}
	return m.Clone(), true
}

// Has 型號是否存在
func (c *Catalog) Has(id types.ModelID) bool {
	_, exists := c.models[id]
	return exists
}

// Models 依名稱排序回傳所有型號
func (c *Catalog) Models() []types.Model {
	out := make([]types.Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HoursPerUnit 依工序類型加總每單位所需工時
func HoursPerUnit(m types.Model) map[types.StageType]float64 {
	out := make(map[types.StageType]float64)
	for _, s := range m.Stages {
		out[s.Type] += s.TimePerUnit
	}
	return out
}
