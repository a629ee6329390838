// ============================================================================
// 產能計算 - 瓶頸產能模型
// ============================================================================
//
// Package: internal/capacity
// 文件: capacity.go
// 功能: 根據某日的排班計算某型號的每日可達產量
//
// 演算法:
//   1. 依工序類型分組，required[T] = 該型號所有 T 類工序的單位工時總和
//   2. hours[T] = 當日排在 T 類工位上所有員工的工時總和
//      （員工自訂工時，未設定時使用標準工作日）
//   3. units[T] = hours[T] / required[T]
//   4. 整體產量 = min(units[T])，最小者即為瓶頸
//   任一所需類型當日沒有人 → 產量為 0（不是錯誤）
//
// 設計取捨:
//   同類工序合併計算（同一名員工可在同一工位完成該單位所有同類工序），
//   而非嚴格流水線（每單位依序通過每道工序，由最慢的單一工序決定）。
//   兩種解讀數值不同，此處採用前者。
//
// 範例（工作日 8h）:
//   Unit-A = 一般 0.2h + 專業 0.4h，2 名一般、2 名專業
//   一般: 2×8/0.2 = 80，專業: 2×8/0.4 = 40 → 產量 40
//
// ============================================================================

package capacity

import (
	"math"
	"sort"

	"github.com/ChuLiYu/line-planner/internal/process"
	"github.com/ChuLiYu/line-planner/pkg/types"
)

// Staffed 當日有人的工位
type Staffed struct {
	Post   types.Post
	Worker types.Worker
}

// TypeCapacity 單一工序類型的產能明細
type TypeCapacity struct {
	Posts        int     `json:"posts"`          // 有人的工位數
	Hours        float64 `json:"hours"`          // 可用工時
	HoursPerUnit float64 `json:"hours_per_unit"` // 每單位所需工時
	Units        float64 `json:"units"`          // 該類型每日可完成的單位數
}

// Breakdown 某型號某日的產能
type Breakdown struct {
	Model      types.ModelID                    `json:"model"`
	Date       types.Date                       `json:"date"`
	Units      float64                          `json:"units"`
	Bottleneck types.StageType                  `json:"bottleneck"`
	ByType     map[types.StageType]TypeCapacity `json:"by_type"`
}

// Calculator 產能計算器（純函式，無狀態）
type Calculator struct {
	WorkdayHours float64 // 標準工作日長度（小時）
}

// NewCalculator 建立計算器
func NewCalculator(workdayHours float64) Calculator {
	return Calculator{WorkdayHours: workdayHours}
}

// Compute 計算給定排班下的每日產量
func (c Calculator) Compute(model types.Model, date types.Date, staffed []Staffed) Breakdown {
	required := process.HoursPerUnit(model)

	byType := make(map[types.StageType]TypeCapacity, len(required))
	for t, perUnit := range required {
		byType[t] = TypeCapacity{HoursPerUnit: perUnit}
	}
	for _, s := range staffed {
		tc, needed := byType[s.Post.Type]
		if !needed {
			continue
		}
		tc.Posts++
		tc.Hours += s.Worker.Hours(c.WorkdayHours)
		byType[s.Post.Type] = tc
	}

	// 依類型名稱排序，平手時瓶頸固定
	stageTypes := make([]types.StageType, 0, len(byType))
	for t := range byType {
		stageTypes = append(stageTypes, t)
	}
	sort.Slice(stageTypes, func(i, j int) bool { return stageTypes[i] < stageTypes[j] })

	out := Breakdown{Model: model.ID, Date: date, Units: math.Inf(1), ByType: byType}
	for _, t := range stageTypes {
		tc := byType[t]
		if tc.Posts > 0 {
			tc.Units = tc.Hours / tc.HoursPerUnit
		}
		byType[t] = tc
		if tc.Units < out.Units {
			out.Units = tc.Units
			out.Bottleneck = t
		}
	}
	if math.IsInf(out.Units, 1) {
		out.Units = 0
	}
	return out
}

// Series 連續多日的產量，供完工日推估使用
type Series struct {
	From  types.Date `json:"from"`
	Daily []float64  `json:"daily"` // Daily[i] 為 From+i 日的產量
	// Steady 為 true 表示區間之後每日都沿用最後排定日期的排班，產量恆為 Tail
	Steady bool    `json:"steady"`
	Tail   float64 `json:"tail"`
}

// End 區間最後一日
func (s Series) End() types.Date {
	return s.From.AddDays(len(s.Daily) - 1)
}
