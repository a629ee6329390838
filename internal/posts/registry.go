// Package posts 管理固定的實體工位及其服務的工序類型。
//
// 工位數量與類型分配由設定檔決定（預設 2 個一般組裝、3 個專業工位），
// 通常在 planner.Context 建立時一次設定完成。
package posts

import (
	"fmt"
	"sort"

	"github.com/ChuLiYu/line-planner/pkg/types"
)

// DefaultLayout 預設工位配置：1、2 為一般組裝，3、4、5 為專業工位
func DefaultLayout() []types.Post {
	return []types.Post{
		{ID: 1, Type: types.StageGeneral},
		{ID: 2, Type: types.StageGeneral},
		{ID: 3, Type: types.StageSpecialist},
		{ID: 4, Type: types.StageSpecialist},
		{ID: 5, Type: types.StageSpecialist},
	}
}

// Registry 工位登記表
type Registry struct {
	posts map[types.PostID]types.Post
}

// New 以給定的工位建立登記表
func New(layout []types.Post) (*Registry, error) {
	r := &Registry{posts: make(map[types.PostID]types.Post, len(layout))}
	for _, p := range layout {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add 新增工位
func (r *Registry) Add(p types.Post) error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: post %d has type %q", types.ErrUnknownStageType, p.ID, p.Type)
	}
	if _, exists := r.posts[p.ID]; exists {
		return fmt.Errorf("%w: post %d", types.ErrDuplicateName, p.ID)
	}
	r.posts[p.ID] = p
	return nil
}

// Remove 移除工位；未來排班的檢查由呼叫端負責
func (r *Registry) Remove(id types.PostID) error {
	if _, exists := r.posts[id]; !exists {
		return fmt.Errorf("%w: %d", types.ErrUnknownPost, id)
	}
	delete(r.posts, id)
	return nil
}

// Post 查詢工位
func (r *Registry) Post(id types.PostID) (types.Post, bool) {
	p, exists := r.posts[id]
	return p, exists
}

// Posts 依編號排序回傳所有工位
func (r *Registry) Posts() []types.Post {
	out := make([]types.Post, 0, len(r.posts))
	for _, p := range r.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasType 是否有任何工位服務該類型
func (r *Registry) HasType(t types.StageType) bool {
	for _, p := range r.posts {
		if p.Type == t {
			return true
		}
	}
	return false
}

// Types 已登記的工序類型（排序後）
func (r *Registry) Types() []types.StageType {
	seen := make(map[types.StageType]bool)
	for _, p := range r.posts {
		seen[p.Type] = true
	}
	out := make([]types.StageType, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count 各類型的工位數量
func (r *Registry) Count() map[types.StageType]int {
	out := make(map[types.StageType]int)
	for _, p := range r.posts {
		out[p.Type]++
	}
	return out
}
