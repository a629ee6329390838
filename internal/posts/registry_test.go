package posts

import (
	"testing"

	"github.com/ChuLiYu/line-planner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLayout(t *testing.T) {
	r, err := New(DefaultLayout())
	require.NoError(t, err)

	assert.Len(t, r.Posts(), 5)
	assert.Equal(t, map[types.StageType]int{
		types.StageGeneral:    2,
		types.StageSpecialist: 3,
	}, r.Count())
	assert.Equal(t, []types.StageType{types.StageGeneral, types.StageSpecialist}, r.Types())
}

func TestNewRejectsBadLayout(t *testing.T) {
	_, err := New([]types.Post{{ID: 1, Type: types.StageGeneral}, {ID: 1, Type: types.StageSpecialist}})
	assert.ErrorIs(t, err, types.ErrDuplicateName)

	_, err = New([]types.Post{{ID: 1, Type: "welding"}})
	assert.ErrorIs(t, err, types.ErrUnknownStageType)
}

func TestConfigurableSplit(t *testing.T) {
	r, err := New([]types.Post{
		{ID: 10, Type: types.StageGeneral},
		{ID: 11, Type: types.StageGeneral},
		{ID: 12, Type: types.StageGeneral},
	})
	require.NoError(t, err)

	assert.True(t, r.HasType(types.StageGeneral))
	assert.False(t, r.HasType(types.StageSpecialist))

	require.NoError(t, r.Add(types.Post{ID: 13, Type: types.StageSpecialist}))
	assert.True(t, r.HasType(types.StageSpecialist))

	require.NoError(t, r.Remove(13))
	assert.False(t, r.HasType(types.StageSpecialist))
	assert.ErrorIs(t, r.Remove(13), types.ErrUnknownPost)
}

func TestPostsSorted(t *testing.T) {
	r, err := New([]types.Post{
		{ID: 3, Type: types.StageSpecialist},
		{ID: 1, Type: types.StageGeneral},
		{ID: 2, Type: types.StageGeneral},
	})
	require.NoError(t, err)

	ids := []types.PostID{}
	for _, p := range r.Posts() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []types.PostID{1, 2, 3}, ids)

	p, ok := r.Post(3)
	require.True(t, ok)
	assert.Equal(t, types.StageSpecialist, p.Type)
}
