package roster

import (
	"math"
	"testing"

	"github.com/ChuLiYu/line-planner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Roster)
		worker  string
		role    types.Role
		hours   float64
		wantErr error
	}{
		{
			name:   "general worker",
			setup:  func(r *Roster) {},
			worker: "Ivanov",
			role:   types.RoleGeneral,
		},
		{
			name:   "specialist with custom hours",
			setup:  func(r *Roster) {},
			worker: "Sidorov",
			role:   types.RoleSpecialist,
			hours:  6,
		},
		{
			name:    "duplicate name",
			setup:   func(r *Roster) { r.Add("Ivanov", types.RoleGeneral, 0) },
			worker:  "Ivanov",
			role:    types.RoleSpecialist,
			wantErr: types.ErrDuplicateName,
		},
		{
			name:    "unknown role",
			setup:   func(r *Roster) {},
			worker:  "Petrov",
			role:    types.Role("manager"),
			wantErr: types.ErrRoleMismatch,
		},
		{
			name:    "negative hours",
			setup:   func(r *Roster) {},
			worker:  "Petrov",
			role:    types.RoleGeneral,
			hours:   -1,
			wantErr: types.ErrInvalidTime,
		},
		{
			name:    "NaN hours",
			setup:   func(r *Roster) {},
			worker:  "Petrov",
			role:    types.RoleGeneral,
			hours:   math.NaN(),
			wantErr: types.ErrInvalidTime,
		},
		{
			name:    "more than a day",
			setup:   func(r *Roster) {},
			worker:  "Petrov",
			role:    types.RoleGeneral,
			hours:   30,
			wantErr: types.ErrInvalidTime,
		},
		{
			name:   "full day",
			setup:  func(r *Roster) {},
			worker: "Petrov",
			role:   types.RoleSpecialist,
			hours:  24,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			tt.setup(r)
			before := r.Len()

			id, err := r.Add(tt.worker, tt.role, tt.hours)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, id)
				assert.Equal(t, before, r.Len())
				return
			}
			require.NoError(t, err)
			w, ok := r.Worker(id)
			require.True(t, ok)
			assert.Equal(t, tt.worker, w.Name)
			assert.Equal(t, tt.role, w.Role)
			assert.Equal(t, tt.hours, w.HoursPerDay)
		})
	}
}

func TestRemove(t *testing.T) {
	r := New()
	id, err := r.Add("Ivanov", types.RoleGeneral, 0)
	require.NoError(t, err)

	require.NoError(t, r.Remove(id))
	_, ok := r.Worker(id)
	assert.False(t, ok)

	// 名稱釋放後可重新加入
	_, err = r.Add("Ivanov", types.RoleSpecialist, 0)
	assert.NoError(t, err)

	assert.ErrorIs(t, r.Remove(id), types.ErrUnknownWorker)
}

func TestPutKeepsID(t *testing.T) {
	r := New()
	require.NoError(t, r.Put(types.Worker{ID: "w-1", Name: "Kuznetsov", Role: types.RoleSpecialist}))

	w, ok := r.Lookup("Kuznetsov")
	require.True(t, ok)
	assert.Equal(t, types.WorkerID("w-1"), w.ID)

	err := r.Put(types.Worker{ID: "w-1", Name: "Other", Role: types.RoleGeneral})
	assert.ErrorIs(t, err, types.ErrDuplicateName)
}

func TestWorkersSortedByName(t *testing.T) {
	r := New()
	for _, name := range []string{"Nikolaev", "Ivanov", "Petrov"} {
		_, err := r.Add(name, types.RoleGeneral, 0)
		require.NoError(t, err)
	}

	var names []string
	for _, w := range r.Workers() {
		names = append(names, w.Name)
	}
	assert.Equal(t, []string{"Ivanov", "Nikolaev", "Petrov"}, names)
}
