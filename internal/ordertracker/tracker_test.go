package ordertracker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/line-planner/internal/capacity"
	"github.com/ChuLiYu/line-planner/internal/planner"
	"github.com/ChuLiYu/line-planner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

var day = types.NewDate(2026, time.October, 18)

// newUnitA 建立 Unit-A 情境：兩名一般、兩名專業排在 day，產量 40/日
func newUnitA(t *testing.T) (*planner.Context, *Tracker) {
	t.Helper()

	opts := planner.DefaultOptions()
	opts.Clock = func() types.Date { return day }
	ctx, err := planner.New(opts)
	require.NoError(t, err)

	_, err = ctx.CreateModel("Unit-A", []types.Stage{
		{Name: "mount", Type: types.StageGeneral, TimePerUnit: 0.2},
		{Name: "flash", Type: types.StageSpecialist, TimePerUnit: 0.4},
	})
	require.NoError(t, err)

	for i, role := range []types.Role{types.RoleGeneral, types.RoleGeneral, types.RoleSpecialist, types.RoleSpecialist} {
		id, err := ctx.AddWorker(fmt.Sprintf("W%d", i+1), role, 0)
		require.NoError(t, err)
		_, _, err = ctx.Assign(day, types.PostID(i+1), id)
		require.NoError(t, err)
	}
	return ctx, New(ctx)
}

// stubPlanner 回傳固定產量序列
type stubPlanner struct {
	series    capacity.Series
	lookahead int
}

func (s stubPlanner) HasModel(types.ModelID) bool { return true }
func (s stubPlanner) LookaheadDays() int          { return s.lookahead }
func (s stubPlanner) CapacitySeries(_ types.ModelID, from types.Date, days int) (capacity.Series, error) {
	out := s.series
	out.From = from
	if len(out.Daily) > days {
		out.Daily = out.Daily[:days]
	}
	return out, nil
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestCreateOrder(t *testing.T) {
	_, tr := newUnitA(t)

	tests := []struct {
		name     string
		model    types.ModelID
		quantity int
		wantErr  error
	}{
		{"valid", "Unit-A", 100, nil},
		{"zero quantity", "Unit-A", 0, types.ErrInvalidQuantity},
		{"negative quantity", "Unit-A", -5, types.ErrInvalidQuantity},
		{"unknown model", "Unit-B", 10, types.ErrUnknownModel},
		{"quantity checked before model", "Unit-B", 0, types.ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tr.CreateOrder(tt.model, tt.quantity, day)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			order, ok := tr.Order(id)
			require.True(t, ok)
			assert.Equal(t, types.OrderCreated, order.Status)
			assert.Equal(t, 0, order.TotalCompleted)
			assert.Empty(t, order.Progress)
		})
	}
}

func TestRecordDailyProgressStateMachine(t *testing.T) {
	_, tr := newUnitA(t)
	id, err := tr.CreateOrder("Unit-A", 100, day)
	require.NoError(t, err)

	status, err := tr.RecordDailyProgress(id, day, 40)
	require.NoError(t, err)
	assert.Equal(t, types.OrderInProgress, status)
	assert.Equal(t, Stats{InProgress: 1}, tr.Stats())

	status, err = tr.RecordDailyProgress(id, day.AddDays(1), 60)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCompleted, status)
	assert.Equal(t, Stats{Completed: 1}, tr.Stats())
	assert.Empty(t, tr.Open())

	_, err = tr.RecordDailyProgress(id, day.AddDays(2), 0)
	assert.ErrorIs(t, err, types.ErrAlreadyComplete)
}

func TestRecordDailyProgressIsIdempotentPerDate(t *testing.T) {
	_, tr := newUnitA(t)
	id, err := tr.CreateOrder("Unit-A", 100, day)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := tr.RecordDailyProgress(id, day, 30)
		require.NoError(t, err)
	}
	_, err = tr.RecordDailyProgress(id, day.AddDays(-1), 10)
	require.NoError(t, err)
	_, err = tr.RecordDailyProgress(id, day, 25)
	require.NoError(t, err)

	order, _ := tr.Order(id)
	assert.Equal(t, 35, order.TotalCompleted)
	assert.Equal(t, []types.ProgressEntry{
		{Date: day.AddDays(-1), Units: 10},
		{Date: day, Units: 25},
	}, order.Progress)
}

func TestRecordDailyProgressErrors(t *testing.T) {
	_, tr := newUnitA(t)
	id, err := tr.CreateOrder("Unit-A", 100, day)
	require.NoError(t, err)
	_, err = tr.RecordDailyProgress(id, day, 90)
	require.NoError(t, err)

	_, err = tr.RecordDailyProgress("missing", day, 1)
	assert.ErrorIs(t, err, types.ErrUnknownOrder)

	_, err = tr.RecordDailyProgress(id, day.AddDays(1), -1)
	assert.ErrorIs(t, err, types.ErrNegativeUnits)

	// 超過訂單數量：進度不變
	_, err = tr.RecordDailyProgress(id, day.AddDays(1), 11)
	assert.ErrorIs(t, err, types.ErrExceedsQuantity)

	order, _ := tr.Order(id)
	assert.Equal(t, 90, order.TotalCompleted)
	assert.Len(t, order.Progress, 1)
	assert.Equal(t, types.OrderInProgress, order.Status)

	// 取代同日紀錄時以差額計算
	_, err = tr.RecordDailyProgress(id, day, 100)
	require.NoError(t, err)
	order, _ = tr.Order(id)
	assert.Equal(t, types.OrderCompleted, order.Status)
}

func TestProjectionUnitAScenario(t *testing.T) {
	_, tr := newUnitA(t)
	id, err := tr.CreateOrder("Unit-A", 100, day)
	require.NoError(t, err)

	p, err := tr.ProjectedCompletionDate(id, day)
	require.NoError(t, err)
	assert.True(t, p.Known)
	assert.Equal(t, day.AddDays(3), p.Date)
	assert.Equal(t, day, p.AsOf)

	// 完成 40 後剩 60：隔天 40、後天 80 ≥ 60
	_, err = tr.RecordDailyProgress(id, day, 40)
	require.NoError(t, err)
	p, err = tr.ProjectedCompletionDate(id, day)
	require.NoError(t, err)
	assert.Equal(t, day.AddDays(2), p.Date)
}

func TestProjectionUnknownWithoutCapacity(t *testing.T) {
	ctx, tr := newUnitA(t)
	id, err := tr.CreateOrder("Unit-A", 100, day)
	require.NoError(t, err)

	// 清空專業工位：最後排定日期的模式產量為 0
	_, _, err = ctx.Unassign(day, 3)
	require.NoError(t, err)
	_, _, err = ctx.Unassign(day, 4)
	require.NoError(t, err)

	p, err := tr.ProjectedCompletionDate(id, day)
	require.NoError(t, err)
	assert.False(t, p.Known)
}

func TestProjectionCompletedOrder(t *testing.T) {
	_, tr := newUnitA(t)
	id, err := tr.CreateOrder("Unit-A", 50, day)
	require.NoError(t, err)

	_, err = tr.RecordDailyProgress(id, day.AddDays(1), 20)
	require.NoError(t, err)
	_, err = tr.RecordDailyProgress(id, day, 30)
	require.NoError(t, err)

	p, err := tr.ProjectedCompletionDate(id, day.AddDays(10))
	require.NoError(t, err)
	assert.True(t, p.Known)
	assert.Equal(t, day.AddDays(1), p.Date)
}

func TestProjectionUnknownOrder(t *testing.T) {
	_, tr := newUnitA(t)
	_, err := tr.ProjectedCompletionDate("missing", day)
	assert.ErrorIs(t, err, types.ErrUnknownOrder)
	_, err = tr.Summary("missing", day)
	assert.ErrorIs(t, err, types.ErrUnknownOrder)
}

func TestProject(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		series    capacity.Series
		wantDate  types.Date
		wantKnown bool
	}{
		{
			name:      "reached inside window",
			remaining: 100,
			series:    capacity.Series{From: day, Daily: []float64{40, 40, 40}},
			wantDate:  day.AddDays(2),
			wantKnown: true,
		},
		{
			name:      "exact floating point sum",
			remaining: 3,
			series:    capacity.Series{From: day, Daily: []float64{0.1 * 10, 1.0 / 3 * 3, 1}},
			wantDate:  day.AddDays(2),
			wantKnown: true,
		},
		{
			name:      "extrapolated past window",
			remaining: 100,
			series:    capacity.Series{From: day, Daily: []float64{10, 10}, Steady: true, Tail: 20},
			wantDate:  day.AddDays(5),
			wantKnown: true,
		},
		{
			name:      "window ends before last planned date",
			remaining: 100,
			series:    capacity.Series{From: day, Daily: []float64{10, 10}, Tail: 20},
			wantKnown: false,
		},
		{
			name:      "steady zero throughput",
			remaining: 1,
			series:    capacity.Series{From: day, Daily: []float64{0, 0}, Steady: true},
			wantKnown: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, known := Project(tt.remaining, tt.series)
			assert.Equal(t, tt.wantKnown, known)
			if tt.wantKnown {
				assert.Equal(t, tt.wantDate, date)
			}
		})
	}
}

func TestProjectionUsesLookahead(t *testing.T) {
	tr := New(stubPlanner{
		series:    capacity.Series{Daily: []float64{1, 1, 1, 1, 1}, Steady: true, Tail: 1},
		lookahead: 2,
	})
	id, err := tr.CreateOrder("any", 4, day)
	require.NoError(t, err)

	p, err := tr.ProjectedCompletionDate(id, day)
	require.NoError(t, err)
	assert.True(t, p.Known)
	assert.Equal(t, day.AddDays(4), p.Date)
}

func TestSummaryAndRefresh(t *testing.T) {
	_, tr := newUnitA(t)
	id, err := tr.CreateOrder("Unit-A", 200, day)
	require.NoError(t, err)
	_, err = tr.RecordDailyProgress(id, day, 50)
	require.NoError(t, err)

	s, err := tr.Summary(id, day)
	require.NoError(t, err)
	assert.Equal(t, 200, s.Quantity)
	assert.Equal(t, 50, s.TotalCompleted)
	assert.InDelta(t, 25.0, s.PercentComplete, 1e-9)
	assert.Equal(t, types.OrderInProgress, s.Status)
	assert.Equal(t, day.AddDays(4), s.Projection.Date)

	order, _ := tr.Order(id)
	assert.Nil(t, order.Projection)

	p, err := tr.Refresh(id, day)
	require.NoError(t, err)
	order, _ = tr.Order(id)
	require.NotNil(t, order.Projection)
	assert.Equal(t, p, *order.Projection)
}

func TestSnapshotRestore(t *testing.T) {
	ctx, tr := newUnitA(t)
	a, err := tr.CreateOrder("Unit-A", 10, day)
	require.NoError(t, err)
	b, err := tr.CreateOrder("Unit-A", 10, day.AddDays(1))
	require.NoError(t, err)
	_, err = tr.RecordDailyProgress(a, day, 10)
	require.NoError(t, err)

	orders := tr.Snapshot()
	require.Len(t, orders, 2)
	assert.Equal(t, a, orders[0].ID)

	restored := New(ctx)
	require.NoError(t, restored.Restore(orders))
	assert.Equal(t, Stats{Created: 1, Completed: 1}, restored.Stats())
	assert.Equal(t, []types.OrderID{b}, restored.Open())

	// 快照是深拷貝
	orders[0].Progress[0].Units = 1
	order, _ := restored.Order(a)
	assert.Equal(t, 10, order.Progress[0].Units)

	assert.ErrorIs(t, restored.Restore(append(orders, orders[0])), types.ErrDuplicateName)
}

func TestConcurrentProgressAndProjection(t *testing.T) {
	_, tr := newUnitA(t)
	id, err := tr.CreateOrder("Unit-A", 1000, day)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := tr.RecordDailyProgress(id, day.AddDays(-i), 10)
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := tr.Refresh(id, day)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	order, _ := tr.Order(id)
	assert.Equal(t, 100, order.TotalCompleted)
	assert.Len(t, order.Progress, 10)
}
