package main

// Demo: 建立一條小產線、下一張訂單並顯示推估完工日。
// 第二次以 recover 模式執行時，所有狀態從 snapshot + WAL 恢復。
//
//	go run ./cmd/demo start
//	go run ./cmd/demo recover

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ChuLiYu/line-planner/internal/controller"
	"github.com/ChuLiYu/line-planner/pkg/types"
)

const (
	dataDir   = "data/demo"
	demoModel = types.ModelID("Emitter 1")
	horizon   = 14 // 預先排班的天數
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/demo <start|recover>")
		os.Exit(1)
	}
	mode := os.Args[1]

	if mode == "start" {
		if err := os.RemoveAll(dataDir); err != nil {
			log.Fatalf("Failed to reset demo data: %v", err)
		}
	}

	cfg := controller.DefaultConfig()
	cfg.WALPath = filepath.Join(dataDir, "planner.wal")
	cfg.SnapshotPath = filepath.Join(dataDir, "planner.snapshot.json")
	cfg.SnapshotInterval = 0
	cfg.RefreshInterval = 0
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctrl, err := controller.NewController(cfg)
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}
	if err := ctrl.Start(); err != nil {
		log.Fatalf("Failed to start controller: %v", err)
	}
	defer func() {
		if err := ctrl.Stop(); err != nil {
			log.Printf("Failed to stop controller: %v", err)
		}
	}()

	fmt.Printf("✓ Controller started (mode: %s, today: %s)\n", mode, ctrl.Today())

	switch mode {
	case "start":
		orderID, err := seed(ctrl)
		if err != nil {
			log.Fatalf("Failed to seed demo data: %v", err)
		}
		report(ctrl, orderID)

		units := 15
		if _, err := ctrl.RecordProgress(orderID, ctrl.Today(), units); err != nil {
			log.Fatalf("Failed to record progress: %v", err)
		}
		fmt.Printf("\n✓ Recorded %d units for today\n", units)
		report(ctrl, orderID)

		fmt.Println("\n💡 Run 'go run ./cmd/demo recover' to restore this state from disk")

	case "recover":
		st := ctrl.Status()
		fmt.Printf("\n📊 Recovered State:\n")
		fmt.Printf("  Last Seq:    %d\n", st.LastSeq)
		fmt.Printf("  Workers:     %d\n", st.Workers)
		fmt.Printf("  Models:      %d\n", st.Models)
		fmt.Printf("  Assignments: %d\n", st.Assignments)
		fmt.Printf("  Orders:      %d created, %d in progress, %d completed\n",
			st.Orders.Created, st.Orders.InProgress, st.Orders.Completed)

		for _, order := range ctrl.Tracker().Orders() {
			report(ctrl, order.ID)
		}

	default:
		log.Fatalf("Unknown mode %q (want start or recover)", mode)
	}
}

// seed 建立 5 名員工、一個型號，排滿未來兩週並下一張 200 件的訂單
func seed(ctrl *controller.Controller) (types.OrderID, error) {
	staff := []struct {
		name string
		role types.Role
		post types.PostID
	}{
		{"Ana", types.RoleGeneral, 1},
		{"Bo", types.RoleGeneral, 2},
		{"Chen", types.RoleSpecialist, 3},
		{"Dara", types.RoleSpecialist, 4},
		{"Eli", types.RoleSpecialist, 5},
	}

	ids := make([]types.WorkerID, len(staff))
	for i, s := range staff {
		id, err := ctrl.AddWorker(s.name, s.role, 0)
		if err != nil {
			return "", err
		}
		ids[i] = id
	}
	fmt.Printf("✓ Added %d workers\n", len(ids))

	stages := []types.Stage{
		{Name: "housing", Type: types.StageGeneral, TimePerUnit: 0.2},
		{Name: "diode mount", Type: types.StageSpecialist, TimePerUnit: 0.3},
		{Name: "alignment", Type: types.StageSpecialist, TimePerUnit: 0.4},
		{Name: "wiring", Type: types.StageGeneral, TimePerUnit: 0.3},
		{Name: "burn-in", Type: types.StageSpecialist, TimePerUnit: 0.2},
		{Name: "packing", Type: types.StageGeneral, TimePerUnit: 0.3},
	}
	if _, err := ctrl.CreateModel(demoModel, stages); err != nil {
		return "", err
	}
	fmt.Printf("✓ Created model %q with %d stages\n", demoModel, len(stages))

	today := ctrl.Today()
	for d := 0; d < horizon; d++ {
		for i, s := range staff {
			if _, err := ctrl.Assign(today.AddDays(d), s.post, ids[i]); err != nil {
				return "", err
			}
		}
	}
	fmt.Printf("✓ Assigned all posts for the next %d days\n", horizon)

	orderID, err := ctrl.CreateOrder(demoModel, 200)
	if err != nil {
		return "", err
	}
	fmt.Printf("✓ Created order %s (200 × %s)\n", orderID, demoModel)
	return orderID, nil
}

func report(ctrl *controller.Controller, orderID types.OrderID) {
	summary, err := ctrl.Summary(orderID)
	if err != nil {
		log.Printf("Failed to summarize %s: %v", orderID, err)
		return
	}

	if b, err := ctrl.CapacityFor(summary.Model, ctrl.Today()); err == nil {
		fmt.Printf("\n📈 Capacity of %s today: %.2f units/day (bottleneck: %s)\n", b.Model, b.Units, b.Bottleneck)
	}

	proj, err := ctrl.ProjectedCompletion(orderID)
	if err != nil && summary.Status != types.OrderCompleted {
		log.Printf("Failed to project %s: %v", orderID, err)
		return
	}

	fmt.Printf("📦 Order %s: %d / %d (%.1f%%), %s\n",
		orderID, summary.TotalCompleted, summary.Quantity, summary.PercentComplete, summary.Status)
	if proj.Known {
		fmt.Printf("   Projected completion: %s\n", proj.Date)
	} else if summary.Status != types.OrderCompleted {
		fmt.Printf("   Projected completion: unknown within the lookahead window\n")
	}
}
