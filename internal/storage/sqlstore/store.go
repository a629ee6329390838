// Package sqlstore keeps a relational copy of planner state.
//
// The store holds the same content as a snapshot, split across tables so it
// can be queried or loaded by other tools. Save replaces everything in one
// transaction; Load rebuilds a types.SnapshotData that the controller can
// restore from.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ChuLiYu/line-planner/pkg/types"
)

const (
	metaLastSeq   = "last_seq"
	metaSchemaVer = "schema_ver"
)

// Store is a database/sql backed copy of planner state.
type Store struct {
	db      *sql.DB
	dialect Dialect
	prefix  string
	owned   bool
}

// Open opens a database with the given driver and wraps it in a Store.
func Open(driver, dsn, prefix string) (*Store, error) {
	dialect, err := parseDialect(driver)
	if err != nil {
		return nil, err
	}
	if err := validatePrefix(prefix); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if dialect == SQLite {
		// sqlite allows one writer at a time
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, dialect: dialect, prefix: prefix, owned: true}, nil
}

// New wraps an existing database handle; Close leaves it open.
func New(db *sql.DB, driver, prefix string) (*Store, error) {
	dialect, err := parseDialect(driver)
	if err != nil {
		return nil, err
	}
	if err := validatePrefix(prefix); err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: dialect, prefix: prefix}, nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) table(name string) string { return s.prefix + name }

// Migrate creates the tables if they do not exist.
// Statements run one at a time since the mysql driver rejects multi-statement Exec by default.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect, s.prefix) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// Save replaces the stored state with data.
func (s *Store) Save(ctx context.Context, data types.SnapshotData) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i := len(tables) - 1; i >= 0; i-- {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+s.table(tables[i])); err != nil {
			return fmt.Errorf("failed to clear %s: %w", tables[i], err)
		}
	}

	exec := func(query string, args ...any) error {
		_, err := tx.ExecContext(ctx, s.dialect.rebind(query), args...)
		return err
	}

	metaInsert := fmt.Sprintf("INSERT INTO %s (meta_key, meta_value) VALUES (?, ?)", s.table("meta"))
	if err = exec(metaInsert, metaLastSeq, strconv.FormatUint(data.LastSeq, 10)); err != nil {
		return fmt.Errorf("failed to save meta: %w", err)
	}
	if err = exec(metaInsert, metaSchemaVer, strconv.Itoa(data.SchemaVer)); err != nil {
		return fmt.Errorf("failed to save meta: %w", err)
	}

	workerInsert := fmt.Sprintf("INSERT INTO %s (id, name, role, hours_per_day) VALUES (?, ?, ?, ?)", s.table("workers"))
	for _, w := range data.Workers {
		if err = exec(workerInsert, string(w.ID), w.Name, string(w.Role), w.HoursPerDay); err != nil {
			return fmt.Errorf("failed to save worker %s: %w", w.ID, err)
		}
	}

	modelInsert := fmt.Sprintf("INSERT INTO %s (name) VALUES (?)", s.table("models"))
	stageInsert := fmt.Sprintf("INSERT INTO %s (model, seq, name, stage_type, time_per_unit) VALUES (?, ?, ?, ?, ?)", s.table("stages"))
	for _, m := range data.Models {
		if err = exec(modelInsert, string(m.ID)); err != nil {
			return fmt.Errorf("failed to save model %s: %w", m.ID, err)
		}
		for i, st := range m.Stages {
			if err = exec(stageInsert, string(m.ID), i, st.Name, string(st.Type), st.TimePerUnit); err != nil {
				return fmt.Errorf("failed to save stage %s/%d: %w", m.ID, i, err)
			}
		}
	}

	postInsert := fmt.Sprintf("INSERT INTO %s (id, post_type) VALUES (?, ?)", s.table("posts"))
	for _, p := range data.Posts {
		if err = exec(postInsert, int(p.ID), string(p.Type)); err != nil {
			return fmt.Errorf("failed to save post %d: %w", p.ID, err)
		}
	}

	assignInsert := fmt.Sprintf("INSERT INTO %s (work_date, post_id, worker_id) VALUES (?, ?, ?)", s.table("assignments"))
	for _, a := range data.Assignments {
		if err = exec(assignInsert, a.Date.String(), int(a.PostID), string(a.WorkerID)); err != nil {
			return fmt.Errorf("failed to save assignment %s/%d: %w", a.Date, a.PostID, err)
		}
	}

	orderInsert := fmt.Sprintf(`INSERT INTO %s (id, model, quantity, created_on, status, projection_date, projection_known, projection_as_of)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table("orders"))
	progressInsert := fmt.Sprintf("INSERT INTO %s (order_id, work_date, units) VALUES (?, ?, ?)", s.table("progress"))
	for _, o := range data.Orders {
		var projDate, projAsOf sql.NullString
		known := 0
		if o.Projection != nil {
			projDate = sql.NullString{String: o.Projection.Date.String(), Valid: true}
			projAsOf = sql.NullString{String: o.Projection.AsOf.String(), Valid: true}
			if o.Projection.Known {
				known = 1
			}
		}
		if err = exec(orderInsert, string(o.ID), string(o.Model), o.Quantity, o.CreatedOn.String(),
			string(o.Status), projDate, known, projAsOf); err != nil {
			return fmt.Errorf("failed to save order %s: %w", o.ID, err)
		}
		for _, p := range o.Progress {
			if err = exec(progressInsert, string(o.ID), p.Date.String(), p.Units); err != nil {
				return fmt.Errorf("failed to save progress %s/%s: %w", o.ID, p.Date, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Load reads the stored state. An empty store yields empty slices.
func (s *Store) Load(ctx context.Context) (types.SnapshotData, error) {
	data := types.SnapshotData{
		Workers:     []types.Worker{},
		Models:      []types.Model{},
		Posts:       []types.Post{},
		Assignments: []types.Assignment{},
		Orders:      []types.Order{},
	}

	if err := s.loadMeta(ctx, &data); err != nil {
		return data, err
	}

	err := s.query(ctx, "SELECT id, name, role, hours_per_day FROM %s ORDER BY id", "workers", func(rows *sql.Rows) error {
		var w types.Worker
		if err := rows.Scan(&w.ID, &w.Name, &w.Role, &w.HoursPerDay); err != nil {
			return err
		}
		data.Workers = append(data.Workers, w)
		return nil
	})
	if err != nil {
		return data, err
	}

	models := map[types.ModelID]int{}
	err = s.query(ctx, "SELECT name FROM %s ORDER BY name", "models", func(rows *sql.Rows) error {
		var m types.Model
		if err := rows.Scan(&m.ID); err != nil {
			return err
		}
		models[m.ID] = len(data.Models)
		data.Models = append(data.Models, m)
		return nil
	})
	if err != nil {
		return data, err
	}

	err = s.query(ctx, "SELECT model, name, stage_type, time_per_unit FROM %s ORDER BY model, seq", "stages", func(rows *sql.Rows) error {
		var model types.ModelID
		var st types.Stage
		if err := rows.Scan(&model, &st.Name, &st.Type, &st.TimePerUnit); err != nil {
			return err
		}
		i, ok := models[model]
		if !ok {
			return fmt.Errorf("stage references unknown model %s", model)
		}
		data.Models[i].Stages = append(data.Models[i].Stages, st)
		return nil
	})
	if err != nil {
		return data, err
	}

	err = s.query(ctx, "SELECT id, post_type FROM %s ORDER BY id", "posts", func(rows *sql.Rows) error {
		var p types.Post
		if err := rows.Scan(&p.ID, &p.Type); err != nil {
			return err
		}
		data.Posts = append(data.Posts, p)
		return nil
	})
	if err != nil {
		return data, err
	}

	err = s.query(ctx, "SELECT work_date, post_id, worker_id FROM %s ORDER BY work_date, post_id", "assignments", func(rows *sql.Rows) error {
		var a types.Assignment
		var date string
		if err := rows.Scan(&date, &a.PostID, &a.WorkerID); err != nil {
			return err
		}
		d, err := types.ParseDate(date)
		if err != nil {
			return err
		}
		a.Date = d
		data.Assignments = append(data.Assignments, a)
		return nil
	})
	if err != nil {
		return data, err
	}

	orders := map[types.OrderID]int{}
	err = s.query(ctx, `SELECT id, model, quantity, created_on, status, projection_date, projection_known, projection_as_of
		FROM %s ORDER BY created_on, id`, "orders", func(rows *sql.Rows) error {
		var o types.Order
		var created string
		var projDate, projAsOf sql.NullString
		var known int
		if err := rows.Scan(&o.ID, &o.Model, &o.Quantity, &created, &o.Status, &projDate, &known, &projAsOf); err != nil {
			return err
		}
		d, err := types.ParseDate(created)
		if err != nil {
			return err
		}
		o.CreatedOn = d
		o.Progress = []types.ProgressEntry{}
		if projDate.Valid {
			p := types.Projection{Known: known == 1}
			if p.Date, err = types.ParseDate(projDate.String); err != nil {
				return err
			}
			if projAsOf.Valid {
				if p.AsOf, err = types.ParseDate(projAsOf.String); err != nil {
					return err
				}
			}
			o.Projection = &p
		}
		orders[o.ID] = len(data.Orders)
		data.Orders = append(data.Orders, o)
		return nil
	})
	if err != nil {
		return data, err
	}

	err = s.query(ctx, "SELECT order_id, work_date, units FROM %s ORDER BY order_id, work_date", "progress", func(rows *sql.Rows) error {
		var id types.OrderID
		var date string
		var e types.ProgressEntry
		if err := rows.Scan(&id, &date, &e.Units); err != nil {
			return err
		}
		d, err := types.ParseDate(date)
		if err != nil {
			return err
		}
		e.Date = d
		i, ok := orders[id]
		if !ok {
			return fmt.Errorf("progress references unknown order %s", id)
		}
		data.Orders[i].Progress = append(data.Orders[i].Progress, e)
		data.Orders[i].TotalCompleted += e.Units
		return nil
	})
	if err != nil {
		return data, err
	}

	return data, nil
}

func (s *Store) loadMeta(ctx context.Context, data *types.SnapshotData) error {
	return s.query(ctx, "SELECT meta_key, meta_value FROM %s", "meta", func(rows *sql.Rows) error {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		switch key {
		case metaLastSeq:
			seq, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			data.LastSeq = seq
		case metaSchemaVer:
			ver, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			data.SchemaVer = ver
		}
		return nil
	})
}

// query runs a SELECT against one table and calls fn for every row.
func (s *Store) query(ctx context.Context, format, table string, fn func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(format, s.table(table)))
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return fmt.Errorf("failed to load %s: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load %s: %w", table, err)
	}
	return nil
}
