package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	metricstypes "github.com/yourusername/uav-mission-core/pkg/metrics"
	"github.com/yourusername/uav-mission-core/pkg/models"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS missions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	drones TEXT NOT NULL,
	task_count INTEGER NOT NULL DEFAULT 0,
	ticks INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NULL
);

CREATE TABLE IF NOT EXISTS assignments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mission_id TEXT NOT NULL,
	drone_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	source TEXT NOT NULL,
	tick INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(mission_id) REFERENCES missions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_assignments_mission ON assignments(mission_id, task_id);

CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mission_id TEXT NOT NULL,
	tick INTEGER NOT NULL,
	drone_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	battery_wh REAL NOT NULL,
	margin_wh REAL NOT NULL,
	link_quality REAL NOT NULL,
	plan_length INTEGER NOT NULL,
	in_recovery INTEGER NOT NULL,
	finished INTEGER NOT NULL,
	released TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	FOREIGN KEY(mission_id) REFERENCES missions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_decisions_mission ON decisions(mission_id, tick);
`

// 任务状态
const (
	MissionRunning   = "running"
	MissionCompleted = "completed"
)

// 分配来源
const (
	SourceInitial   = "initial"
	SourceRebalance = "rebalance"
)

// Mission 任务记录
type Mission struct {
	ID         string
	Status     string
	Drones     []string
	TaskCount  int
	Ticks      int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// AssignmentRecord 任务分配记录
type AssignmentRecord struct {
	MissionID string
	DroneID   string
	TaskID    string
	Seq       int
	Source    string
	Tick      int
	CreatedAt time.Time
}

// DecisionRecord 单机状态变化记录（模式切换、恢复进出、交回任务、完成、错误）
type DecisionRecord struct {
	MissionID   string
	Tick        int
	DroneID     string
	Mode        models.Mode
	BatteryWh   float64
	MarginWh    float64
	LinkQuality float64
	PlanLength  int
	InRecovery  bool
	Finished    bool
	Released    []string
	LastError   string
	CreatedAt   time.Time
}

type droneKey struct {
	mission string
	drone   string
}

// Journal 任务日志存储
type Journal struct {
	db *sql.DB

	mu   sync.Mutex
	last map[droneKey]metricstypes.DroneTick
}

// Open 打开数据库并设置 pragma
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Journal{db: db, last: make(map[droneKey]metricstypes.DroneTick)}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// StartMission 记录新任务
func (j *Journal) StartMission(ctx context.Context, m Mission) error {
	if m.StartedAt.IsZero() {
		m.StartedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = MissionRunning
	}
	drones, err := json.Marshal(m.Drones)
	if err != nil {
		return fmt.Errorf("encode drones: %w", err)
	}

	_, err = j.db.ExecContext(
		ctx,
		`INSERT INTO missions(id, status, drones, task_count, ticks, started_at, finished_at)
		VALUES(?, ?, ?, ?, ?, ?, NULL)`,
		m.ID, m.Status, string(drones), m.TaskCount, m.Ticks, m.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("start mission: %w", err)
	}
	return nil
}

// GetMission 查询任务
func (j *Journal) GetMission(ctx context.Context, missionID string) (Mission, error) {
	row := j.db.QueryRowContext(
		ctx,
		`SELECT id, status, drones, task_count, ticks, started_at, finished_at
		FROM missions WHERE id = ?`,
		missionID,
	)
	var m Mission
	var drones string
	var started int64
	var finished sql.NullInt64
	if err := row.Scan(&m.ID, &m.Status, &drones, &m.TaskCount, &m.Ticks, &started, &finished); err != nil {
		return Mission{}, fmt.Errorf("get mission: %w", err)
	}
	if err := json.Unmarshal([]byte(drones), &m.Drones); err != nil {
		return Mission{}, fmt.Errorf("decode drones: %w", err)
	}
	m.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		ts := time.UnixMilli(finished.Int64).UTC()
		m.FinishedAt = &ts
	}
	return m, nil
}

// RecordAssignment 在一个事务中写入分配结果
func (j *Journal) RecordAssignment(ctx context.Context, missionID string, tick int, source string, a models.Assignment) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().UnixMilli()
	for droneID, tasks := range a {
		for seq, t := range tasks {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO assignments(mission_id, drone_id, task_id, seq, source, tick, created_at)
				VALUES(?, ?, ?, ?, ?, ?, ?)`,
				missionID, droneID, t.ID, seq, source, tick, now,
			); err != nil {
				return fmt.Errorf("insert assignment %s/%s: %w", droneID, t.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment: %w", err)
	}
	return nil
}

// ListAssignments 按写入顺序列出分配记录
func (j *Journal) ListAssignments(ctx context.Context, missionID string) ([]AssignmentRecord, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT mission_id, drone_id, task_id, seq, source, tick, created_at
		FROM assignments WHERE mission_id = ? ORDER BY id ASC`,
		missionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	result := make([]AssignmentRecord, 0)
	for rows.Next() {
		var r AssignmentRecord
		var created int64
		if err := rows.Scan(&r.MissionID, &r.DroneID, &r.TaskID, &r.Seq, &r.Source, &r.Tick, &created); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return result, nil
}

// Observe 写入本周期的状态变化、重分配与任务完成
func (j *Journal) Observe(ctx context.Context, report metricstypes.TickReport) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin observe tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status := MissionRunning
	var finished sql.NullInt64
	if report.Done {
		status = MissionCompleted
		finished = sql.NullInt64{Int64: time.Now().UTC().UnixMilli(), Valid: true}
	}
	res, err := tx.ExecContext(
		ctx,
		`UPDATE missions SET ticks = ?, status = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?`,
		report.Tick, status, finished, report.MissionID,
	)
	if err != nil {
		return fmt.Errorf("update mission: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update mission: %w", err)
	} else if n == 0 {
		return fmt.Errorf("mission %s not found", report.MissionID)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	changed := make(map[droneKey]metricstypes.DroneTick)
	for _, d := range report.Drones {
		if d.Skipped {
			continue
		}
		key := droneKey{mission: report.MissionID, drone: d.DroneID}
		prev, seen := j.last[key]
		if seen && !significant(prev, d) {
			continue
		}
		if err := insertDecision(ctx, tx, report, d); err != nil {
			return err
		}
		changed[key] = d
	}

	now := time.Now().UTC().UnixMilli()
	for droneID, taskIDs := range report.Reassigned {
		for seq, taskID := range taskIDs {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO assignments(mission_id, drone_id, task_id, seq, source, tick, created_at)
				VALUES(?, ?, ?, ?, ?, ?, ?)`,
				report.MissionID, droneID, taskID, seq, SourceRebalance, report.Tick, now,
			); err != nil {
				return fmt.Errorf("insert reassignment %s/%s: %w", droneID, taskID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit observe: %w", err)
	}
	for k, v := range changed {
		j.last[k] = v
	}
	return nil
}

// significant 是否需要写入一条新记录
func significant(prev, cur metricstypes.DroneTick) bool {
	return prev.Mode != cur.Mode ||
		prev.InRecovery != cur.InRecovery ||
		prev.Finished != cur.Finished ||
		len(cur.ReleasedTasks) > 0 ||
		cur.Error != ""
}

func insertDecision(ctx context.Context, tx *sql.Tx, report metricstypes.TickReport, d metricstypes.DroneTick) error {
	released, err := json.Marshal(nonNil(d.ReleasedTasks))
	if err != nil {
		return fmt.Errorf("encode released tasks: %w", err)
	}
	ts := d.Timestamp
	if ts.IsZero() {
		ts = report.Timestamp
	}
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO decisions(
			mission_id, tick, drone_id, mode, battery_wh, margin_wh, link_quality,
			plan_length, in_recovery, finished, released, last_error, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.MissionID, report.Tick, d.DroneID, d.Mode.String(), d.BatteryWh, d.MarginWh, d.LinkQuality,
		d.PlanLength, boolToInt(d.InRecovery), boolToInt(d.Finished), string(released), d.Error, ts.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.DroneID, err)
	}
	return nil
}

// ListDecisions 按周期顺序列出记录
func (j *Journal) ListDecisions(ctx context.Context, missionID string) ([]DecisionRecord, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT mission_id, tick, drone_id, mode, battery_wh, margin_wh, link_quality,
			plan_length, in_recovery, finished, released, last_error, created_at
		FROM decisions WHERE mission_id = ? ORDER BY tick ASC, id ASC`,
		missionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	result := make([]DecisionRecord, 0)
	for rows.Next() {
		var r DecisionRecord
		var mode, released string
		var inRecovery, finished int
		var created int64
		if err := rows.Scan(
			&r.MissionID, &r.Tick, &r.DroneID, &mode, &r.BatteryWh, &r.MarginWh, &r.LinkQuality,
			&r.PlanLength, &inRecovery, &finished, &released, &r.LastError, &created,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if r.Mode, err = models.ParseMode(mode); err != nil {
			return nil, fmt.Errorf("decode decision mode: %w", err)
		}
		if err := json.Unmarshal([]byte(released), &r.Released); err != nil {
			return nil, fmt.Errorf("decode released tasks: %w", err)
		}
		r.InRecovery = inRecovery != 0
		r.Finished = finished != 0
		r.CreatedAt = time.UnixMilli(created).UTC()
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return result, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
