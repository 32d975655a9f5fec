package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	metricstypes "github.com/yourusername/uav-mission-core/pkg/metrics"
)

// Recorder 汇总每个周期的报告，维护任务快照缓存
type Recorder struct {
	snapshot      *metricstypes.MissionSnapshot
	lastSeen      map[string]time.Time // 每架无人机最近一次被处理的时间
	snapshotMutex sync.RWMutex

	logger *logrus.Logger
}

// NewRecorder 创建记录器
func NewRecorder(logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	return &Recorder{
		snapshot: newSnapshot(""),
		lastSeen: make(map[string]time.Time),
		logger:   logger,
	}
}

func newSnapshot(missionID string) *metricstypes.MissionSnapshot {
	return &metricstypes.MissionSnapshot{
		MissionID:  missionID,
		Timestamp:  time.Now(),
		ModeCounts: make(map[string]int),
		Drones:     make(map[string]metricstypes.DroneTick),
	}
}

// Observe 合并一个周期的报告；任务ID变化时重置统计
func (r *Recorder) Observe(_ context.Context, report metricstypes.TickReport) error {
	r.snapshotMutex.Lock()
	defer r.snapshotMutex.Unlock()

	if report.MissionID != r.snapshot.MissionID {
		r.snapshot = newSnapshot(report.MissionID)
		r.lastSeen = make(map[string]time.Time)
	}

	s := r.snapshot
	s.Timestamp = report.Timestamp
	s.Ticks = report.Tick
	s.Done = report.Done
	s.ActiveDrones = 0
	s.FinishedDrones = 0

	for _, d := range report.Drones {
		if d.Finished {
			s.FinishedDrones++
		} else {
			s.ActiveDrones++
		}
		if d.Skipped {
			continue
		}

		s.Drones[d.DroneID] = d
		r.lastSeen[d.DroneID] = report.Timestamp
		if d.Error != "" {
			s.Errors++
			continue
		}
		s.ModeCounts[d.Mode.String()]++
		if d.InRecovery {
			s.RecoveryTicks++
		}
		if d.ReachedHead {
			s.WaypointsPopped++
		}
	}
	for _, ids := range report.Reassigned {
		s.TasksReassigned += len(ids)
	}

	r.logger.Debugf("Recorded tick %d of mission %s (active: %d, finished: %d)",
		report.Tick, report.MissionID, s.ActiveDrones, s.FinishedDrones)
	return nil
}

// Snapshot 获取最新快照副本
func (r *Recorder) Snapshot() metricstypes.MissionSnapshot {
	r.snapshotMutex.RLock()
	defer r.snapshotMutex.RUnlock()

	s := *r.snapshot
	s.ModeCounts = make(map[string]int, len(r.snapshot.ModeCounts))
	for k, v := range r.snapshot.ModeCounts {
		s.ModeCounts[k] = v
	}
	s.Drones = make(map[string]metricstypes.DroneTick, len(r.snapshot.Drones))
	for k, v := range r.snapshot.Drones {
		s.Drones[k] = v
	}
	return s
}

// GetDroneTick 获取指定无人机最近一次结果
func (r *Recorder) GetDroneTick(droneID string) (metricstypes.DroneTick, error) {
	r.snapshotMutex.RLock()
	defer r.snapshotMutex.RUnlock()

	if d, ok := r.snapshot.Drones[droneID]; ok {
		return d, nil
	}
	return metricstypes.DroneTick{}, fmt.Errorf("no tick recorded for drone: %s", droneID)
}

// StaleDrones 超过 timeout 未被处理的无人机
func (r *Recorder) StaleDrones(now time.Time, timeout time.Duration) []string {
	r.snapshotMutex.RLock()
	defer r.snapshotMutex.RUnlock()

	var stale []string
	for id, ts := range r.lastSeen {
		if d := r.snapshot.Drones[id]; d.Finished {
			continue
		}
		if now.Sub(ts) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}
