package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/uav-mission-core/internal/allocator"
	"github.com/yourusername/uav-mission-core/internal/metrics"
	"github.com/yourusername/uav-mission-core/internal/mission"
	"github.com/yourusername/uav-mission-core/internal/store/sqlite"
	metricstypes "github.com/yourusername/uav-mission-core/pkg/metrics"
)

// missionSinks 每周期报告的去向：内存快照与可选的任务日志
type missionSinks struct {
	recorder *metrics.Recorder
	journal  *sqlite.Journal
}

// openSinks 创建记录器，配置了日志路径时打开任务日志并写入初始分配
func openSinks(ctx context.Context, journalPath string, logger *logrus.Logger, runner *mission.Runner, res allocator.Result) (*missionSinks, error) {
	s := &missionSinks{recorder: metrics.NewRecorder(logger)}
	if journalPath == "" {
		return s, nil
	}

	journal, err := sqlite.Open(journalPath)
	if err != nil {
		return nil, err
	}
	if err := journal.Migrate(ctx); err != nil {
		_ = journal.Close()
		return nil, err
	}
	if err := journal.StartMission(ctx, sqlite.Mission{
		ID:        runner.MissionID(),
		Drones:    runner.Drones(),
		TaskCount: runner.Tasks().Len(),
	}); err != nil {
		_ = journal.Close()
		return nil, err
	}
	if err := journal.RecordAssignment(ctx, runner.MissionID(), 0, sqlite.SourceInitial, res.Assignment); err != nil {
		_ = journal.Close()
		return nil, err
	}
	s.journal = journal
	logger.Infof("Journaling mission %s to %s", runner.MissionID(), journalPath)
	return s, nil
}

// observers 按记录器、任务日志、额外观察者的顺序
func (s *missionSinks) observers(extra ...mission.Observer) []mission.Observer {
	out := []mission.Observer{s.recorder}
	if s.journal != nil {
		out = append(out, s.journal)
	}
	return append(out, extra...)
}

func (s *missionSinks) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

// writeSummary 打印任务结束时的统计
func writeSummary(w io.Writer, runner *mission.Runner, snap metricstypes.MissionSnapshot) error {
	book := runner.Tasks()
	fmt.Fprintf(w, "mission %s: ticks=%d done=%t completed=%d/%d unclaimed=%d reassigned=%d errors=%d\n",
		snap.MissionID, snap.Ticks, snap.Done, book.Completed(), book.Len(), len(book.Unclaimed()),
		snap.TasksReassigned, snap.Errors)

	modes := make([]string, 0, len(snap.ModeCounts))
	for m := range snap.ModeCounts {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	for _, m := range modes {
		fmt.Fprintf(w, "  mode %-9s %d\n", m, snap.ModeCounts[m])
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "DRONE\tMODE\tFINISHED\tBATTERY(Wh)\tWAYPOINTS LEFT\n")
	for _, id := range runner.Drones() {
		mode, _ := runner.Mode(id)
		plan, _ := runner.Plan(id)
		d := snap.Drones[id]
		fmt.Fprintf(tw, "%s\t%s\t%t\t%.2f\t%d\n", id, mode, runner.Finished(id), d.BatteryWh, len(plan))
	}
	return tw.Flush()
}
