package mission

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yourusername/uav-mission-core/pkg/models"
)

// TaskBook 任务簿：记录每个任务的归属与完成情况
type TaskBook struct {
	mu     sync.Mutex
	tasks  map[string]models.Task
	owner  map[string]string
	closed map[string]bool
}

// NewTaskBook 创建任务簿，任务ID必须唯一
func NewTaskBook(tasks []models.Task) (*TaskBook, error) {
	b := &TaskBook{
		tasks:  make(map[string]models.Task, len(tasks)),
		owner:  make(map[string]string),
		closed: make(map[string]bool),
	}
	for _, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task with empty id")
		}
		if _, dup := b.tasks[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		b.tasks[t.ID] = t
	}
	return b, nil
}

// Assign 记录分配结果
func (b *TaskBook) Assign(a models.Assignment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for droneID, tasks := range a {
		for _, t := range tasks {
			if _, ok := b.tasks[t.ID]; !ok {
				continue
			}
			b.owner[t.ID] = droneID
		}
	}
}

// Owner 任务当前归属
func (b *TaskBook) Owner(taskID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.owner[taskID]
	return id, ok
}

// Sync 将该机名下已不在计划中的任务标记为完成，返回新完成的任务ID
func (b *TaskBook) Sync(droneID string, plan models.Plan) []string {
	present := make(map[string]struct{})
	for _, id := range plan.TaskIDs() {
		present[id] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var done []string
	for taskID, owner := range b.owner {
		if owner != droneID || b.closed[taskID] {
			continue
		}
		if _, ok := present[taskID]; ok {
			continue
		}
		b.closed[taskID] = true
		done = append(done, taskID)
	}
	sort.Strings(done)
	return done
}

// Outstanding 该机名下尚未完成的任务（按ID排序）
func (b *TaskBook) Outstanding(droneID string) []models.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outstandingLocked(droneID)
}

func (b *TaskBook) outstandingLocked(droneID string) []models.Task {
	var out []models.Task
	for taskID, owner := range b.owner {
		if owner == droneID && !b.closed[taskID] {
			out = append(out, b.tasks[taskID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Release 交回该机未完成的任务，这些任务回到未认领池
func (b *TaskBook) Release(droneID string) []models.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.outstandingLocked(droneID)
	for _, t := range out {
		delete(b.owner, t.ID)
	}
	return out
}

// Unclaimed 无归属且未完成的任务（按ID排序）
func (b *TaskBook) Unclaimed() []models.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Task
	for id, t := range b.tasks {
		if _, owned := b.owner[id]; owned || b.closed[id] {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Completed 已完成任务数
func (b *TaskBook) Completed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.closed)
}

// Len 任务总数
func (b *TaskBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}
