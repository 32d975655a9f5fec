package allocator

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/uav-mission-core/pkg/models"
)

const (
	bidTieEpsilon = 1e-9
	minSpeedMPS   = 0.1
)

// Config 拍卖分配配置
type Config struct {
	Alpha            float64 `mapstructure:"alpha"`               // 优先级权重
	Beta             float64 `mapstructure:"beta"`                // 时间代价权重
	Gamma            float64 `mapstructure:"gamma"`               // 能量超支权重（预留）
	Rounds           int     `mapstructure:"rounds"`              // 同步轮数
	MaxTasksPerAgent int     `mapstructure:"max_tasks_per_agent"` // 单机任务上限
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Alpha:            1.0,
		Beta:             0.02,
		Gamma:            0.08,
		Rounds:           5,
		MaxTasksPerAgent: 999,
	}
}

// Result 分配结果
type Result struct {
	Assignment models.Assignment
	Unclaimed  []models.Task

	// Rounds 实际执行的轮数
	Rounds int
	// PoolSizes 每轮结束后的未认领任务数
	PoolSizes []int
}

// Bid 单机对单个任务的出价
type Bid struct {
	DroneID string
	Value   float64
	Index   int // 最优插入位置
}

// Auctioneer 基于边际收益的同步拍卖
type Auctioneer struct {
	cfg    Config
	logger *logrus.Logger
}

// New 创建拍卖器
func New(cfg Config, logger *logrus.Logger) *Auctioneer {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = DefaultConfig().Rounds
	}
	if cfg.MaxTasksPerAgent <= 0 {
		cfg.MaxTasksPerAgent = DefaultConfig().MaxTasksPerAgent
	}
	return &Auctioneer{cfg: cfg, logger: logger}
}

// Allocate 在任务池上运行若干同步轮次
//
// 每轮中每个任务由出价最高的无人机赢得（平局取字典序较小的ID）。
// 一架无人机每轮至多认领一个任务：赢得任务后其路线改变，本轮其余出价失效，
// 这些任务顺延到下一轮按新路线重新出价。有任务因此顺延的轮次不计入 Rounds 预算。
func (a *Auctioneer) Allocate(tasks []models.Task, drones []models.DroneState) Result {
	routes := make(models.Assignment, len(drones))
	for _, d := range drones {
		routes[d.DroneID] = []models.Task{}
	}

	pool := make([]models.Task, len(tasks))
	copy(pool, tasks)

	result := Result{Assignment: routes}

	budget := 0
	for budget < a.cfg.Rounds && len(pool) > 0 {
		result.Rounds++

		candidates := a.collectBids(pool, drones, routes)
		claimedBy := make(map[string]string)
		taken := make(map[string]bool)
		deferred := make(map[string]bool)

		for _, c := range candidates {
			if taken[c.taskID] {
				continue
			}
			if _, ok := claimedBy[c.bid.DroneID]; ok {
				deferred[c.taskID] = true
				continue
			}
			taken[c.taskID] = true
			claimedBy[c.bid.DroneID] = c.taskID

			route := routes[c.bid.DroneID]
			idx := c.bid.Index
			if idx > len(route) {
				idx = len(route)
			}
			routes[c.bid.DroneID] = insertTask(route, idx, c.task)
		}

		carried := false
		remaining := pool[:0]
		for _, t := range pool {
			if !taken[t.ID] {
				remaining = append(remaining, t)
				carried = carried || deferred[t.ID]
			}
		}
		pool = remaining
		result.PoolSizes = append(result.PoolSizes, len(pool))

		a.logger.Debugf("Auction round %d: %d claims, %d tasks left", result.Rounds, len(claimedBy), len(pool))

		if len(claimedBy) == 0 {
			break
		}
		// 顺延轮至少认领一个任务，任务池严格缩小
		if !carried {
			budget++
		}
	}

	result.Unclaimed = append([]models.Task(nil), pool...)
	if len(result.Unclaimed) > 0 {
		a.logger.Warnf("Auction finished with %d unclaimed tasks after %d rounds", len(result.Unclaimed), result.Rounds)
	}
	return result
}

type candidate struct {
	taskID string
	task   models.Task
	bid    Bid
}

// collectBids 计算所有未达上限无人机对池中任务的出价，按出价降序排列
func (a *Auctioneer) collectBids(pool []models.Task, drones []models.DroneState, routes models.Assignment) []candidate {
	var out []candidate
	for _, d := range drones {
		route := routes[d.DroneID]
		if len(route) >= a.cfg.MaxTasksPerAgent {
			continue
		}
		for _, t := range pool {
			value, idx := a.MarginalGain(d, route, t)
			out = append(out, candidate{
				taskID: t.ID,
				task:   t,
				bid:    Bid{DroneID: d.DroneID, Value: value, Index: idx},
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		bi, bj := out[i].bid, out[j].bid
		if math.Abs(bi.Value-bj.Value) >= bidTieEpsilon {
			return bi.Value > bj.Value
		}
		if bi.DroneID != bj.DroneID {
			return bi.DroneID < bj.DroneID
		}
		return out[i].taskID < out[j].taskID
	})
	return out
}

// MarginalGain 将任务插入路线最优位置的收益及插入位置
func (a *Auctioneer) MarginalGain(drone models.DroneState, route []models.Task, t models.Task) (float64, int) {
	speed := math.Max(drone.CruiseSpeedMPS, minSpeedMPS)
	priority := t.ClampedPriority()

	if len(route) == 0 {
		travel := drone.Position.DistanceXY(t.Target) / speed
		return a.cfg.Alpha*priority - a.cfg.Beta*travel - a.cfg.Gamma*energyOverhead(drone, t), 0
	}

	bestGain, bestIdx := math.Inf(-1), 0
	for i := 0; i <= len(route); i++ {
		prev := drone.Position
		if i > 0 {
			prev = route[i-1].Target
		}
		next := route[len(route)-1].Target
		if i < len(route) {
			next = route[i].Target
		}

		added := prev.DistanceXY(t.Target) + t.Target.DistanceXY(next)
		removed := prev.DistanceXY(next)
		deltaTime := math.Max(0, added-removed) / speed

		gain := a.cfg.Alpha*priority - a.cfg.Beta*deltaTime - a.cfg.Gamma*energyOverhead(drone, t)
		if gain > bestGain {
			bestGain, bestIdx = gain, i
		}
	}
	return bestGain, bestIdx
}

// energyOverhead 能量超支项，当前没有精确模型，恒为 0
func energyOverhead(models.DroneState, models.Task) float64 {
	return 0
}

func insertTask(route []models.Task, idx int, t models.Task) []models.Task {
	out := make([]models.Task, 0, len(route)+1)
	out = append(out, route[:idx]...)
	out = append(out, t)
	out = append(out, route[idx:]...)
	return out
}
