package scenario

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/uav-mission-core/pkg/models"
	"github.com/yourusername/uav-mission-core/pkg/uav"
)

// ErrInvalidScenario 场景文件内容不合法
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario 一次任务的输入：机群、任务、返航点与环境
type Scenario struct {
	Name string `yaml:"name"`

	Home         *models.Point  `yaml:"home,omitempty"` // 覆盖 energy.home
	LandingZones []models.Point `yaml:"landing_zones,omitempty"`

	Drones    []uav.DroneConfig   `yaml:"drones"`
	Tasks     []models.Task       `yaml:"tasks"`
	Obstacles []uav.WorldObstacle `yaml:"obstacles,omitempty"`
}

// Load 读取并校验场景文件，未填写的无人机参数使用模拟默认值
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}

// Normalize 补齐默认值
func (s *Scenario) Normalize() {
	for i := range s.Drones {
		d := &s.Drones[i]
		d.ID = strings.TrimSpace(d.ID)
		def := uav.DefaultDroneConfig(d.ID)
		if d.NodeName == "" {
			d.NodeName = d.ID
		}
		if s.Home != nil && d.Home == (models.Point{}) {
			d.Home = *s.Home
		} else if d.Home == (models.Point{}) {
			d.Home = def.Home
		}
		if d.BatteryWh == 0 {
			d.BatteryWh = def.BatteryWh
		}
		if d.MaxSpeedMPS == 0 {
			d.MaxSpeedMPS = def.MaxSpeedMPS
		}
		if d.CruisePowerW == 0 {
			d.CruisePowerW = def.CruisePowerW
		}
		if d.HoverPowerW == 0 {
			d.HoverPowerW = def.HoverPowerW
		}
		if d.LinkRangeM == 0 {
			d.LinkRangeM = def.LinkRangeM
		}
		if d.SensorRangeM == 0 {
			d.SensorRangeM = def.SensorRangeM
		}
		if d.FrontRangeM == 0 {
			d.FrontRangeM = def.FrontRangeM
		}
	}
	sort.SliceStable(s.Drones, func(i, j int) bool { return s.Drones[i].ID < s.Drones[j].ID })
}

// LoadTasks 只读取任务部分，机群由外部（集群中的 agent）提供
func LoadTasks(path string) ([]models.Task, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := s.validateTasks(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(s.Tasks) == 0 {
		return nil, fmt.Errorf("%s: %w: no tasks", path, ErrInvalidScenario)
	}
	return s.Tasks, nil
}

// Validate 校验ID唯一与数值范围
func (s *Scenario) Validate() error {
	if err := s.validateDrones(); err != nil {
		return err
	}
	if err := s.validateTasks(); err != nil {
		return err
	}
	for i, o := range s.Obstacles {
		if o.Radius <= 0 {
			return fmt.Errorf("%w: obstacle %d radius must be positive", ErrInvalidScenario, i)
		}
	}
	return nil
}

func (s *Scenario) validateDrones() error {
	if len(s.Drones) == 0 {
		return fmt.Errorf("%w: no drones", ErrInvalidScenario)
	}
	seen := make(map[string]bool, len(s.Drones))
	for _, d := range s.Drones {
		if d.ID == "" {
			return fmt.Errorf("%w: drone without id", ErrInvalidScenario)
		}
		if seen[d.ID] {
			return fmt.Errorf("%w: duplicate drone %s", ErrInvalidScenario, d.ID)
		}
		seen[d.ID] = true
		if d.BatteryWh < 0 || d.MaxSpeedMPS < 0 {
			return fmt.Errorf("%w: drone %s has negative battery or speed", ErrInvalidScenario, d.ID)
		}
	}
	return nil
}

func (s *Scenario) validateTasks() error {
	tasks := make(map[string]bool, len(s.Tasks))
	for _, t := range s.Tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: task without id", ErrInvalidScenario)
		}
		if tasks[t.ID] {
			return fmt.Errorf("%w: duplicate task %s", ErrInvalidScenario, t.ID)
		}
		tasks[t.ID] = true
	}
	return nil
}

// DroneStates 初始状态（分配与规划的输入）
func (s *Scenario) DroneStates() []models.DroneState {
	out := make([]models.DroneState, 0, len(s.Drones))
	for _, d := range s.Drones {
		out = append(out, models.DroneState{
			DroneID:            d.ID,
			Position:           d.Start,
			BatteryRemainingWh: d.BatteryWh,
			CruiseSpeedMPS:     d.MaxSpeedMPS,
		})
	}
	return out
}

// Fleet 按场景构造模拟机群
func (s *Scenario) Fleet() *uav.SimFleet {
	return uav.NewSimFleet(s.Drones, s.Obstacles)
}
