package k8s

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/uav-mission-core/internal/coverage"
	"github.com/yourusername/uav-mission-core/internal/mission"
	"github.com/yourusername/uav-mission-core/pkg/models"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// DroneIDLabel uav-agent Pod 上标识无人机的 label，缺省时使用 Pod 名
const DroneIDLabel = "uav.io/drone-id"

// agent HTTP 接口
const (
	agentTelemetryPath = "/api/v1/telemetry"
	agentVelocityPath  = "/api/v1/command/velocity"
	agentWaypointPath  = "/api/v1/command/waypoint"
)

// GatewayConfig 机群网关配置
type GatewayConfig struct {
	Namespace string        // uav-agent 所在的 namespace
	Label     string        // uav-agent Pod 的 label selector (默认: app=uav-agent)
	Port      int           // agent HTTP 端口 (默认: 9090)
	Timeout   time.Duration // HTTP请求超时时间

	// CruiseSpeedMPS 遥测未报告最大速度时用于出价的巡航速度
	CruiseSpeedMPS float64
}

// FleetGateway 通过 uav-agent Pod 访问无人机，实现遥测与飞控接口
type FleetGateway struct {
	kubeClient kubernetes.Interface
	cfg        GatewayConfig
	httpClient *http.Client
	logger     *logrus.Logger

	mu        sync.RWMutex
	endpoints map[string]string // droneID -> agent base URL
}

var (
	_ mission.Telemetry       = (*FleetGateway)(nil)
	_ mission.FlightCommander = (*FleetGateway)(nil)
)

// NewFleetGateway 创建机群网关
func NewFleetGateway(kubeClient kubernetes.Interface, cfg GatewayConfig, logger *logrus.Logger) *FleetGateway {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	// 设置默认值
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.Label == "" {
		cfg.Label = "app=uav-agent"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CruiseSpeedMPS <= 0 {
		cfg.CruiseSpeedMPS = coverage.DefaultConfig().CruiseSpeedMPS
	}

	return &FleetGateway{
		kubeClient: kubeClient,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		endpoints:  make(map[string]string),
	}
}

// Discover 列出运行中的 uav-agent Pod 并刷新端点表，返回排序后的无人机ID
func (g *FleetGateway) Discover(ctx context.Context) ([]string, error) {
	pods, err := g.kubeClient.CoreV1().Pods(g.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: g.cfg.Label,
		FieldSelector: "status.phase=Running",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list UAV agent pods: %w", err)
	}

	endpoints := make(map[string]string, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Status.Phase != corev1.PodRunning || pod.Status.PodIP == "" {
			continue
		}
		id := pod.Labels[DroneIDLabel]
		if id == "" {
			id = pod.Name
		}
		endpoints[id] = fmt.Sprintf("http://%s:%d", pod.Status.PodIP, g.cfg.Port)
	}

	g.mu.Lock()
	g.endpoints = endpoints
	g.mu.Unlock()

	ids := make([]string, 0, len(endpoints))
	for id := range endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		g.logger.Warn("No running UAV agent pods found")
	} else {
		g.logger.Infof("Found %d UAV agent pods", len(ids))
	}
	return ids, nil
}

// Drones 读取所有已发现无人机的遥测，组装初始状态
func (g *FleetGateway) Drones(ctx context.Context) ([]models.DroneState, error) {
	ids, err := g.Discover(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]models.DroneState, len(ids))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, id := range ids {
		eg.Go(func() error {
			t, err := g.Telemetry(egCtx, id)
			if err != nil {
				return err
			}
			speed := t.MaxSpeedMPS
			if speed <= 0 {
				speed = g.cfg.CruiseSpeedMPS
			}
			states[i] = models.DroneState{
				DroneID:            id,
				Position:           t.Position,
				BatteryRemainingWh: t.BatteryRemainingWh,
				CruiseSpeedMPS:     speed,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

// Telemetry 读取单架无人机遥测
func (g *FleetGateway) Telemetry(ctx context.Context, droneID string) (models.Telemetry, error) {
	base, err := g.endpoint(ctx, droneID)
	if err != nil {
		return models.Telemetry{}, err
	}

	var t models.Telemetry
	if err := g.do(ctx, http.MethodGet, base+agentTelemetryPath, nil, &t); err != nil {
		return models.Telemetry{}, fmt.Errorf("telemetry %s: %w", droneID, err)
	}
	if t.DroneID == "" {
		t.DroneID = droneID
	}
	return t, nil
}

// SetVelocity 下发速度指令
func (g *FleetGateway) SetVelocity(ctx context.Context, droneID string, v models.Velocity) error {
	base, err := g.endpoint(ctx, droneID)
	if err != nil {
		return err
	}
	if err := g.do(ctx, http.MethodPost, base+agentVelocityPath, v, nil); err != nil {
		return fmt.Errorf("set velocity %s: %w", droneID, err)
	}
	return nil
}

// ExecuteWaypoint 下发航点
func (g *FleetGateway) ExecuteWaypoint(ctx context.Context, droneID string, wp models.Waypoint) error {
	base, err := g.endpoint(ctx, droneID)
	if err != nil {
		return err
	}
	if err := g.do(ctx, http.MethodPost, base+agentWaypointPath, wp, nil); err != nil {
		return fmt.Errorf("execute waypoint %s: %w", droneID, err)
	}
	return nil
}

// endpoint 查找 agent 地址，未知时重新发现一次
func (g *FleetGateway) endpoint(ctx context.Context, droneID string) (string, error) {
	g.mu.RLock()
	base, ok := g.endpoints[droneID]
	g.mu.RUnlock()
	if ok {
		return base, nil
	}

	if _, err := g.Discover(ctx); err != nil {
		return "", err
	}
	g.mu.RLock()
	base, ok = g.endpoints[droneID]
	g.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", mission.ErrUnknownDrone, droneID)
	}
	return base, nil
}

// agentResponse agent 统一响应格式
type agentResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (g *FleetGateway) do(ctx context.Context, method, url string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var apiResp agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Status != "success" {
		return fmt.Errorf("agent error: %s", apiResp.Message)
	}
	if out == nil {
		return nil
	}
	if len(apiResp.Data) == 0 {
		return fmt.Errorf("no data in response")
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}
