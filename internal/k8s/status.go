package k8s

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/uav-mission-core/internal/mission"
	metricstypes "github.com/yourusername/uav-mission-core/pkg/metrics"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

var missionStatusGVR = schema.GroupVersionResource{
	Group:    "uav.io",
	Version:  "v1",
	Resource: "missionstatuses",
}

// 任务阶段
const (
	PhaseRunning   = "Running"
	PhaseCompleted = "Completed"
)

// StatusPublisher 将每个周期的报告写入 MissionStatus 资源的 status
type StatusPublisher struct {
	dynamic   dynamic.Interface
	namespace string
	name      string
	logger    *logrus.Logger
}

var _ mission.Observer = (*StatusPublisher)(nil)

// NewStatusPublisher 创建状态发布器
func NewStatusPublisher(dyn dynamic.Interface, namespace, name string, logger *logrus.Logger) *StatusPublisher {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	if namespace == "" {
		namespace = "default"
	}
	if name == "" {
		name = "mission"
	}
	return &StatusPublisher{dynamic: dyn, namespace: namespace, name: name, logger: logger}
}

// Observe 创建或更新 MissionStatus
func (p *StatusPublisher) Observe(ctx context.Context, report metricstypes.TickReport) error {
	client := p.dynamic.Resource(missionStatusGVR).Namespace(p.namespace)

	status := buildStatus(report)

	obj, err := client.Get(ctx, p.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		obj = &unstructured.Unstructured{Object: map[string]interface{}{
			"apiVersion": missionStatusGVR.GroupVersion().String(),
			"kind":       "MissionStatus",
			"metadata": map[string]interface{}{
				"name":      p.name,
				"namespace": p.namespace,
			},
			"spec": map[string]interface{}{
				"missionId": report.MissionID,
			},
			"status": status,
		}}
		if _, err := client.Create(ctx, obj, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("create mission status failed: %w", err)
		}
		p.logger.Infof("Created MissionStatus %s/%s for mission %s", p.namespace, p.name, report.MissionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get mission status failed: %w", err)
	}

	if err := unstructured.SetNestedField(obj.Object, report.MissionID, "spec", "missionId"); err != nil {
		return fmt.Errorf("set spec failed: %w", err)
	}
	if err := unstructured.SetNestedMap(obj.Object, status, "status"); err != nil {
		return fmt.Errorf("set status failed: %w", err)
	}

	// CRD 未启用 status 子资源，整体更新
	if _, err := client.Update(ctx, obj, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update mission status failed: %w", err)
	}
	p.logger.Debugf("Updated MissionStatus %s/%s (tick %d)", p.namespace, p.name, report.Tick)
	return nil
}

// buildStatus 报告 -> status，只使用 JSON 兼容类型
func buildStatus(report metricstypes.TickReport) map[string]interface{} {
	phase := PhaseRunning
	if report.Done {
		phase = PhaseCompleted
	}

	var active, finished, errs int64
	drones := make(map[string]interface{}, len(report.Drones))
	for _, d := range report.Drones {
		if d.Finished {
			finished++
		} else {
			active++
		}
		entry := map[string]interface{}{
			"mode":       d.Mode.String(),
			"batteryWh":  d.BatteryWh,
			"planLength": int64(d.PlanLength),
			"inRecovery": d.InRecovery,
			"finished":   d.Finished,
		}
		if d.Error != "" {
			errs++
			entry["error"] = d.Error
		}
		drones[d.DroneID] = entry
	}

	reassigned := make([]interface{}, 0)
	ids := make([]string, 0, len(report.Reassigned))
	for id := range report.Reassigned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, taskID := range report.Reassigned[id] {
			reassigned = append(reassigned, map[string]interface{}{"drone": id, "task": taskID})
		}
	}

	unclaimed := make([]interface{}, 0, len(report.Unclaimed))
	for _, taskID := range report.Unclaimed {
		unclaimed = append(unclaimed, taskID)
	}

	ts := report.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return map[string]interface{}{
		"phase":          phase,
		"missionId":      report.MissionID,
		"tick":           int64(report.Tick),
		"activeDrones":   active,
		"finishedDrones": finished,
		"errors":         errs,
		"drones":         drones,
		"reassigned":     reassigned,
		"unclaimed":      unclaimed,
		"lastUpdated":    ts.UTC().Format(time.RFC3339),
	}
}
