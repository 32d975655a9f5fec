package k8s

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
)

// Watch 监控 uav-agent Pod 变化并维护端点表，直到 ctx 结束
func (g *FleetGateway) Watch(ctx context.Context) error {
	selector, err := labels.Parse(g.cfg.Label)
	if err != nil {
		return fmt.Errorf("invalid agent label selector %q: %w", g.cfg.Label, err)
	}

	g.logger.Infof("Watching UAV agent pods in namespace: %s", g.cfg.Namespace)
	for {
		g.doWatch(ctx, selector)

		// 如果连接断开，等待一段时间后重试
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (g *FleetGateway) doWatch(ctx context.Context, selector labels.Selector) {
	watcher, err := g.kubeClient.CoreV1().Pods(g.cfg.Namespace).Watch(ctx, metav1.ListOptions{
		LabelSelector: g.cfg.Label,
	})
	if err != nil {
		g.logger.Errorf("Failed to watch UAV agent pods: %v", err)
		return
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.ResultChan():
			if !ok {
				g.logger.Warn("UAV agent pod watcher channel closed")
				return
			}
			g.handlePodEvent(event, selector)
		}
	}
}

// handlePodEvent 运行中的 Pod 登记端点，删除或停止运行时移除
func (g *FleetGateway) handlePodEvent(event watch.Event, selector labels.Selector) {
	pod, ok := event.Object.(*corev1.Pod)
	if !ok {
		g.logger.Warn("Received non-pod object in pod watcher")
		return
	}
	if !selector.Matches(labels.Set(pod.Labels)) {
		return
	}

	id := pod.Labels[DroneIDLabel]
	if id == "" {
		id = pod.Name
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch event.Type {
	case watch.Added, watch.Modified:
		if pod.Status.Phase == corev1.PodRunning && pod.Status.PodIP != "" {
			endpoint := fmt.Sprintf("http://%s:%d", pod.Status.PodIP, g.cfg.Port)
			if g.endpoints[id] != endpoint {
				g.logger.Infof("UAV agent %s available at %s", id, endpoint)
			}
			g.endpoints[id] = endpoint
			return
		}
		if _, exists := g.endpoints[id]; exists {
			g.logger.Warnf("UAV agent %s left running phase (%s)", id, pod.Status.Phase)
			delete(g.endpoints, id)
		}
	case watch.Deleted:
		if _, exists := g.endpoints[id]; exists {
			g.logger.Warnf("UAV agent %s deleted", id)
			delete(g.endpoints, id)
		}
	}
}
