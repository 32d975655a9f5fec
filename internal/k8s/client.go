package k8s

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/uav-mission-core/internal/config"

	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client K8s客户端封装
type Client struct {
	Clientset kubernetes.Interface
	Dynamic   dynamic.Interface
	CRDs      apiextensionsclient.Interface

	config     config.K8sConfig
	restConfig *rest.Config
	logger     *logrus.Logger
}

// NewClient 创建新的K8s客户端
func NewClient(cfg config.K8sConfig, logger *logrus.Logger) (*Client, error) {
	var restConfig *rest.Config
	var err error

	// 如果有kubeconfig文件，使用文件配置
	if cfg.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		// 否则使用in-cluster配置
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	crdClient, err := apiextensionsclient.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create CRD clientset: %w", err)
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}

	return &Client{
		Clientset:  clientset,
		Dynamic:    dynamicClient,
		CRDs:       crdClient,
		config:     cfg,
		restConfig: restConfig,
		logger:     logger,
	}, nil
}

// TestConnection 测试K8s连接
func (c *Client) TestConnection(_ context.Context) error {
	version, err := c.Clientset.Discovery().ServerVersion()
	if err != nil {
		return fmt.Errorf("failed to get server version: %w", err)
	}

	c.logger.Infof("Connected to Kubernetes cluster: %s", version.String())
	return nil
}

// Namespace 无人机 agent 与任务资源所在的 namespace
func (c *Client) Namespace() string {
	return c.config.Namespace
}

// FleetGateway 基于当前连接创建机群网关，cruiseSpeedMPS 为遥测缺少速度时的出价速度
func (c *Client) FleetGateway(cruiseSpeedMPS float64) *FleetGateway {
	return NewFleetGateway(c.Clientset, GatewayConfig{
		Namespace:      c.config.Namespace,
		Label:          c.config.AgentLabel,
		Port:           c.config.AgentPort,
		Timeout:        c.config.RequestTimeout,
		CruiseSpeedMPS: cruiseSpeedMPS,
	}, c.logger)
}

// StatusPublisher 基于当前连接创建任务状态发布器
func (c *Client) StatusPublisher() *StatusPublisher {
	return NewStatusPublisher(c.Dynamic, c.config.Namespace, c.config.StatusName, c.logger)
}
