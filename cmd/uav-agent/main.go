package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/uav-mission-core/internal/scenario"
	"github.com/yourusername/uav-mission-core/pkg/uav"
)

func main() {
	var port int
	var droneID, scenarioPath string
	var updateRate time.Duration

	flag.IntVar(&port, "port", 9090, "HTTP server port")
	flag.StringVar(&droneID, "drone-id", "", "drone ID (defaults to DRONE_ID or UAV-<node>)")
	flag.StringVar(&scenarioPath, "scenario", "", "optional scenario file providing drone parameters and obstacles")
	flag.DurationVar(&updateRate, "update-rate", 100*time.Millisecond, "simulation step interval")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})

	// 获取节点信息
	nodeName := os.Getenv("NODE_NAME")
	if nodeName == "" {
		nodeName = "unknown-node"
	}
	if droneID == "" {
		droneID = strings.TrimSpace(os.Getenv("DRONE_ID"))
	}
	if droneID == "" {
		droneID = fmt.Sprintf("UAV-%s", nodeName)
	}
	if envPort := os.Getenv("AGENT_PORT"); envPort != "" && port == 9090 {
		if p, err := strconv.Atoi(envPort); err == nil {
			port = p
		} else {
			logger.Warnf("Invalid AGENT_PORT value %q: %v", envPort, err)
		}
	}

	droneCfg, obstacles, err := loadDrone(droneID, nodeName, scenarioPath)
	if err != nil {
		logger.Fatalf("Failed to load drone configuration: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"drone_id": droneID,
		"node":     nodeName,
		"port":     port,
	}).Info("Starting UAV agent")

	fleet := uav.NewSimFleet([]uav.DroneConfig{droneCfg}, obstacles)
	fleet.SetUpdateRate(updateRate)
	fleet.Start()
	logger.Infof("Simulator started (step %s)", updateRate)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      newAgentMux(fleet, droneID, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server starting on port %d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down UAV agent...")

	fleet.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("UAV agent exited")
}

// loadDrone 从场景文件中取本机参数，未提供时使用默认参数
func loadDrone(droneID, nodeName, scenarioPath string) (uav.DroneConfig, []uav.WorldObstacle, error) {
	cfg := uav.DefaultDroneConfig(droneID)
	cfg.NodeName = nodeName
	if scenarioPath == "" {
		return cfg, nil, nil
	}

	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return cfg, nil, err
	}
	for _, d := range sc.Drones {
		if d.ID == droneID {
			d.NodeName = nodeName
			return d, sc.Obstacles, nil
		}
	}
	return cfg, sc.Obstacles, nil
}
