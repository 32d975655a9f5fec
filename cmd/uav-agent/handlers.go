package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/uav-mission-core/pkg/models"
	"github.com/yourusername/uav-mission-core/pkg/uav"
)

// newAgentMux 单机 agent 的 HTTP 接口，响应格式与 FleetGateway 约定一致
func newAgentMux(fleet *uav.SimFleet, droneID string, logger *logrus.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"drone_id":  droneID,
			"timestamp": time.Now(),
		})
	})

	// 获取完整状态
	mux.HandleFunc("/api/v1/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		d, err := fleet.Drone(droneID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, d.GetState())
	})

	// 遥测
	mux.HandleFunc("/api/v1/telemetry", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		t, err := fleet.Telemetry(r.Context(), droneID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, t)
	})

	// 控制接口 - 速度指令
	mux.HandleFunc("/api/v1/command/velocity", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var v models.Velocity
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := fleet.SetVelocity(r.Context(), droneID, v); err != nil {
			writeError(w, err)
			return
		}
		logger.Debugf("Velocity command (%.2f, %.2f, %.2f)", v.VX, v.VY, v.VZ)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "success",
			"message": "velocity accepted",
		})
	})

	// 控制接口 - 航点指令
	mux.HandleFunc("/api/v1/command/waypoint", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var wp models.Waypoint
		if err := json.NewDecoder(r.Body).Decode(&wp); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := fleet.ExecuteWaypoint(r.Context(), droneID, wp); err != nil {
			writeError(w, err)
			return
		}
		logger.Infof("Waypoint command to (%.1f, %.1f, %.1f)", wp.Position.X, wp.Position.Y, wp.Position.Z)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "success",
			"message": "waypoint accepted",
		})
	})

	return mux
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "error",
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
