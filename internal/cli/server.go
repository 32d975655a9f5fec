package cli

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/yourusername/uav-mission-core/internal/metrics"
)

// newStatusMux 任务状态 HTTP 接口
func newStatusMux(recorder *metrics.Recorder) *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查接口
	mux.HandleFunc("/health", healthHandler)

	// 任务快照
	mux.HandleFunc("/api/v1/mission/snapshot", snapshotHandler(recorder))

	// 单机最近一次结果
	mux.HandleFunc("/api/v1/mission/drones/", droneHandler(recorder))

	return mux
}

// healthHandler 健康检查处理函数
func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func snapshotHandler(recorder *metrics.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "success",
			"data":   recorder.Snapshot(),
		})
	}
}

func droneHandler(recorder *metrics.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		droneID := strings.TrimPrefix(r.URL.Path, "/api/v1/mission/drones/")
		if droneID == "" {
			http.Error(w, "drone id is required", http.StatusBadRequest)
			return
		}
		tick, err := recorder.GetDroneTick(droneID)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"status":  "error",
				"message": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "success",
			"data":   tick,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
