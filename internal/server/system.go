package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Resource usage above this percentage marks the host as degraded.
const degradedThreshold = 90.0

const cpuSampleInterval = 200 * time.Millisecond

// PlatformInfo describes the host operating system.
type PlatformInfo struct {
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Arch            string `json:"arch"`
}

// MemoryInfo is virtual memory usage in bytes.
type MemoryInfo struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Used      uint64  `json:"used"`
	Free      uint64  `json:"free"`
	Percent   float64 `json:"percent"`
}

// DiskInfo is usage of the root filesystem in bytes.
type DiskInfo struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

// SystemSnapshot is one reading of host resources.
type SystemSnapshot struct {
	Platform   PlatformInfo `json:"platform"`
	Memory     MemoryInfo   `json:"memory"`
	Disk       DiskInfo     `json:"disk"`
	CPUPercent float64      `json:"cpu_percent"`
	BootTime   uint64       `json:"boot_time"`
}

// SystemProbe reads host resource usage.
type SystemProbe interface {
	Snapshot(ctx context.Context) (SystemSnapshot, error)
}

// HostProbe reads the local host through gopsutil.
type HostProbe struct{}

// Snapshot samples CPU for a short interval and reads memory, disk and
// platform details.
func (HostProbe) Snapshot(ctx context.Context) (SystemSnapshot, error) {
	var snap SystemSnapshot

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("read memory: %w", err)
	}
	snap.Memory = MemoryInfo{
		Total:     vm.Total,
		Available: vm.Available,
		Used:      vm.Used,
		Free:      vm.Free,
		Percent:   vm.UsedPercent,
	}

	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return snap, fmt.Errorf("read disk: %w", err)
	}
	snap.Disk = DiskInfo{Total: du.Total, Used: du.Used, Free: du.Free, Percent: du.UsedPercent}

	percents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return snap, fmt.Errorf("read cpu: %w", err)
	}
	if len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	snap.Platform.OS = runtime.GOOS
	snap.Platform.Arch = runtime.GOARCH
	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Platform.Platform = info.Platform
		snap.Platform.PlatformVersion = info.PlatformVersion
		snap.Platform.KernelVersion = info.KernelVersion
		snap.BootTime = info.BootTime
	}

	return snap, nil
}

// SystemInfoResponse is the body of GET /api/system/info.
type SystemInfoResponse struct {
	GoVersion   string       `json:"go_version"`
	Platform    PlatformInfo `json:"platform"`
	Memory      MemoryInfo   `json:"memory"`
	Disk        DiskInfo     `json:"disk"`
	Environment string       `json:"environment"`
	Timestamp   time.Time    `json:"timestamp"`
}

// SystemHealthResponse is the body of GET /api/system/health.
type SystemHealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	BootTime  uint64            `json:"boot_time"`
	Metrics   map[string]any    `json:"metrics"`
	Services  map[string]string `json:"services"`
	Warnings  []string          `json:"warnings,omitempty"`
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	snap, err := s.system.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("server: system info", "err", err)
		writeError(w, http.StatusInternalServerError, "system_info_unavailable", "Failed to get system information")
		return
	}

	writeJSON(w, http.StatusOK, SystemInfoResponse{
		GoVersion:   runtime.Version(),
		Platform:    snap.Platform,
		Memory:      snap.Memory,
		Disk:        snap.Disk,
		Environment: s.cfg.Environment,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.system.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("server: system health", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, SystemHealthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Warnings:  []string{err.Error()},
		})
		return
	}

	connections, rooms := s.hub.Stats()
	resp := SystemHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		BootTime:  snap.BootTime,
		Metrics: map[string]any{
			"cpu_percent":    snap.CPUPercent,
			"memory_percent": snap.Memory.Percent,
			"disk_percent":   snap.Disk.Percent,
			"connections":    connections,
			"rooms":          rooms,
		},
		Services: map[string]string{
			"http":      "running",
			"websocket": "running",
			"ai":        "placeholder",
		},
	}

	if snap.CPUPercent > degradedThreshold {
		resp.Warnings = append(resp.Warnings, "High CPU usage")
	}
	if snap.Memory.Percent > degradedThreshold {
		resp.Warnings = append(resp.Warnings, "High memory usage")
	}
	if len(resp.Warnings) > 0 {
		resp.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
}
