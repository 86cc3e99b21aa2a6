// Package handler implements HTTP request handlers for the ops dashboard
package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
	"omnidesk-triage/internal/core/services"
)

// DashboardHandler serves system health and triage operational metrics.
type DashboardHandler struct {
	cache       ports.ResponseCache
	escalations *services.EscalationService
	balancer    *services.LoadBalancer
}

// NewDashboardHandler creates a new dashboard handler instance
func NewDashboardHandler(cache ports.ResponseCache, escalations *services.EscalationService, balancer *services.LoadBalancer) *DashboardHandler {
	return &DashboardHandler{
		cache:       cache,
		escalations: escalations,
		balancer:    balancer,
	}
}

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	CPUPercent      float64 `json:"cpu_percent"`
	RAMUsedGB       float64 `json:"ram_used_gb"`
	RAMTotalGB      float64 `json:"ram_total_gb"`
	RAMPercent      float64 `json:"ram_percent"`
	DiskUsedGB      float64 `json:"disk_used_gb"`
	DiskTotalGB     float64 `json:"disk_total_gb"`
	DiskPercent     float64 `json:"disk_percent"`
	GoroutinesCount int     `json:"goroutines_count"`
}

// GetSystemMetrics returns current system health metrics
// GET /api/system/metrics
func (h *DashboardHandler) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// CPU usage (average over 1 second)
	cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false)
	var cpuPercent float64
	if err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	// Memory stats
	memStat, err := mem.VirtualMemoryWithContext(ctx)
	var ramUsedGB, ramTotalGB, ramPercent float64
	if err == nil {
		ramUsedGB = float64(memStat.Used) / 1024 / 1024 / 1024
		ramTotalGB = float64(memStat.Total) / 1024 / 1024 / 1024
		ramPercent = memStat.UsedPercent
	}

	// Disk stats (root partition)
	diskStat, err := disk.UsageWithContext(ctx, ".")
	var diskUsedGB, diskTotalGB, diskPercent float64
	if err == nil {
		diskUsedGB = float64(diskStat.Used) / 1024 / 1024 / 1024
		diskTotalGB = float64(diskStat.Total) / 1024 / 1024 / 1024
		diskPercent = diskStat.UsedPercent
	}

	writeJSON(w, NewSuccessResponse(SystemMetricsResponse{
		CPUPercent:      cpuPercent,
		RAMUsedGB:       ramUsedGB,
		RAMTotalGB:      ramTotalGB,
		RAMPercent:      ramPercent,
		DiskUsedGB:      diskUsedGB,
		DiskTotalGB:     diskTotalGB,
		DiskPercent:     diskPercent,
		GoroutinesCount: runtime.NumGoroutine(),
	}))
}

// TriageMetricsResponse represents triage operational data
type TriageMetricsResponse struct {
	CacheHits          int64           `json:"cache_hits"`
	CacheMisses        int64           `json:"cache_misses"`
	CacheHitRate       float64         `json:"cache_hit_rate"`
	PendingEscalations int             `json:"pending_escalations"`
	AvailableAgents    []*domain.Agent `json:"available_agents"`
}

// GetTriageMetrics returns triage pipeline health
// GET /api/triage/metrics
func (h *DashboardHandler) GetTriageMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	hits, misses, err := h.cache.Stats(ctx)
	if err != nil {
		writeJSON(w, InternalErrorResponse("cache stats unavailable"))
		return
	}

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	pending, err := h.escalations.Pending(ctx)
	if err != nil {
		writeJSON(w, InternalErrorResponse("escalation queue unavailable"))
		return
	}

	agents, err := h.balancer.ListAvailable(ctx, "", "", 0)
	if err != nil {
		writeJSON(w, InternalErrorResponse("agent listing unavailable"))
		return
	}

	writeJSON(w, NewSuccessResponse(TriageMetricsResponse{
		CacheHits:          hits,
		CacheMisses:        misses,
		CacheHitRate:       hitRate,
		PendingEscalations: len(pending),
		AvailableAgents:    agents,
	}))
}
