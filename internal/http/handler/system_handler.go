package handler

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

type systemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	ProcessRSS    uint64  `json:"process_rss_bytes"`
	Goroutines    int     `json:"goroutines"`
}

// GetSystem reports host CPU and memory usage alongside the trainer's own
// resident memory. Figures that cannot be read are zero.
func (h *StatusHandler) GetSystem(w http.ResponseWriter, r *http.Request) {
	stats := systemStats{Goroutines: runtime.NumGoroutine()}

	// A short sample keeps the request fast.
	if pct, err := cpu.PercentWithContext(r.Context(), 100*time.Millisecond, false); err != nil {
		h.logger.Warn("failed to read cpu usage", zap.Error(err))
	} else if len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err != nil {
		h.logger.Warn("failed to read memory usage", zap.Error(err))
	} else {
		stats.MemoryPercent = vm.UsedPercent
	}
	if p, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfoWithContext(r.Context()); err == nil {
			stats.ProcessRSS = info.RSS
		}
	}
	writeJSON(w, http.StatusOK, stats)
}
