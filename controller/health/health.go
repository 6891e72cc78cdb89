// Package health reports board vitals for the local status page.
package health

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

type Stats struct {
	CPUPercent float64 `json:"cpu_percent"`
	Load5      float64 `json:"load5"`
	MemUsed    string  `json:"mem_used"`
	MemPercent float64 `json:"mem_percent"`
	Uptime     string  `json:"uptime"`
}

// Check gathers a best-effort snapshot; fields stay zero on collector
// errors rather than failing the status page.
func Check() Stats {
	var s Stats
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}
	if avg, err := load.Avg(); err == nil {
		s.Load5 = avg.Load5
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemUsed = humanize.IBytes(vm.Used)
		s.MemPercent = vm.UsedPercent
	}
	if up, err := host.Uptime(); err == nil {
		s.Uptime = humanize.RelTime(time.Now().Add(-time.Duration(up)*time.Second), time.Now(), "", "")
	}
	return s
}
