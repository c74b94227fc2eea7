// Package telemetry samples host resource usage for the engine's
// periodic debug logging (SPEC_FULL §2 A2). It is deliberately
// system-wide rather than per-process.
package telemetry

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is one point-in-time resource reading.
type Sample struct {
	CPUPercent float64
	RSSBytes   uint64 // system-wide used memory, not this process's RSS
}

// Sampler reads host CPU/mem through gopsutil.
type Sampler struct{}

// NewSampler returns a ready-to-use Sampler.
func NewSampler() *Sampler { return &Sampler{} }

// Sample takes one reading. The CPU read is instantaneous (0-duration)
// since the engine calls this periodically rather than blocking a tick
// on it.
func (s *Sampler) Sample() (Sample, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("telemetry: cpu percent: %w", err)
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, fmt.Errorf("telemetry: virtual memory: %w", err)
	}

	return Sample{CPUPercent: cpuPct, RSSBytes: vm.Used}, nil
}
