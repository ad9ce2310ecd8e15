package health

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceReader reads host resource gauges. The production implementation
// wraps gopsutil; tests substitute fixed values.
type ResourceReader interface {
	CPUPercent() (float64, error)
	MemoryPercent() (float64, error)
	DiskPercent(path string) (float64, error)
}

type GopsutilReader struct{}

func (GopsutilReader) CPUPercent() (float64, error) {
	percents, err := cpu.Percent(time.Second, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func (GopsutilReader) MemoryPercent() (float64, error) {
	info, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return info.UsedPercent, nil
}

func (GopsutilReader) DiskPercent(path string) (float64, error) {
	if path == "" {
		path = "/"
	}
	usage, err := disk.Usage(path)
	if err != nil {
		// Fall back to the root filesystem when the project root does
		// not exist yet.
		usage, err = disk.Usage("/")
		if err != nil {
			return 0, err
		}
	}
	return usage.UsedPercent, nil
}
