// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"runtime"

	"github.com/shirou/gopsutil/mem"
)

const bytesInGB = 1024 * 1024 * 1024

// hostSignals reports the host resources the mode controller reasons
// about: total physical memory in gigabytes and logical CPU count.
type hostSignals interface {
	MemoryGB() (float64, error)
	CPUCount() int
}

type gopsutilHostSignals struct{}

func (gopsutilHostSignals) MemoryGB() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return float64(vm.Total) / bytesInGB, nil
}

func (gopsutilHostSignals) CPUCount() int {
	return runtime.NumCPU()
}
