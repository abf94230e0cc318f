package metrics

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSampler reads this process's own CPU/RSS usage, the way
// go-server and the adred-codev-ws_poc root variant sample container
// resource limits with gopsutil.
type ProcessSampler struct {
	proc *process.Process
}

func NewProcessSampler() (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: p}, nil
}

// Sample returns CPU percent since the last call and current RSS bytes.
func (s *ProcessSampler) Sample() (cpuPercent, rssBytes float64, err error) {
	cpuPercent, err = s.proc.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	return cpuPercent, float64(mem.RSS), nil
}
