package procsrc

import (
	"context"
	"fmt"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// GopsutilSource is the production Source, backed by
// github.com/shirou/gopsutil/v3/process. It walks the full process table on
// every Refresh call; gopsutil already abstracts the platform-specific
// enumeration mechanism (/proc on Linux, sysctl/libproc on Darwin, etc.).
type GopsutilSource struct{}

// NewGopsutilSource constructs a GopsutilSource. It holds no state; the
// constructor exists for symmetry with other collaborators and to leave
// room for future options (e.g. restricting enumeration to a PID namespace).
func NewGopsutilSource() *GopsutilSource {
	return &GopsutilSource{}
}

// Refresh lists every live process and best-effort resolves its name,
// executable path, status, and argv. A process that exits mid-enumeration
// (a common race with short-lived children) does not fail the whole
// refresh: individual per-PID lookup errors are ignored and not reported as
// the class-2 "process-table refresh error", since the table as a whole was
// read successfully. Such a process is still listed, with the fields whose
// lookup failed left empty (and StatusUnknown as its status).
func (s *GopsutilSource) Refresh(ctx context.Context) ([]Process, error) {
	procs, err := gopsprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("procsrc: list processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		name, _ := p.NameWithContext(ctx)
		exe, _ := p.ExeWithContext(ctx)
		cmdline, _ := p.CmdlineSliceWithContext(ctx)

		out = append(out, Process{
			PID:     p.Pid,
			Status:  translateStatus(p, ctx),
			Name:    name,
			Exe:     exe,
			Cmdline: cmdline,
		})
	}
	return out, nil
}

// translateStatus maps gopsutil's status strings onto Status. gopsutil
// returns zero or more of the process.Running/Sleep/Stop/Idle/Zombie/Wait/
// Lock string constants; a process may legitimately report none (the lookup
// raced with process exit), in which case StatusUnknown is used so the
// caller still counts it as alive rather than silently dropping it.
func translateStatus(p *gopsprocess.Process, ctx context.Context) Status {
	statuses, err := p.StatusWithContext(ctx)
	if err != nil || len(statuses) == 0 {
		return StatusUnknown
	}
	switch statuses[0] {
	case gopsprocess.Stop:
		return StatusStopped
	case gopsprocess.Zombie:
		return StatusZombie
	case gopsprocess.Running, gopsprocess.Sleep, gopsprocess.Idle, gopsprocess.Wait, gopsprocess.Lock:
		return StatusRunning
	default:
		return StatusUnknown
	}
}
