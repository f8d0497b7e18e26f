package processfx

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ResourceSnapshot is a point-in-time RSS/CPU sample for a worker's runtime
// handle (process backend only), sampled into the CONT dump by WriteDump.
// The admin health endpoint does not include it.
type ResourceSnapshot struct {
	PID        int
	RSSBytes   uint64
	CPUPercent float64
}

// SampleResourceSnapshot samples pid's memory and CPU usage via gopsutil.
func SampleResourceSnapshot(pid int) (ResourceSnapshot, error) {
	proc, err := process.NewProcess(int32(pid)) //nolint:gosec
	if err != nil {
		return ResourceSnapshot{}, fmt.Errorf("failed to open process %d: %w", pid, err) //nolint:exhaustruct
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ResourceSnapshot{}, fmt.Errorf("failed to read memory info for pid %d: %w", pid, err) //nolint:exhaustruct
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}

	return ResourceSnapshot{
		PID:        pid,
		RSSBytes:   memInfo.RSS,
		CPUPercent: cpuPercent,
	}, nil
}

const dumpStackBufferSize = 1 << 20 // 1MiB, generous for a goroutine dump

// WriteDump writes a CONT-triggered diagnostic dump to
// /tmp/sigdump-<pid>.log: the current process's full goroutine
// stack trace, plus a resource snapshot and state line per worker for
// process-backend workers. It deliberately stops at a goroutine dump and
// does not attempt a full heap profile.
func WriteDump(statuses []WorkerStatus) error {
	pid := os.Getpid()
	path := fmt.Sprintf("/tmp/sigdump-%d.log", pid)

	file, err := os.Create(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	fmt.Fprintf(file, "daemonkit dump at %s (pid %d)\n\n", time.Now().Format(time.RFC3339), pid)

	for _, status := range statuses {
		fmt.Fprintf(file, "worker %d (%s): state=%s pid=%d uptime=%s restarts=%d\n",
			status.WorkerID, status.Name, status.State, status.PID,
			status.Uptime().Round(time.Second), status.TotalRestarts)

		if status.PID != 0 {
			if snapshot, snapErr := SampleResourceSnapshot(status.PID); snapErr == nil {
				fmt.Fprintf(file, "  rss=%d bytes cpu=%.1f%%\n", snapshot.RSSBytes, snapshot.CPUPercent)
			}
		}
	}

	fmt.Fprintf(file, "\n--- goroutine stack trace ---\n\n")

	buf := make([]byte, dumpStackBufferSize)
	n := runtime.Stack(buf, true)

	if _, err := file.Write(buf[:n]); err != nil {
		return fmt.Errorf("failed to write stack trace to dump file: %w", err)
	}

	return nil
}
