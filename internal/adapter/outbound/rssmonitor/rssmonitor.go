// Package rssmonitor samples this process's own resident memory, backing
// the embedding circuit breaker and an optional diagnostics thread. It
// deliberately reports only this process's RSS, never host-wide memory.
package rssmonitor

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// Reader samples the current process's resident set size in bytes.
type Reader struct {
	pid int32
}

// New returns a Reader bound to the current process.
func New() *Reader {
	return &Reader{pid: int32(os.Getpid())}
}

// Sample returns the current RSS in bytes.
func (r *Reader) Sample() (uint64, error) {
	proc, err := process.NewProcess(r.pid)
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
