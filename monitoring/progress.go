package monitoring

import (
	"strconv"
	"time"

	"github.com/ignaciolitma/nachOS/kernel"
)

// A ProgressBar reports how many of the memory accesses of a process have
// been performed.
type ProgressBar struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

func progressBarOf(p kernel.ProcessInfo, start time.Time) *ProgressBar {
	b := &ProgressBar{
		ID:        strconv.FormatUint(uint64(p.PID), 10),
		Name:      p.Name,
		StartTime: start,
		Total:     uint64(p.Total),
		Finished:  uint64(p.Done),
	}

	// The access under way belongs to the running process only.
	if p.State == kernel.Running.String() && b.Finished < b.Total {
		b.InProgress = 1
	}

	return b
}
