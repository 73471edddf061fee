package batch

import "time"

// Statistics aggregates batch counters. Counter fields are maintained by the
// processor under its lock; the derived metrics are pure functions of the
// counters and elapsed wall-clock time, so a copied snapshot stays
// consistent.
type Statistics struct {
	TotalTasks     int            `json:"total_tasks"`
	CompletedTasks int            `json:"completed_tasks"`
	FailedTasks    int            `json:"failed_tasks"`
	CancelledTasks int            `json:"cancelled_tasks"`
	RetryCount     int            `json:"retry_count"`
	ByStatus       map[Status]int `json:"tasks_by_status"`
	StartTime      time.Time      `json:"start_time,omitzero"`
	EndTime        time.Time      `json:"end_time,omitzero"`
}

func newStatistics() Statistics {
	byStatus := make(map[Status]int, len(statuses))
	for _, s := range statuses {
		byStatus[s] = 0
	}
	return Statistics{ByStatus: byStatus}
}

// clone deep-copies the snapshot so callers cannot observe later mutation.
func (s Statistics) clone() Statistics {
	out := s
	out.ByStatus = make(map[Status]int, len(s.ByStatus))
	for k, v := range s.ByStatus {
		out.ByStatus[k] = v
	}
	return out
}

// SuccessRate is the percentage of tasks completed, 0 when nothing was added.
func (s Statistics) SuccessRate() float64 {
	if s.TotalTasks == 0 {
		return 0
	}
	return float64(s.CompletedTasks) / float64(s.TotalTasks) * 100
}

// Progress is the percentage of tasks completed.
func (s Statistics) Progress() float64 {
	if s.TotalTasks == 0 {
		return 0
	}
	return float64(s.CompletedTasks) / float64(s.TotalTasks) * 100
}

// Throughput is completed tasks per elapsed second. Elapsed time runs from
// StartTime until EndTime, or until now while the batch is in flight.
func (s Statistics) Throughput() float64 {
	if s.StartTime.IsZero() {
		return 0
	}
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.CompletedTasks) / elapsed
}

// ETA estimates the remaining wall-clock time from the current throughput.
// The second return is false when no estimate is possible yet.
func (s Statistics) ETA() (time.Duration, bool) {
	if s.TotalTasks == 0 || s.CompletedTasks == 0 {
		return 0, false
	}
	speed := s.Throughput()
	if speed == 0 {
		return 0, false
	}
	remaining := float64(s.TotalTasks-s.CompletedTasks) / speed
	return time.Duration(remaining * float64(time.Second)), true
}
