package registry

import (
	"sync"
	"time"
)

// recentErrorCap bounds the per-tool error log.
const recentErrorCap = 10

// Stats tracks per-tool execution counters. Updates for one tool are
// serialized under its own mutex; tools never contend with each other.
type Stats struct {
	mu            sync.Mutex
	total         uint64
	succeeded     uint64
	failed        uint64
	totalDuration time.Duration
	minDuration   time.Duration
	maxDuration   time.Duration
	recentErrors  []string
	lastExecution time.Time
}

// Record adds one completed call. Success, failure, timeout, and
// cancellation all count, each exactly once.
func (s *Stats) Record(success bool, duration time.Duration, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if success {
		s.succeeded++
	} else {
		s.failed++
		s.recentErrors = append(s.recentErrors, errMsg)
		if len(s.recentErrors) > recentErrorCap {
			s.recentErrors = s.recentErrors[len(s.recentErrors)-recentErrorCap:]
		}
	}

	s.totalDuration += duration
	if s.total == 1 || duration < s.minDuration {
		s.minDuration = duration
	}
	if duration > s.maxDuration {
		s.maxDuration = duration
	}
	s.lastExecution = time.Now()
}

// StatsSnapshot is a point-in-time copy of a tool's statistics.
type StatsSnapshot struct {
	Total           uint64        `json:"total_executions"`
	Succeeded       uint64        `json:"successful_executions"`
	Failed          uint64        `json:"failed_executions"`
	SuccessRate     float64       `json:"success_rate"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	RecentErrors    []string      `json:"recent_errors,omitempty"`
	LastExecution   time.Time     `json:"last_execution,omitzero"`
}

// Snapshot returns the current statistics without blocking executions
// of unrelated tools.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Total:         s.total,
		Succeeded:     s.succeeded,
		Failed:        s.failed,
		TotalDuration: s.totalDuration,
		MinDuration:   s.minDuration,
		MaxDuration:   s.maxDuration,
		LastExecution: s.lastExecution,
	}
	if s.total > 0 {
		snap.SuccessRate = float64(s.succeeded) / float64(s.total)
		snap.AverageDuration = s.totalDuration / time.Duration(s.total)
	}
	snap.RecentErrors = make([]string, len(s.recentErrors))
	copy(snap.RecentErrors, s.recentErrors)
	return snap
}

// ExecutionRecord is one completed execution, as handed to a Recorder.
type ExecutionRecord struct {
	ID       string        `json:"id,omitempty"`
	Tool     string        `json:"tool"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Kind     string        `json:"error_kind,omitempty"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Recorder receives every completed execution, e.g. for persistence.
// Implementations must be safe for concurrent use.
type Recorder interface {
	Record(rec ExecutionRecord)
}
