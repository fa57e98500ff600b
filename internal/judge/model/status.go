package model

import "strings"

// StatusCompiling seeds the cache when a worker picks a task up.
const StatusCompiling = "Compiling"

// CachedStatus is the short-lived view of a task exposed to status polls
// while the task is in flight, and for a short grace period after it
// finishes.
type CachedStatus struct {
	Result   string `json:"result"`
	Score    int    `json:"score"`
	TimeMS   int64  `json:"time"`
	MemoryKB int64  `json:"memory"`
}

// Final reports whether the entry holds a terminal verdict rather than an
// in-flight Compiling/Running view.
func (s CachedStatus) Final() bool {
	return s.Result != "" && s.Result != StatusCompiling && !strings.HasPrefix(s.Result, "Running ")
}

// Submission classes. Contest submissions carry the contest id; regular
// submissions are class 0.
const (
	ClassRegular = 0
	ClassContest = 1
)

// JudgeRecord is the persisted judge state this core reads and finalizes.
// Everything else about a submission (code, language metadata, rendering)
// belongs to outer services.
type JudgeRecord struct {
	ID          int64  `json:"id"`
	TaskID      string `json:"task_id"`
	ProblemID   int64  `json:"problem_id"`
	UserID      int64  `json:"user_id"`
	Class       int    `json:"class"`
	ContestID   int64  `json:"contest_id"`
	Score       *int   `json:"score"`
	Status      string `json:"status"`
	Pending     bool   `json:"pending"`
	SubmitTime  int64  `json:"submit_time"`
	TotalTimeMS int64  `json:"total_time"`
	MaxMemoryKB int64  `json:"max_memory"`
	Compilation string `json:"compilation"`
}

// Accepted reports whether the record finished with a full pass.
func (r *JudgeRecord) Accepted() bool {
	return r.Status == CaseAccepted.String()
}

// Compiled reports whether the record got past compilation: the worker
// only attaches a score once the program compiled.
func (r *JudgeRecord) Compiled() bool {
	return r.Score != nil
}
