package model

import (
	"encoding/json"
	"fmt"

	appErr "nexoj/pkg/errors"
)

// ProgressKind tags the closed set of messages a worker can report.
type ProgressKind int

const (
	ProgressStarted ProgressKind = iota + 1
	ProgressCompiled
	ProgressRunning
	ProgressFinished
	ProgressReported
)

func (k ProgressKind) String() string {
	switch k {
	case ProgressStarted:
		return "started"
	case ProgressCompiled:
		return "compiled"
	case ProgressRunning:
		return "progress"
	case ProgressFinished:
		return "finished"
	case ProgressReported:
		return "reported"
	default:
		return "unknown"
	}
}

// CaseStatus is the judged state of a single test case.
type CaseStatus int

const (
	CasePending CaseStatus = iota
	CaseRunning
	CaseAccepted
	CaseWrongAnswer
	CasePartiallyCorrect
	CaseMemoryLimitExceeded
	CaseTimeLimitExceeded
	CaseOutputLimitExceeded
	CaseFileError
	CaseRuntimeError
	CaseJudgementFailed
	CaseInvalidInteraction
)

var caseStatusNames = map[CaseStatus]string{
	CasePending:             "Pending",
	CaseRunning:             "Running",
	CaseAccepted:            "Accepted",
	CaseWrongAnswer:         "Wrong Answer",
	CasePartiallyCorrect:    "Partially Correct",
	CaseMemoryLimitExceeded: "Memory Limit Exceeded",
	CaseTimeLimitExceeded:   "Time Limit Exceeded",
	CaseOutputLimitExceeded: "Output Limit Exceeded",
	CaseFileError:           "File Error",
	CaseRuntimeError:        "Runtime Error",
	CaseJudgementFailed:     "Judgement Failed",
	CaseInvalidInteraction:  "Invalid Interaction",
}

func (s CaseStatus) String() string {
	if name, ok := caseStatusNames[s]; ok {
		return name
	}
	return "Unknown"
}

func (s CaseStatus) isPending() bool {
	return s == CasePending || s == CaseRunning
}

// CompileResult is the compiler outcome forwarded to subscribers and kept
// on the judge record.
type CompileResult struct {
	Status  CaseStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// CaseResult is the outcome of one test case.
type CaseResult struct {
	Status   CaseStatus `json:"status"`
	Score    float64    `json:"score"`
	TimeMS   int64      `json:"time"`
	MemoryKB int64      `json:"memory"`
}

// SubtaskResult groups case results under one subtask.
type SubtaskResult struct {
	Score float64      `json:"score"`
	Cases []CaseResult `json:"cases"`
}

// JudgeProgress is the worker-reported judge state carried by Running and
// Finished messages.
type JudgeProgress struct {
	Compile  *CompileResult  `json:"compile,omitempty"`
	Subtasks []SubtaskResult `json:"subtasks"`
}

// ProgressMessage is the decoded wire message. Exactly one payload field is
// meaningful per kind: Compile for Compiled, Judge for Running/Finished,
// neither for Started/Reported.
type ProgressMessage struct {
	Kind    ProgressKind   `json:"type"`
	TaskID  string         `json:"taskId"`
	Compile *CompileResult `json:"compile,omitempty"`
	Judge   *JudgeProgress `json:"progress,omitempty"`
}

// DecodeProgress decodes one progress message and validates its shape.
// Malformed messages are rejected here so downstream code only ever sees
// well-formed members of the closed set.
func DecodeProgress(data []byte) (*ProgressMessage, error) {
	var msg ProgressMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, appErr.Wrapf(err, appErr.MalformedProgress, "decode progress message failed")
	}
	if msg.TaskID == "" {
		return nil, appErr.New(appErr.MalformedProgress).WithMessage("progress message missing task id")
	}
	switch msg.Kind {
	case ProgressStarted, ProgressReported:
	case ProgressCompiled:
		if msg.Compile == nil {
			return nil, appErr.New(appErr.MalformedProgress).WithMessage("compiled message missing compile payload")
		}
	case ProgressRunning, ProgressFinished:
		if msg.Judge == nil {
			return nil, appErr.New(appErr.MalformedProgress).WithMessage("judge payload is missing")
		}
	default:
		return nil, appErr.Newf(appErr.UnknownProgressKind, "unknown progress kind %d", msg.Kind)
	}
	return &msg, nil
}

// RunningTally counts finished cases (not Pending/Running) against the
// total across all subtasks.
func RunningTally(p *JudgeProgress) (done, total int) {
	if p == nil {
		return 0, 0
	}
	for _, subtask := range p.Subtasks {
		for _, c := range subtask.Cases {
			total++
			if !c.Status.isPending() {
				done++
			}
		}
	}
	return done, total
}

// RunningSummary renders the live tally shown while a task is judging.
func RunningSummary(p *JudgeProgress) string {
	done, total := RunningTally(p)
	return fmt.Sprintf("Running %d/%d", done, total)
}

// ConvertedVerdict is the scalar summary folded out of a JudgeProgress.
type ConvertedVerdict struct {
	Score    int    `json:"score"`
	Status   string `json:"status"`
	TimeMS   int64  `json:"time"`
	MemoryKB int64  `json:"memory"`
}

// Convert folds a JudgeProgress into its scalar verdict: total score is the
// sum of subtask scores, time is summed, memory is the maximum, and status
// is the first non-accepted case status (compile failures win outright).
func Convert(p *JudgeProgress) ConvertedVerdict {
	out := ConvertedVerdict{Status: CaseAccepted.String()}
	if p == nil {
		out.Status = CaseJudgementFailed.String()
		return out
	}
	if p.Compile != nil && p.Compile.Status != CaseAccepted {
		out.Status = "Compile Error"
		return out
	}

	var score float64
	statusSet := false
	for _, subtask := range p.Subtasks {
		score += subtask.Score
		for _, c := range subtask.Cases {
			out.TimeMS += c.TimeMS
			if c.MemoryKB > out.MemoryKB {
				out.MemoryKB = c.MemoryKB
			}
			if !statusSet && c.Status != CaseAccepted && !c.Status.isPending() {
				out.Status = c.Status.String()
				statusSet = true
			}
		}
	}
	out.Score = int(score + 0.5)
	// Weighted subtasks can leave every case accepted with a partial total.
	if !statusSet && out.Score > 0 && out.Score < 100 {
		out.Status = CasePartiallyCorrect.String()
	}
	return out
}
