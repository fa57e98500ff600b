package model

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// TaskKind identifies how a submission is judged.
type TaskKind int

const (
	TaskStandard TaskKind = iota + 1
	TaskInteraction
	TaskAnswerSubmission
)

// Priority classes. The queue is a min-heap: lower class is served first.
const (
	PriorityContest = 1
	PriorityRegular = 2
	PriorityRejudge = 3
)

// EffectivePriority blends the class with a per-submission offset so that
// inside a class the newer submission (larger judge id) is served first.
func EffectivePriority(class int, judgeID int64) float64 {
	return float64(class) - float64(judgeID)/1e7
}

// TaskParam carries the compile-and-run parameters for standard and
// interaction tasks. Answer-submission tasks have no param.
type TaskParam struct {
	Language      string `json:"language"`
	Code          string `json:"code"`
	TimeLimitMS   int64  `json:"timeLimit"`
	MemoryLimitMB int64  `json:"memoryLimit"`
	FileIOInput   string `json:"fileIOInput,omitempty"`
	FileIOOutput  string `json:"fileIOOutput,omitempty"`
}

// JudgeTask is one compile-and-run request for a submission. It is created
// at submission time, consumed exactly once by a worker, and never mutated
// after creation; a requeue re-inserts the identical value.
type JudgeTask struct {
	TaskID     string     `json:"taskId"`
	JudgeID    int64      `json:"judgeId"`
	TestDataID string     `json:"testData"`
	Kind       TaskKind   `json:"type"`
	Priority   float64    `json:"priority"`
	Param      *TaskParam `json:"param,omitempty"`

	// ExtraData holds the answer archive for answer-submission tasks.
	// It travels zstd-compressed on the wire.
	ExtraData []byte `json:"-"`
}

type taskEnvelope struct {
	Content   json.RawMessage `json:"content"`
	ExtraZstd []byte          `json:"extraZstd,omitempty"`
}

var (
	taskCompressor, _   = zstd.NewWriter(nil)
	taskDecompressor, _ = zstd.NewReader(nil)
)

// EncodeTask serializes a task for the wire. Extra data is compressed
// separately so large answer archives stay cheap to move.
func EncodeTask(t *JudgeTask) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("task is nil")
	}
	content, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task content failed: %w", err)
	}
	env := taskEnvelope{Content: content}
	if len(t.ExtraData) > 0 {
		env.ExtraZstd = taskCompressor.EncodeAll(t.ExtraData, nil)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal task envelope failed: %w", err)
	}
	return data, nil
}

// DecodeTask deserializes a task from the wire.
func DecodeTask(data []byte) (*JudgeTask, error) {
	var env taskEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal task envelope failed: %w", err)
	}
	var task JudgeTask
	if err := json.Unmarshal(env.Content, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task content failed: %w", err)
	}
	if task.TaskID == "" {
		return nil, fmt.Errorf("task id is empty")
	}
	if len(env.ExtraZstd) > 0 {
		extra, err := taskDecompressor.DecodeAll(env.ExtraZstd, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress task extra data failed: %w", err)
		}
		task.ExtraData = extra
	}
	return &task, nil
}
