package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 21000-21999: Dispatch queue & worker session errors
// 22000-22999: Judge progress & record errors
// 23000-23999: Contest scoring & ranklist errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Timeout             ErrorCode = 10005
	ServiceUnavailable  ErrorCode = 10006

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	RequiredFieldEmpty ErrorCode = 10301

	// ========== Dispatch Errors (21000-21999) ==========

	// Queue (21000-21099)
	QueueClosed   ErrorCode = 21000
	TaskNotFound  ErrorCode = 21001
	TaskDecode    ErrorCode = 21002
	TaskEncode    ErrorCode = 21003
	EnqueueFailed ErrorCode = 21004

	// Session (21100-21199)
	InvalidToken      ErrorCode = 21100
	SessionClosed     ErrorCode = 21101
	DuplicatePoll     ErrorCode = 21102
	AckWithoutTask    ErrorCode = 21103
	ConnectionDropped ErrorCode = 21104

	// ========== Judge Errors (22000-22999) ==========

	// Progress protocol (22000-22099)
	MalformedProgress   ErrorCode = 22000
	UnknownProgressKind ErrorCode = 22001
	StatusNotCached     ErrorCode = 22002

	// Judge record (22100-22199)
	JudgeRecordNotFound ErrorCode = 22100
	AlreadyFinalized    ErrorCode = 22101
	FinalizeFailed      ErrorCode = 22102

	// ========== Contest Errors (23000-23999) ==========

	// Scoring (23000-23099)
	VerdictStillPending  ErrorCode = 23000
	ProblemNotInContest  ErrorCode = 23001
	OutsideContestWindow ErrorCode = 23002

	// Ranklist (23100-23199)
	ContestNotFound      ErrorCode = 23100
	PlayerNotFound       ErrorCode = 23101
	RanklistInconsistent ErrorCode = 23102
	InvalidRuleSet       ErrorCode = 23103
	RebuildFailed        ErrorCode = 23104
)

var codeMessages = map[ErrorCode]string{
	Success:             "success",
	InternalServerError: "internal server error",
	InvalidParams:       "invalid parameters",
	NotFound:            "resource not found",
	Unauthorized:        "unauthorized",
	Timeout:             "operation timed out",
	ServiceUnavailable:  "service unavailable",

	DatabaseError:     "database error",
	RecordNotFound:    "record not found",
	TransactionFailed: "transaction failed",

	CacheError:     "cache error",
	CacheMiss:      "cache miss",
	CacheSetFailed: "cache set failed",

	ValidationFailed:   "validation failed",
	RequiredFieldEmpty: "required field is empty",

	QueueClosed:   "dispatch queue is closed",
	TaskNotFound:  "judge task not found",
	TaskDecode:    "decode judge task failed",
	TaskEncode:    "encode judge task failed",
	EnqueueFailed: "enqueue judge task failed",

	InvalidToken:      "invalid judge token",
	SessionClosed:     "worker session is closed",
	DuplicatePoll:     "worker is already waiting for a task",
	AckWithoutTask:    "ack received with no task in flight",
	ConnectionDropped: "worker connection dropped",

	MalformedProgress:   "malformed progress message",
	UnknownProgressKind: "unknown progress message kind",
	StatusNotCached:     "judge status not cached",

	JudgeRecordNotFound: "judge record not found",
	AlreadyFinalized:    "judge record already finalized",
	FinalizeFailed:      "finalize judge record failed",

	VerdictStillPending:  "verdict is still pending",
	ProblemNotInContest:  "problem does not belong to contest",
	OutsideContestWindow: "submission outside contest window",

	ContestNotFound:      "contest not found",
	PlayerNotFound:       "contest player not found",
	RanklistInconsistent: "ranklist references a missing player record",
	InvalidRuleSet:       "invalid contest rule set",
	RebuildFailed:        "ranklist rebuild failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "unknown error"
}
