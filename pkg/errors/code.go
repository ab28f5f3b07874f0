package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & infrastructure errors
// 12000-12999: Problem & test case errors
// 13000-13999: Submission & judge errors
const (
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102

	// Cache & queue errors (10200-10299)
	CacheError ErrorCode = 10200
	QueueError ErrorCode = 10201
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301

	// Messaging & storage errors (10400-10499)
	PublishFailed ErrorCode = 10400
	StorageError  ErrorCode = 10401

	// Test cases (12100-12199)
	TestCaseNotFound ErrorCode = 12100

	// Submission (13000-13099)
	SubmissionNotFound   ErrorCode = 13000
	InvalidJobPayload    ErrorCode = 13001
	LanguageNotSupported ErrorCode = 13003

	// Judge (13100-13199)
	JudgeSystemError  ErrorCode = 13101
	CompilationError  ErrorCode = 13102
	SandboxSpawnError ErrorCode = 13107
	WorkspaceError    ErrorCode = 13108
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",

	CacheError: "Cache operation failed",
	QueueError: "Queue operation failed",
	LockFailed: "Failed to acquire lock",

	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",

	PublishFailed: "Failed to publish message",
	StorageError:  "Object storage operation failed",

	TestCaseNotFound: "Test case not found",

	SubmissionNotFound:   "Submission not found",
	InvalidJobPayload:    "Invalid submission ID format",
	LanguageNotSupported: "Programming language not supported",

	JudgeSystemError:  "Judge system error",
	CompilationError:  "Compilation error",
	SandboxSpawnError: "Failed to start sandbox process",
	WorkspaceError:    "Failed to prepare scratch directory",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Retryable reports whether the loop should treat the code as a transient
// infrastructure failure.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ServiceUnavailable, Timeout, DatabaseError, CacheError, QueueError:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the code onto a status for the worker's status server.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success:
		return http.StatusOK
	case InvalidParams, ValidationFailed, InvalidFormat, InvalidJobPayload:
		return http.StatusBadRequest
	case NotFound, RecordNotFound, SubmissionNotFound, TestCaseNotFound:
		return http.StatusNotFound
	case ServiceUnavailable, CacheError, QueueError, DatabaseError:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
