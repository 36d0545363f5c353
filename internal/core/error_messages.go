package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference.
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Source not found: the file, URL or object does not exist
//	SRC002 - Source unreachable: the host or bucket could not be contacted
//	SRC003 - Unsupported source: the scheme is not file, http(s) or s3
//	SRC004 - Source too large: the export exceeds the configured limit
//	SRC005 - Remote sources disabled: the server only accepts uploads
//
// # Header Errors (HDR001-HDR099)
//
//	HDR001 - Missing header: the input is empty
//	HDR002 - Malformed header: the first record is not valid CSV
//	HDR003 - Missing columns: timestamp or action type column absent
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Unknown schema
//	CFG002 - Unknown group mode
//	CFG003 - Invalid time window
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - System busy: too many plots in progress
//	JOB002 - Request cancelled
//	JOB003 - Request timed out
//	JOB004 - No input: the request carried no CSV

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage contains user-friendly error information.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgMissingHeader = UserMessage{
		Message: "The file is empty",
		Action:  "Export the session again and make sure it includes a header row",
		Code:    "HDR001",
	}
	msgMalformedHeader = UserMessage{
		Message: "The header row is not valid CSV",
		Action:  "Check for stray quotes in the first line of the file",
		Code:    "HDR002",
	}
	msgMissingColumns = UserMessage{
		Message: "Required columns are missing from the header",
		Action:  "Make sure the file has timestamp and action type columns, or pick the matching schema",
		Code:    "HDR003",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "JOB002",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller export or raise the job timeout",
		Code:    "JOB003",
	}
)

// sentinelMessages are checked with errors.Is before any text matching.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrMissingHeader, msgMissingHeader},
	{ErrMalformedHeader, msgMalformedHeader},
	{ErrMissingColumns, msgMissingColumns},
	{context.Canceled, msgCancelled},
	{context.DeadlineExceeded, msgTimeout},
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Source Errors (SRC001-SRC005)
	// =========================================================================
	{
		pattern: "source not found",
		msg: UserMessage{
			Message: "The export could not be found",
			Action:  "Check the path, URL or object key",
			Code:    "SRC001",
		},
	},
	{
		pattern: "source unreachable",
		msg: UserMessage{
			Message: "The export could not be fetched",
			Action:  "Check the network connection and credentials, then try again",
			Code:    "SRC002",
		},
	},
	{
		pattern: "unsupported source",
		msg: UserMessage{
			Message: "This kind of source is not supported",
			Action:  "Use a file path, an http(s) URL or an s3://bucket/key location",
			Code:    "SRC003",
		},
	},
	{
		pattern: "source too large",
		msg: UserMessage{
			Message: "The export exceeds the maximum size",
			Action:  "Filter the export or raise the size limit",
			Code:    "SRC004",
		},
	},
	{
		pattern: "remote sources disabled",
		msg: UserMessage{
			Message: "This server does not fetch remote exports",
			Action:  "Upload the CSV file instead",
			Code:    "SRC005",
		},
	},

	// =========================================================================
	// Header Errors (HDR001-HDR003)
	// =========================================================================
	{pattern: "missing header", msg: msgMissingHeader},
	{pattern: "malformed header", msg: msgMalformedHeader},
	{pattern: "missing required column", msg: msgMissingColumns},

	// =========================================================================
	// Configuration Errors (CFG001-CFG003)
	// =========================================================================
	{
		pattern: "unknown schema",
		msg: UserMessage{
			Message: "Unknown export schema",
			Action:  "Use one of the registered schemas (generic, dashboard)",
			Code:    "CFG001",
		},
	},
	{
		pattern: "unknown group mode",
		msg: UserMessage{
			Message: "Unknown grouping",
			Action:  "Group by action, actor, actor_action or category",
			Code:    "CFG002",
		},
	},
	{
		pattern: "time window",
		msg: UserMessage{
			Message: "The time window is invalid",
			Action:  "Make sure the window starts before it ends",
			Code:    "CFG003",
		},
	},

	// =========================================================================
	// Job Errors (JOB001-JOB004)
	// =========================================================================
	{
		pattern: "too many jobs",
		msg: UserMessage{
			Message: "System is busy processing other plots",
			Action:  "Please wait a moment and try again",
			Code:    "JOB001",
		},
	},
	{pattern: "context canceled", msg: msgCancelled},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{
		pattern: "no input",
		msg: UserMessage{
			Message: "No CSV was provided",
			Action:  "Send the export as the request body or as a 'file' form field",
			Code:    "JOB004",
		},
	},
}

// defaultMessage is returned when no specific pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Sentinels are matched through the wrap chain first, then the error text is
// matched case-insensitively against known patterns.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError returns a formatted user-friendly error string.
// Example output: "The file is empty (Code: HDR001). Export the session again..."
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
