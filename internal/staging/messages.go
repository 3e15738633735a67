package staging

// messages.go maps technical errors to user-friendly messages with codes for
// support reference.
//
// Staging errors are matched with errors.Is. Anything else falls back to a
// case-insensitive pattern table, so transport-level errors raised outside
// this package ("no file provided", "rate limit") still get a stable code.
//
//	STG001 - Too many files staged                       ErrLimitExceeded
//	STG002 - The file list changed, reload and retry     ErrIndexOutOfRange
//	STG003 - Preview could not be prepared               ErrPreviewUnavailable
//	REQ001 - No file was selected                        "no file provided"
//	REQ002 - Upload request too large                    "request too large"
//	REQ003 - Invalid form                                "invalid form"
//	REQ004 - Preview not found                           "preview not found"
//	REQ005 - Server busy                                 "too many concurrent uploads"
//	REQ006 - Bad entry position                          "invalid index"
//	REQ007 - History disabled                            "history is not enabled"
//	RATE001 - Too many requests                          "rate limit"
//	ERR000 - Unexpected error                            fallback

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is matched in order with strings.Contains on the lowercased
// error text. The first match wins.
var errorPatterns = []errorPattern{
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Choose one or more files and try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "request too large",
		msg: UserMessage{
			Message: "The upload request is too large",
			Action:  "Add fewer or smaller files at a time",
			Code:    "REQ002",
		},
	},
	{
		pattern: "invalid form",
		msg: UserMessage{
			Message: "The upload form could not be read",
			Action:  "Reload the page and try again",
			Code:    "REQ003",
		},
	},
	{
		pattern: "preview not found",
		msg: UserMessage{
			Message: "This preview is no longer available",
			Action:  "The file may have been removed or replaced",
			Code:    "REQ004",
		},
	},
	{
		pattern: "too many concurrent uploads",
		msg: UserMessage{
			Message: "The server is busy handling other uploads",
			Action:  "Please try again in a few seconds",
			Code:    "REQ005",
		},
	},
	{
		pattern: "invalid index",
		msg: UserMessage{
			Message: "That file position is not valid",
			Action:  "Reload the page and try again",
			Code:    "REQ006",
		},
	},
	{
		pattern: "history is not enabled",
		msg: UserMessage{
			Message: "Submission history is not available",
			Action:  "Configure a database to keep a submission history",
			Code:    "REQ007",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error into a UserMessage. A nil error maps to the
// zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var limitErr *LimitError
	switch {
	case errors.As(err, &limitErr):
		return UserMessage{
			Message: fmt.Sprintf("You can only upload up to %d files.", limitErr.Max),
			Action:  "Remove some files or add fewer at a time",
			Code:    "STG001",
		}
	case errors.Is(err, ErrLimitExceeded):
		return UserMessage{
			Message: fmt.Sprintf("You can only upload up to %d files.", DefaultMaxFiles),
			Action:  "Remove some files or add fewer at a time",
			Code:    "STG001",
		}
	case errors.Is(err, ErrIndexOutOfRange):
		return UserMessage{
			Message: "The file list changed before your action was applied",
			Action:  "Reload the page and try again",
			Code:    "STG002",
		}
	case errors.Is(err, ErrPreviewUnavailable):
		return UserMessage{
			Message: "A preview could not be prepared for this file",
			Action:  "Please try again",
			Code:    "STG003",
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

// FormatUserError formats an error as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
