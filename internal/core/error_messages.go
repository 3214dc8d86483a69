package core

// error_messages.go maps technical errors to messages with support codes.
//
// Codes are grouped by category:
//
//	STR001       stream could not be read or decompressed
//	BAT001       batch rejected by the XML parser
//	FLD001       entry date or number could not be converted
//	FLD002       entry has no usable taxonomy reference
//	FLD003       entry has no accession
//	IMP001       import cancelled
//	IMP002       too many imports in progress
//	IMP003       import not found
//	IMP004       skip budget exceeded
//	SNK001       storage sink failed
//	SRC001-003   source resolution and download
//	DB001-DB006  database connectivity and constraints
//	ERR000       anything else
//
// Typed errors are matched first with errors.Is/errors.As; the remaining
// table matches substrings of the error text, case-insensitively.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage is a user-facing explanation of an error.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgStream = UserMessage{
		Message: "The input stream could not be read",
		Action:  "Check that the file is a complete gzip-compressed XML dump, or download it again",
		Code:    "STR001",
	}
	msgMalformedBatch = UserMessage{
		Message: "A batch of entries is not well-formed XML",
		Action:  "Raise the skip budget to skip broken batches, or re-download the dump",
		Code:    "BAT001",
	}
	msgFieldConversion = UserMessage{
		Message: "An entry field could not be converted",
		Action:  "Raise the skip budget to skip invalid entries",
		Code:    "FLD001",
	}
	msgTaxonomy = UserMessage{
		Message: "An entry has no single NCBI Taxonomy reference",
		Action:  "Raise the skip budget to skip entries without a taxonomy id",
		Code:    "FLD002",
	}
	msgAccession = UserMessage{
		Message: "An entry has no accession",
		Action:  "Raise the skip budget to skip entries without an accession",
		Code:    "FLD003",
	}
	msgCancelled = UserMessage{
		Message: "Import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "IMP001",
	}
	msgBusy = UserMessage{
		Message: "Too many imports in progress",
		Action:  "Wait for the running import to finish and try again",
		Code:    "IMP002",
	}
	msgNotFound = UserMessage{
		Message: "Import not found",
		Action:  "The import may have expired. List imports to find current ones",
		Code:    "IMP003",
	}
	msgSkipBudget = UserMessage{
		Message: "Too many invalid entries or batches",
		Action:  "Inspect the first error, then raise the skip budget if the data is expected to be partial",
		Code:    "IMP004",
	}
	msgSink = UserMessage{
		Message: "Storing entries failed",
		Action:  "Check the database connection and try again",
		Code:    "SNK001",
	}
)

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Source errors
	{
		pattern: "unsupported source",
		msg: UserMessage{
			Message: "The source location is not supported",
			Action:  "Use an http(s) URL or a local file path",
			Code:    "SRC001",
		},
	},
	{
		pattern: "download failed",
		msg: UserMessage{
			Message: "The dump could not be downloaded",
			Action:  "Check network access to the source and try again",
			Code:    "SRC002",
		},
	},
	{
		pattern: "no such file",
		msg: UserMessage{
			Message: "The source file does not exist",
			Action:  "Check the path, or use --force-download to fetch it again",
			Code:    "SRC003",
		},
	},

	// Database errors
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again later or raise IMPORT_TIMEOUT",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "The SQLite database is locked by another process",
			Action:  "Close other programs using the database file and try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "violates",
		msg: UserMessage{
			Message: "A database constraint rejected the data",
			Action:  "Check the schema matches this version of the importer",
			Code:    "DB006",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for details",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	_, err := core.Import(ctx, r, sink, opts)
//	msg := core.MapError(err)
//	// msg.Code == "IMP004" when the skip budget ran out
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	var (
		streamErr *StreamError
		batchErr  *MalformedBatchError
		fieldErr  *FieldConversionError
		sinkErr   *SinkError
	)

	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return msgCancelled, true
	case errors.Is(err, ErrTooManyImports):
		return msgBusy, true
	case errors.Is(err, ErrImportNotFound):
		return msgNotFound, true
	case errors.Is(err, ErrSkipBudgetExceeded):
		return msgSkipBudget, true
	case errors.As(err, &sinkErr):
		return msgSink, true
	case errors.As(err, &streamErr):
		return msgStream, true
	case errors.As(err, &batchErr):
		return msgMalformedBatch, true
	case errors.As(err, &fieldErr):
		switch fieldErr.Field {
		case "taxid":
			return msgTaxonomy, true
		case "accession":
			return msgAccession, true
		}
		return msgFieldConversion, true
	}
	return UserMessage{}, false
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something other than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
