package staging

// validator.go classifies candidate files before they are staged.
//
// Classification is pure: the same MIME type and size always produce the same
// Verdict. Rules are checked in order and the first failure wins:
//  1. MIME type must be in the allow-set
//  2. Size must not exceed the maximum

import (
	"fmt"
	"time"
)

// DefaultMaxFiles is the maximum number of entries a store holds.
const DefaultMaxFiles = 10

// DefaultMaxFileSize is the largest file that classifies as valid (10 MiB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// DefaultNoticeTTL is how long a submission notice stays visible.
const DefaultNoticeTTL = 2000 * time.Millisecond

// AllowedTypes is the default MIME allow-set.
var AllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/svg+xml",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Reason says why a file failed validation.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnsupportedType
	ReasonTooLarge
)

// String returns the machine-readable reason code.
func (r Reason) String() string {
	switch r {
	case ReasonUnsupportedType:
		return "unsupported_type"
	case ReasonTooLarge:
		return "too_large"
	default:
		return ""
	}
}

// MarshalText encodes the reason as its code so JSON carries a string.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a reason code written by MarshalText.
func (r *Reason) UnmarshalText(text []byte) error {
	switch string(text) {
	case "":
		*r = ReasonNone
	case "unsupported_type":
		*r = ReasonUnsupportedType
	case "too_large":
		*r = ReasonTooLarge
	default:
		return fmt.Errorf("unknown validation reason %q", text)
	}
	return nil
}

// Verdict is the outcome of classifying one file.
type Verdict struct {
	Valid  bool
	Reason Reason
	Error  string // Human-readable message, empty when Valid
}

// Rules holds the limits a Validator checks against.
type Rules struct {
	maxSize int64
	allowed map[string]struct{}
}

var defaultRules = NewRules(DefaultMaxFileSize, AllowedTypes)

// DefaultRules returns the 10 MiB / AllowedTypes rule set.
func DefaultRules() Rules {
	return defaultRules
}

// NewRules creates a rule set. A non-positive maxSize falls back to
// DefaultMaxFileSize and an empty allow-set falls back to AllowedTypes.
func NewRules(maxSize int64, allowed []string) Rules {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if len(allowed) == 0 {
		allowed = AllowedTypes
	}

	set := make(map[string]struct{}, len(allowed))
	for _, t := range allowed {
		set[t] = struct{}{}
	}
	return Rules{maxSize: maxSize, allowed: set}
}

// MaxSize returns the largest valid file size in bytes.
func (r Rules) MaxSize() int64 {
	return r.maxSize
}

// Allows reports whether mimeType is in the allow-set. Matching is exact.
func (r Rules) Allows(mimeType string) bool {
	_, ok := r.allowed[mimeType]
	return ok
}

// Classify checks a file's MIME type and size against the rules.
func (r Rules) Classify(mimeType string, size int64) Verdict {
	if !r.Allows(mimeType) {
		return Verdict{Reason: ReasonUnsupportedType, Error: "File type not allowed"}
	}
	if size > r.maxSize {
		return Verdict{
			Reason: ReasonTooLarge,
			Error:  fmt.Sprintf("Too large (>%dMB)", r.maxSize/(1024*1024)),
		}
	}
	return Verdict{Valid: true}
}

// Classify checks a file against the default rules.
func Classify(mimeType string, size int64) Verdict {
	return defaultRules.Classify(mimeType, size)
}
