package genai

import "errors"

// ErrNoContent indicates the service responded successfully but produced no
// completion text. Callers should report "no content generated" rather than
// send an empty message.
var ErrNoContent = errors.New("genai: no content generated")

// Kind classifies a generation failure for retry guidance.
type Kind int

const (
	// KindTransient covers network errors, quota exhaustion, and server-side
	// failures. Safe to tell the user to retry; never retried automatically.
	KindTransient Kind = iota
	// KindTerminal covers configuration and auth failures plus safety blocks.
	// Retrying the same request will not help.
	KindTerminal
)

// Error is a classified generation failure.
type Error struct {
	Kind    Kind
	Status  int // HTTP status, 0 for transport errors
	Message string
}

func (e *Error) Error() string {
	return "genai: " + e.Message
}

// IsTransient reports whether err is a transient generation failure.
func IsTransient(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == KindTransient
	}
	return false
}

// classifyStatus maps an HTTP status to a failure kind. 429 is quota
// pressure and 5xx is a service fault, both transient. Remaining 4xx are
// bad requests or auth problems.
func classifyStatus(status int) Kind {
	if status == 429 || status >= 500 {
		return KindTransient
	}
	return KindTerminal
}
