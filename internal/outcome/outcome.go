// Package outcome is the result of a screen-level operation as the views see
// it: a value, a redirect to sign-in, a missing entity or a failure message.
package outcome

// Status tags a Result.
type Status int

const (
	StatusOk Status = iota
	StatusRequiresAuth
	StatusNotFound
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusRequiresAuth:
		return "requires_auth"
	case StatusNotFound:
		return "not_found"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Result holds exactly one of the four outcomes. Value is meaningful only
// when Status is StatusOk, Message only when it is StatusFailed.
type Result[T any] struct {
	Status  Status
	Value   T
	Message string
}

func Ok[T any](v T) Result[T] { return Result[T]{Status: StatusOk, Value: v} }

func RequiresAuth[T any]() Result[T] { return Result[T]{Status: StatusRequiresAuth} }

func NotFound[T any]() Result[T] { return Result[T]{Status: StatusNotFound} }

// Failed carries the message shown to the user, verbatim.
func Failed[T any](message string) Result[T] {
	return Result[T]{Status: StatusFailed, Message: message}
}

// Get returns the value and whether the result is Ok.
func (r Result[T]) Get() (T, bool) { return r.Value, r.Status == StatusOk }
