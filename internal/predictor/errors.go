package predictor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Brownie44l1/captcha-api/internal/imageproc"
)

var (
	// ErrDecode marks input bytes that are not an image. Callers should treat
	// it as a client error.
	ErrDecode = imageproc.ErrDecode
	// ErrClassifier marks a failing classifier or one returning a matrix of
	// the wrong shape.
	ErrClassifier = errors.New("classifier failure")
)

// Error tags a pipeline failure with its kind. errors.Is matches both the
// kind and the underlying cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var parts []string
	if e.Err == nil || !errors.Is(e.Err, e.Kind) {
		parts = append(parts, e.Kind.Error())
	}
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func decodeError(err error) error {
	return &Error{Kind: ErrDecode, Err: err}
}

func classifierErrorf(cause error, format string, args ...any) error {
	return &Error{Kind: ErrClassifier, Msg: fmt.Sprintf(format, args...), Err: cause}
}
