package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrJobNotFoundOrInactive = errors.New("job not found or inactive")
)

// ProducerError is a source-side failure: missing input, a dump tool exiting
// non-zero, a timeout, or an unsupported source.
type ProducerError struct {
	Msg string
	Err error
}

func NewProducerError(err error, format string, args ...any) *ProducerError {
	return &ProducerError{Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *ProducerError) Error() string {
	return e.Msg
}

func (e *ProducerError) Unwrap() error {
	return e.Err
}

type ChannelErrorKind string

const (
	ChannelPermissionDenied ChannelErrorKind = "permission-denied"
	ChannelMalformedRequest ChannelErrorKind = "malformed-request"
	ChannelNetwork          ChannelErrorKind = "network"
	ChannelProtocol         ChannelErrorKind = "protocol"
	ChannelUnexpected       ChannelErrorKind = "unexpected"
	ChannelTooLarge         ChannelErrorKind = "too-large"
	ChannelEmptyMessage     ChannelErrorKind = "empty-message"
	ChannelFileMissing      ChannelErrorKind = "file-missing"
)

// ChannelError is the single error kind surfaced by a notification channel.
type ChannelError struct {
	Kind        ChannelErrorKind
	Destination string
	Detail      string
	Err         error
}

func (e *ChannelError) Error() string {
	switch e.Kind {
	case ChannelPermissionDenied:
		return fmt.Sprintf("bot doesn't have permission to send to %s: %s", e.Destination, e.Detail)
	case ChannelMalformedRequest:
		return fmt.Sprintf("invalid request for %s: %s", e.Destination, e.Detail)
	case ChannelNetwork:
		return fmt.Sprintf("network error sending to %s: %s", e.Destination, e.Detail)
	case ChannelProtocol:
		return fmt.Sprintf("telegram API error for %s: %s", e.Destination, e.Detail)
	case ChannelUnexpected:
		return fmt.Sprintf("unexpected error sending to %s: %s", e.Destination, e.Detail)
	default:
		return e.Detail
	}
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// ScheduleParseError reports a malformed cron expression.
type ScheduleParseError struct {
	Expr string
	Err  error
}

func (e *ScheduleParseError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %v", e.Expr, e.Err)
}

func (e *ScheduleParseError) Unwrap() error {
	return e.Err
}
