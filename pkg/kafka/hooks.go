package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook runs around message handling. Returning an error from BeforeHandle skips
// the handler; the message then goes through error processing (DLQ, commit).
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, msg kafka.Message) (context.Context, kafka.Message, error)
	AfterHandle(ctx context.Context, msg kafka.Message, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, msg kafka.Message) (context.Context, kafka.Message, error) {
	return ctx, msg, nil
}

func (NoopHook) AfterHandle(context.Context, kafka.Message, error) {}

// HookError is raised by a hook. Code classifies it, e.g. ERR_SCHEMA.
// Hook errors are never retried.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *HookError) Unwrap() error { return e.Err }

// IsHookError reports whether err came from a hook.
func IsHookError(err error) bool {
	var he *HookError
	return errors.As(err, &he)
}

// HookFuncs adapts plain functions to ConsumerHook. Nil functions are no-ops.
type HookFuncs struct {
	Before func(context.Context, kafka.Message) (context.Context, kafka.Message, error)
	After  func(context.Context, kafka.Message, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, msg kafka.Message) (context.Context, kafka.Message, error) {
	if h.Before == nil {
		return ctx, msg, nil
	}
	return h.Before(ctx, msg)
}

func (h HookFuncs) AfterHandle(ctx context.Context, msg kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, msg, err)
	}
}

// HookChain applies BeforeHandle in order and AfterHandle in reverse order.
// A panicking hook is converted to a HookError.
type HookChain struct {
	hooks []ConsumerHook
}

// NewHookChain creates a hook chain. Nil hooks are ignored.
func NewHookChain(hooks ...ConsumerHook) *HookChain {
	filtered := make([]ConsumerHook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			filtered = append(filtered, h)
		}
	}
	return &HookChain{hooks: filtered}
}

func (c *HookChain) BeforeHandle(ctx context.Context, msg kafka.Message) (context.Context, kafka.Message, error) {
	for _, h := range c.hooks {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
				}
			}()
			ctx, msg, err = h.BeforeHandle(ctx, msg)
		}()
		if err != nil {
			return ctx, msg, err
		}
	}
	return ctx, msg, nil
}

func (c *HookChain) AfterHandle(ctx context.Context, msg kafka.Message, err error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		func() {
			defer func() { _ = recover() }()
			c.hooks[i].AfterHandle(ctx, msg, err)
		}()
	}
}

// SchemaHook rejects messages whose schema header is set and differs from want.
// Messages without the header pass.
func SchemaHook(header, want string) ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, msg kafka.Message) (context.Context, kafka.Message, error) {
			if got := Header(msg, header); got != "" && got != want {
				return ctx, msg, &HookError{Code: "ERR_SCHEMA", Err: fmt.Errorf("schema %q, want %q", got, want)}
			}
			return ctx, msg, nil
		},
	}
}

// PermanentError marks a handler failure that retrying cannot fix, such as an
// undecodable payload. The consumer skips retries and dead-letters it directly.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func isPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
