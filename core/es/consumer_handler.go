package es

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type (
	// Handler processes one delivered event.
	Handler interface {
		Handle(msgCtx MsgCtx) error
	}
	// HandlerLifecycleStart is implemented by handlers that need setup
	// before delivery begins (e.g. restoring projection state).
	HandlerLifecycleStart interface {
		Start(ctx context.Context) error
	}
	// HandlerLifecycleShutdown is implemented by handlers that need
	// teardown after delivery stops.
	HandlerLifecycleShutdown interface {
		Shutdown(ctx context.Context) error
	}

	HandleFunc           func(ctx MsgCtx) error
	HandlerMiddleware    func(next Handler) Handler
	MiddlewareHandleFunc func(ctx MsgCtx, next Handler) error
)

func (f HandleFunc) Handle(ctx MsgCtx) error { return f(ctx) }

func applyMiddlewares(h Handler, middlewares []HandlerMiddleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// === middleware ===

type middleware struct {
	next Handler
	mw   MiddlewareHandleFunc
}

func (m *middleware) Handle(msgCtx MsgCtx) error { return m.mw(msgCtx, m.next) }

func MiddlewareHandle(mw MiddlewareHandleFunc) HandlerMiddleware {
	return func(next Handler) Handler {
		return &middleware{next: next, mw: mw}
	}
}

// NewLogMiddleware logs the outcome and duration of every handled event.
func NewLogMiddleware(attrs ...any) HandlerMiddleware {
	return MiddlewareHandle(func(ctx MsgCtx, next Handler) error {
		handleAt := time.Now()
		log := ctx.Log().With(attrs...)

		err := next.Handle(ctx)
		if err != nil {
			log.Error("failed", slog.Any("error", err), slog.Duration("duration", time.Since(handleAt)))
		} else {
			log.Debug("handled", slog.Duration("duration", time.Since(handleAt)))
		}
		return err
	})
}

// === checkpoint middleware ===

// checkpointHandler skips events at or below the stored checkpoint and
// advances it after each successful handle. Combined with at-least-once
// delivery this gives effectively-once processing.
type checkpointHandler struct {
	cp CpStore
	h  Handler
}

func (c *checkpointHandler) GetLastSeq() (uint64, error) { return c.cp.Get() }

func (c *checkpointHandler) Handle(msgCtx MsgCtx) error {
	lastSeenSeq, err := c.cp.Get()
	if err != nil && !errors.Is(err, ErrCheckpointNotFound) {
		return err
	}

	if msgCtx.Seq() <= lastSeenSeq {
		msgCtx.log.Debug("skip", slog.Uint64("last_seq", lastSeenSeq), slog.String("middleware", "checkpoint"))
		return nil
	}

	if err := c.h.Handle(msgCtx); err != nil {
		return err
	}

	return c.cp.Set(msgCtx.Seq())
}

var _ Handler = (*checkpointHandler)(nil)
var _ Checkpoint = (*checkpointHandler)(nil)

// NewCheckpointMiddleware makes a handler resumable through cp.
func NewCheckpointMiddleware(cp CpStore) HandlerMiddleware {
	return func(handler Handler) Handler {
		return &checkpointHandler{cp: cp, h: handler}
	}
}
