package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"connectrpc.com/connect"
)

// ErrPanicRecovered indicates an RPC handler panicked and was recovered.
var ErrPanicRecovered = errors.New("panic recovered in rpc handler")

// readOnlyProcedures are logged at Debug; everything else changes gateway
// state and is logged at Info.
var readOnlyProcedures = map[string]bool{
	HelpProcedure:          true,
	ListListenersProcedure: true,
}

// LoggingInterceptor returns a unary interceptor that logs every admin call
// with its procedure, client address and duration. Failed calls are logged
// at Warn with the connect code.
func LoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			procedure := req.Spec().Procedure
			attrs := []slog.Attr{
				slog.String("procedure", procedure),
				slog.String("peer", req.Peer().Addr),
				slog.Duration("duration", time.Since(start)),
			}

			switch {
			case err != nil:
				attrs = append(attrs,
					slog.String("code", connect.CodeOf(err).String()),
					slog.String("error", err.Error()),
				)
				logger.LogAttrs(ctx, slog.LevelWarn, "rpc completed with error", attrs...)
			case readOnlyProcedures[procedure]:
				logger.LogAttrs(ctx, slog.LevelDebug, "rpc completed", attrs...)
			default:
				logger.LogAttrs(ctx, slog.LevelInfo, "rpc completed", attrs...)
			}

			return resp, err
		}
	}
}

// RecoveryInterceptor returns a unary interceptor that turns a handler panic
// into CodeInternal. The panic value and stack are logged at Error.
func RecoveryInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, retErr error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}

				logger.ErrorContext(ctx, "panic recovered in rpc handler",
					slog.String("procedure", req.Spec().Procedure),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)

				resp = nil
				retErr = connect.NewError(connect.CodeInternal,
					fmt.Errorf("%s: %w", req.Spec().Procedure, ErrPanicRecovered))
			}()

			return next(ctx, req)
		}
	}
}

// LoggingInterceptorOption wraps LoggingInterceptor as a handler option.
func LoggingInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(LoggingInterceptor(logger))
}

// RecoveryInterceptorOption wraps RecoveryInterceptor as a handler option.
func RecoveryInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(RecoveryInterceptor(logger))
}
