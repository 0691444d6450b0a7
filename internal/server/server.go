// Package server implements the ConnectRPC admin service of the gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dantte-lp/smgw/internal/gateway"
)

// Request validation errors.
var (
	// ErrMissingWhom indicates a Suppress request without a recipient.
	ErrMissingWhom = errors.New("whom is required")

	// ErrMissingBody indicates a Dispatch request without text.
	ErrMissingBody = errors.New("body is required")
)

// Gateway is the subset of gateway.Manager the admin service needs.
type Gateway interface {
	SuppressRecipient(whom string, d time.Duration) int
	Help() []string
	Listeners() []gateway.ListenerSnapshot
	Receive(ctx context.Context, msg gateway.InboundMessage) (reply string, handled bool)
}

// AdminServer implements AdminServiceHandler.
//
// Each RPC delegates to the gateway Manager. The server is a thin adapter
// between the RPC API and the internal domain.
type AdminServer struct {
	gw     Gateway
	logger *slog.Logger
}

// verify interface compliance at compile time.
var _ AdminServiceHandler = (*AdminServer)(nil)

// New creates a new AdminServer and returns the HTTP handler and path.
func New(gw Gateway, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	srv := &AdminServer{
		gw:     gw,
		logger: logger.With(slog.String("component", "server")),
	}
	return NewAdminServiceHandler(srv, opts...)
}

// Suppress silences every listener forwarding to whom.
func (s *AdminServer) Suppress(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	whom := stringField(req.Msg, "whom")
	if whom == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrMissingWhom)
	}

	minutes := gateway.NormalizeSuppressMinutes(numberField(req.Msg, "minutes"))

	affected := s.gw.SuppressRecipient(whom, gateway.MinutesToDuration(minutes))

	s.logger.InfoContext(ctx, "listeners suppressed via admin API",
		slog.String("whom", whom),
		slog.Float64("minutes", minutes),
		slog.Int("affected", affected),
	)

	return respond(map[string]any{
		"affected": affected,
		"minutes":  minutes,
	})
}

// Help returns the chat command names.
func (s *AdminServer) Help(
	_ context.Context,
	_ *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	return respond(map[string]any{
		"commands": stringsToValues(s.gw.Help()),
	})
}

// ListListeners returns a snapshot of every listener.
func (s *AdminServer) ListListeners(
	_ context.Context,
	_ *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	snaps := s.gw.Listeners()
	listeners := make([]any, 0, len(snaps))
	for _, snap := range snaps {
		listeners = append(listeners, snapshotToMap(snap))
	}

	return respond(map[string]any{
		"listeners": listeners,
	})
}

// Dispatch runs chat text through the command registry as if it arrived
// from whom.
func (s *AdminServer) Dispatch(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	body := stringField(req.Msg, "body")
	if body == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrMissingBody)
	}

	reply, handled := s.gw.Receive(ctx, gateway.InboundMessage{
		Body:   body,
		Whom:   stringField(req.Msg, "whom"),
		Author: stringField(req.Msg, "author"),
	})

	return respond(map[string]any{
		"handled": handled,
		"reply":   reply,
	})
}

// -------------------------------------------------------------------------
// Struct helpers
// -------------------------------------------------------------------------

func respond(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("build response: %w", err))
	}
	return connect.NewResponse(msg), nil
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func numberField(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

func stringsToValues(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// snapshotToMap converts a listener snapshot into Struct-compatible values.
func snapshotToMap(snap gateway.ListenerSnapshot) map[string]any {
	rcps := make(map[string]any, len(snap.Recipients))
	for agent, whoms := range snap.Recipients {
		rcps[agent] = stringsToValues(whoms)
	}

	lastActivity := ""
	if !snap.Throttle.LastActivity.IsZero() {
		lastActivity = snap.Throttle.LastActivity.UTC().Format(time.RFC3339)
	}

	return map[string]any{
		"addr":          snap.Addr,
		"local_addr":    snap.LocalAddr,
		"state":         snap.Throttle.State.String(),
		"counter":       snap.Throttle.Counter,
		"last_activity": lastActivity,
		"threshold":     snap.Throttle.Threshold,
		"timespan":      snap.Throttle.Timespan.String(),
		"format":        snap.Format,
		"max_size":      snap.MaxSize,
		"senders":       stringsToValues(snap.Senders),
		"recipients":    rcps,
	}
}
