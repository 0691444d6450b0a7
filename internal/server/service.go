package server

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminServiceName is the fully-qualified name of the admin service.
const AdminServiceName = "smgw.admin.v1.AdminService"

// Procedure paths of the admin service. Requests and responses are
// google.protobuf.Struct messages.
const (
	// SuppressProcedure suppresses listeners forwarding to a recipient.
	// Request {whom, minutes}; response {affected, minutes}.
	SuppressProcedure = "/" + AdminServiceName + "/Suppress"

	// HelpProcedure lists chat commands. Response {commands}.
	HelpProcedure = "/" + AdminServiceName + "/Help"

	// ListListenersProcedure lists listener snapshots. Response {listeners}.
	ListListenersProcedure = "/" + AdminServiceName + "/ListListeners"

	// DispatchProcedure runs chat text through the command registry.
	// Request {body, whom, author}; response {handled, reply}.
	DispatchProcedure = "/" + AdminServiceName + "/Dispatch"
)

// AdminServiceHandler is the server side of the admin service.
type AdminServiceHandler interface {
	Suppress(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)
	Help(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)
	ListListeners(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)
	Dispatch(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)
}

// NewAdminServiceHandler builds an HTTP handler for svc and returns the
// path to mount it on.
func NewAdminServiceHandler(svc AdminServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	handlers := map[string]*connect.Handler{
		SuppressProcedure:      connect.NewUnaryHandler(SuppressProcedure, svc.Suppress, opts...),
		HelpProcedure:          connect.NewUnaryHandler(HelpProcedure, svc.Help, opts...),
		ListListenersProcedure: connect.NewUnaryHandler(ListListenersProcedure, svc.ListListeners, opts...),
		DispatchProcedure:      connect.NewUnaryHandler(DispatchProcedure, svc.Dispatch, opts...),
	}

	return "/" + AdminServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// AdminServiceClient is the client side of the admin service.
type AdminServiceClient interface {
	Suppress(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)
	Help(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)
	ListListeners(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)
	Dispatch(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)
}

// NewAdminServiceClient creates a client for the admin service at baseURL.
func NewAdminServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) AdminServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &adminServiceClient{
		suppress: connect.NewClient[structpb.Struct, structpb.Struct](
			httpClient, baseURL+SuppressProcedure, opts...),
		help: connect.NewClient[structpb.Struct, structpb.Struct](
			httpClient, baseURL+HelpProcedure, opts...),
		listListeners: connect.NewClient[structpb.Struct, structpb.Struct](
			httpClient, baseURL+ListListenersProcedure, opts...),
		dispatch: connect.NewClient[structpb.Struct, structpb.Struct](
			httpClient, baseURL+DispatchProcedure, opts...),
	}
}

type adminServiceClient struct {
	suppress      *connect.Client[structpb.Struct, structpb.Struct]
	help          *connect.Client[structpb.Struct, structpb.Struct]
	listListeners *connect.Client[structpb.Struct, structpb.Struct]
	dispatch      *connect.Client[structpb.Struct, structpb.Struct]
}

func (c *adminServiceClient) Suppress(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return c.suppress.CallUnary(ctx, req)
}

func (c *adminServiceClient) Help(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return c.help.CallUnary(ctx, req)
}

func (c *adminServiceClient) ListListeners(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return c.listListeners.CallUnary(ctx, req)
}

func (c *adminServiceClient) Dispatch(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return c.dispatch.CallUnary(ctx, req)
}
