package serve

import (
	"context"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/glsp"
	"go.uber.org/zap"

	"github.com/Paranoid-AF/ghostlet"
	"github.com/Paranoid-AF/ghostlet/errors"
)

// connHandler adapts a Backend to one JSON-RPC connection.
//
// jsonrpc2 delivers messages one at a time from its read loop. Completion
// requests are answered from their own goroutine so that a slow generation
// does not hold up the rest of the connection; every other message is handled
// inline, which keeps text synchronization in the order the editor sent it.
type connHandler struct {
	backend *Backend
	logger  *zap.SugaredLogger
}

func newConnHandler(backend *Backend) *connHandler {
	return &connHandler{backend: backend, logger: backend.logger}
}

// Handle implements jsonrpc2.Handler.
func (h *connHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method == ghostlet.MethodGetCompletions && !req.Notif {
		go h.handle(ctx, conn, req)
		return
	}
	h.handle(ctx, conn, req)
}

func (h *connHandler) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	gctx := &glsp.Context{
		Method: req.Method,
		Notify: func(method string, params any) {
			if err := conn.Notify(ctx, method, params); err != nil {
				h.logger.Debugw("failed to notify client", "method", method, "error", err)
			}
		},
		Call: func(method string, params any, result any) {
			if err := conn.Call(ctx, method, params, result); err != nil {
				h.logger.Debugw("failed to call client", "method", method, "error", err)
			}
		},
	}
	if req.Params != nil {
		gctx.Params = *req.Params
	}

	result, rpcErr := h.dispatch(gctx)
	if req.Method == "exit" {
		if err := conn.Close(); err != nil {
			h.logger.Debugw("failed to close connection on exit", "error", err)
		}
		return
	}

	if req.Notif {
		if rpcErr != nil {
			h.logger.Warnw("notification failed", "method", req.Method, "error", rpcErr.Message)
		}
		return
	}

	var err error
	if rpcErr != nil {
		err = conn.ReplyWithError(ctx, req.ID, rpcErr)
	} else {
		err = conn.Reply(ctx, req.ID, result)
	}
	if err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		h.logger.Warnw("failed to send response", "method", req.Method, "id", req.ID.String(), "error", err)
	}
}

// dispatch runs the backend and maps its outcome onto JSON-RPC error codes.
func (h *connHandler) dispatch(gctx *glsp.Context) (any, *jsonrpc2.Error) {
	r, validMethod, validParams, err := h.backend.Handle(gctx)
	switch {
	case !validMethod:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method not supported: %s", gctx.Method),
		}
	case !validParams:
		rpcErr := &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
		if err != nil {
			rpcErr.Message = err.Error()
		}
		return nil, rpcErr
	case err != nil:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: err.Error()}
	}
	return r, nil
}
