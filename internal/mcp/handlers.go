package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.io/infrasutra/mailmcp/internal/apperr"
	"github.io/infrasutra/mailmcp/internal/dispatch"
	"github.io/infrasutra/mailmcp/internal/store"
)

// handleRaw adapts fn into a tool handler. fn receives the raw argument
// object; an absent object is passed as "{}".
func handleRaw[Res any](s *Server, tool string, fn func(context.Context, json.RawMessage) (Res, error)) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := json.RawMessage("{}")
		if req != nil && req.Params != nil {
			if trimmed := bytes.TrimSpace(req.Params.Arguments); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
				args = trimmed
			}
		}

		result, err := fn(ctx, args)
		if err != nil {
			return s.errorResult(tool, err), nil
		}
		return s.jsonResult(tool, result), nil
	}
}

// handle decodes the arguments into Req before calling fn.
func handle[Req, Res any](s *Server, tool string, fn func(context.Context, Req) (Res, error)) mcp.ToolHandler {
	return handleRaw(s, tool, func(ctx context.Context, raw json.RawMessage) (Res, error) {
		var req Req
		if err := json.Unmarshal(raw, &req); err != nil {
			var zero Res
			return zero, apperr.InvalidArgument("failed to parse arguments: %v", err)
		}
		return fn(ctx, req)
	})
}

func (s *Server) errorResult(tool string, err error) *mcp.CallToolResult {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindDelivery, apperr.KindStore, apperr.KindUnknown:
		s.logger.Error("tool failed", "tool", tool, "kind", kind.String(), "error", err)
	default:
		s.logger.Debug("tool rejected", "tool", tool, "kind", kind.String(), "error", err)
	}

	text := err.Error()
	if kind == apperr.KindUnknown {
		text = fmt.Sprintf("%s: %v", kind, err)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func (s *Server) jsonResult(tool string, v any) *mcp.CallToolResult {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.errorResult(tool, fmt.Errorf("failed to encode response: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}
}

func (s *Server) manageGroup(ctx context.Context, raw json.RawMessage) (dispatch.GroupResult, error) {
	cmd, err := dispatch.DecodeGroupCommand(raw)
	if err != nil {
		return dispatch.GroupResult{}, err
	}
	return s.svc.ManageGroup(ctx, cmd)
}

func (s *Server) manageRecipient(ctx context.Context, raw json.RawMessage) (dispatch.RecipientResult, error) {
	cmd, err := dispatch.DecodeRecipientCommand(raw)
	if err != nil {
		return dispatch.RecipientResult{}, err
	}
	return s.svc.ManageRecipient(ctx, cmd)
}

func (s *Server) manageTemplate(ctx context.Context, raw json.RawMessage) (dispatch.TemplateResult, error) {
	cmd, err := dispatch.DecodeTemplateCommand(raw)
	if err != nil {
		return dispatch.TemplateResult{}, err
	}
	return s.svc.ManageTemplate(ctx, cmd)
}

type eventRef struct {
	EventID int64 `json:"event_id"`
}

func (r eventRef) validate() error {
	if r.EventID <= 0 {
		return apperr.InvalidArgument("event_id is required")
	}
	return nil
}

func (s *Server) removeEvent(ctx context.Context, ref eventRef) (store.Event, error) {
	if err := ref.validate(); err != nil {
		return store.Event{}, err
	}
	return s.svc.RemoveEvent(ctx, ref.EventID)
}

func (s *Server) listEventAttendees(ctx context.Context, ref eventRef) ([]dispatch.AttendeeView, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	return s.svc.ListEventAttendees(ctx, ref.EventID)
}
