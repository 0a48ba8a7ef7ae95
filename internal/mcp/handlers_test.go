package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mailmcp/internal/dispatch"
	"github.io/infrasutra/mailmcp/internal/mailer"
	"github.io/infrasutra/mailmcp/internal/store"
)

type countingTransport struct {
	mu    sync.Mutex
	count int
}

func (c *countingTransport) Deliver(_ context.Context, _ string, _ []string, msg io.Reader) error {
	if _, err := io.Copy(io.Discard, msg); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func (c *countingTransport) delivered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func newTestServer(t *testing.T) (*Server, *countingTransport) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, "")
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(ctx))
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := &countingTransport{}
	m := mailer.New(mailer.Config{
		Host:    "localhost",
		Port:    2525,
		Senders: []mailer.Sender{{Email: "noreply@x.com"}},
	},
		mailer.WithLogger(logger),
		mailer.WithTransport(func(mailer.Config, mailer.Sender) mailer.Transport { return transport }),
	)
	svc := dispatch.New(st, m, dispatch.WithLogger(logger))
	return NewServer(svc, &ServerOptions{Logger: logger, Version: "test"}), transport
}

func (s *Server) handlerFor(t *testing.T, name string) mcp.ToolHandler {
	t.Helper()
	for _, spec := range s.toolSpecs() {
		if spec.tool.Name == name {
			return spec.handler
		}
	}
	t.Fatalf("tool %q is not registered", name)
	return nil
}

func callTool(t *testing.T, s *Server, name, args string) *mcp.CallToolResult {
	t.Helper()
	req := &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      name,
			Arguments: json.RawMessage(args),
		},
	}
	result, err := s.handlerFor(t, name)(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestToolSpecsAreUnique(t *testing.T) {
	s, _ := newTestServer(t)

	seen := map[string]bool{}
	for _, spec := range s.toolSpecs() {
		assert.False(t, seen[spec.tool.Name], "duplicate tool %s", spec.tool.Name)
		seen[spec.tool.Name] = true

		var schema map[string]any
		require.NoError(t, json.Unmarshal(spec.tool.InputSchema.(json.RawMessage), &schema), spec.tool.Name)
		assert.Equal(t, "object", schema["type"], spec.tool.Name)
	}
	assert.Len(t, seen, 17)
}

func TestManageAndSendToGroup(t *testing.T) {
	s, transport := newTestServer(t)

	result := callTool(t, s, ToolManageRecipient, `{"action":"add","email":"me@x.com"}`)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), `"email": "me@x.com"`)

	result = callTool(t, s, ToolManageMailGroup, `{"action":"ADD","name":"eng"}`)
	require.False(t, result.IsError, resultText(t, result))

	result = callTool(t, s, ToolAddRecipientToGroup, `{"group_name":"eng","recipient_email":"me@x.com"}`)
	require.False(t, result.IsError, resultText(t, result))

	result = callTool(t, s, ToolSendEmailToGroup, `{"group_name":"eng","subject":"Hi","body":"there"}`)
	require.False(t, result.IsError, resultText(t, result))

	var delivery dispatch.Delivery
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &delivery))
	assert.Equal(t, dispatch.StatusSent, delivery.Status)
	assert.Equal(t, []string{"me@x.com"}, delivery.To)
	assert.NotZero(t, delivery.RecordID)
	assert.Equal(t, 1, transport.delivered())

	result = callTool(t, s, ToolGetEmailRecords, `{"recipient_email":"me@x.com"}`)
	require.False(t, result.IsError, resultText(t, result))
	var entries []dispatch.EmailHistoryEntry
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Hi", entries[0].Subject)
	assert.Equal(t, []string{"me@x.com"}, entries[0].Recipients)
}

func TestToolErrorsAreResults(t *testing.T) {
	s, transport := newTestServer(t)

	cases := []struct {
		name   string
		tool   string
		args   string
		prefix string
	}{
		{"malformed arguments", ToolSendEmail, `{"to":"not-a-list"}`, "invalid argument: failed to parse arguments"},
		{"unknown action", ToolManageMailGroup, `{"action":"rename"}`, "invalid argument: unknown action"},
		{"missing action", ToolManageRecipient, `{}`, "invalid argument"},
		{"unknown group", ToolSendEmailToGroup, `{"group_name":"nope","subject":"s","body":"b"}`, "not found"},
		{"history without filter", ToolGetEmailRecords, `{}`, "invalid argument: at least one"},
		{"bad date", ToolGetEmailRecords, `{"start_date":"yesterday"}`, "invalid argument: start_date"},
		{"missing event id", ToolRemoveEvent, `{}`, "invalid argument: event_id"},
		{"unknown event", ToolListEventAttendees, `{"event_id":42}`, "not found"},
		{"bad address", ToolSendEmail, `{"to":["not an address"],"subject":"s","body":"b"}`, "invalid argument"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := callTool(t, s, tc.tool, tc.args)
			assert.True(t, result.IsError)
			assert.True(t, strings.HasPrefix(resultText(t, result), tc.prefix), resultText(t, result))
		})
	}
	assert.Zero(t, transport.delivered())
}

func TestDuplicateGroupIsConflict(t *testing.T) {
	s, _ := newTestServer(t)

	result := callTool(t, s, ToolManageMailGroup, `{"action":"add","name":"eng"}`)
	require.False(t, result.IsError)
	result = callTool(t, s, ToolManageMailGroup, `{"action":"add","name":"eng"}`)
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, result), "conflict"), resultText(t, result))
}

func TestNullArgumentsAreEmptyObject(t *testing.T) {
	s, _ := newTestServer(t)

	result := callTool(t, s, ToolListGroups, `null`)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), `"page": 1`)
}

func TestListPastTheLastPage(t *testing.T) {
	s, _ := newTestServer(t)
	result := callTool(t, s, ToolManageMailGroup, `{"action":"add","name":"eng"}`)
	require.False(t, result.IsError, resultText(t, result))

	for _, tool := range []string{ToolListGroups, ToolListRecipients, ToolListTemplates} {
		for _, page := range []string{"92233720368547759", "92233720368547760"} {
			result := callTool(t, s, tool, `{"page":`+page+`,"limit":100}`)
			require.False(t, result.IsError, resultText(t, result))
			text := resultText(t, result)
			assert.Contains(t, text, `"items": []`, tool)
			assert.Contains(t, text, `"has_next": false`, tool)
		}
	}
}

func TestListRecipientsOfRemovedGroup(t *testing.T) {
	s, _ := newTestServer(t)
	result := callTool(t, s, ToolManageMailGroup, `{"action":"add","name":"eng"}`)
	require.False(t, result.IsError, resultText(t, result))
	result = callTool(t, s, ToolManageMailGroup, `{"action":"remove","name":"eng"}`)
	require.False(t, result.IsError, resultText(t, result))

	result = callTool(t, s, ToolListRecipients, `{"group_name":"eng"}`)
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, result), "not found"), resultText(t, result))

	for _, spec := range s.toolSpecs() {
		if spec.tool.Name == ToolListRecipients || spec.tool.Name == ToolListEventAttendees {
			assert.Contains(t, spec.tool.Description, "not found error", spec.tool.Name)
		}
	}
}

func TestEventToolsRoundTrip(t *testing.T) {
	s, transport := newTestServer(t)

	result := callTool(t, s, ToolCreateEvent, `{"title":"Launch","start_time":"2030-01-02T15:00:00Z","end_time":"2030-01-02T16:00:00Z"}`)
	require.False(t, result.IsError, resultText(t, result))
	var event store.Event
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &event))
	require.NotZero(t, event.ID)

	result = callTool(t, s, ToolListEvents, `{"start_time":"2030-01-01T00:00:00Z"}`)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), `"title": "Launch"`)

	args, err := json.Marshal(map[string]any{
		"event_id":   event.ID,
		"recipients": []map[string]any{{"email": "a@x.com", "required": true}, {"email": "b@x.com"}},
	})
	require.NoError(t, err)
	result = callTool(t, s, ToolSendEventInvitation, string(args))
	require.False(t, result.IsError, resultText(t, result))
	assert.Equal(t, 1, transport.delivered())

	ref := `{"event_id":` + jsonInt(event.ID) + `}`
	result = callTool(t, s, ToolListEventAttendees, ref)
	require.False(t, result.IsError, resultText(t, result))
	var attendees []dispatch.AttendeeView
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &attendees))
	require.Len(t, attendees, 2)
	assert.Equal(t, "a@x.com", attendees[0].Email)
	assert.Equal(t, store.InvitationRequired, attendees[0].InvitationType)

	result = callTool(t, s, ToolRemoveEvent, ref)
	require.False(t, result.IsError, resultText(t, result))
	result = callTool(t, s, ToolListEventAttendees, ref)
	assert.True(t, result.IsError)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestInMemoryClientSession(t *testing.T) {
	ctx := context.Background()
	s, transport := newTestServer(t)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, ToolSendEmail)
	assert.Contains(t, names, ToolSendEventInvitation)
	assert.Contains(t, names, ToolListTemplates)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name: ToolSendEmail,
		Arguments: map[string]any{
			"to":      []string{"someone@x.com"},
			"subject": "hello",
			"body":    "from the client",
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), `"status": "sent"`)
	assert.Equal(t, 1, transport.delivered())

	result, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolManageEmailTemplate,
		Arguments: map[string]any{"action": "remove", "name": "missing"},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, result), "not found"), resultText(t, result))
}
