// Command group_walkthrough drives a running "mailmcp serve" through the MCP
// tools: it builds a group, mails it, and prints the recorded history.
// Run "mailmcp sink" (or enable sink in the config) so the mail has
// somewhere to go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type historyResponse struct {
	Items []struct {
		ID         int64    `json:"id"`
		Subject    string   `json:"subject"`
		Recipients []string `json:"recipients"`
	} `json:"items"`
}

func main() {
	baseURL := getenvDefault("MAILMCP_URL", "http://127.0.0.1:3000")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "group-walkthrough", Version: "v0.1.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: baseURL + "/mcp"}, nil)
	if err != nil {
		panic(err)
	}
	defer session.Close()

	userA := "test1@mailmcp.dev"
	userB := "test2@mailmcp.dev"
	group := fmt.Sprintf("walkthrough-%d", time.Now().Unix())

	fmt.Println("Creating group", group)
	mustCall(ctx, session, "manage_mail_group", map[string]any{"action": "add", "name": group})
	for _, email := range []string{userA, userB} {
		fmt.Println("Adding", email)
		// An existing recipient is fine; membership is what matters.
		call(ctx, session, "manage_recipient", map[string]any{"action": "add", "email": email})
		mustCall(ctx, session, "add_recipient_to_group", map[string]any{"group_name": group, "recipient_email": email})
	}

	fmt.Println("Sending to group...")
	out := mustCall(ctx, session, "send_email_to_group", map[string]any{
		"group_name": group,
		"subject":    "Walkthrough - group send",
		"body":       "Hello!\n\nThis is a mailmcp group walkthrough email.\n",
	})
	fmt.Println(out)

	fmt.Println("History per recipient:")
	for _, email := range []string{userA, userB} {
		history := getHistory(baseURL, email)
		fmt.Printf("- %s records=%d\n", email, len(history.Items))
	}
}

func call(ctx context.Context, session *mcp.ClientSession, tool string, args map[string]any) (string, bool) {
	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		panic(err)
	}
	var text string
	for _, content := range result.Content {
		if t, ok := content.(*mcp.TextContent); ok {
			text += t.Text
		}
	}
	if result.IsError {
		fmt.Fprintf(os.Stderr, "%s: %s\n", tool, text)
	}
	return text, !result.IsError
}

func mustCall(ctx context.Context, session *mcp.ClientSession, tool string, args map[string]any) string {
	text, ok := call(ctx, session, tool, args)
	if !ok {
		os.Exit(1)
	}
	return text
}

func getHistory(baseURL, email string) historyResponse {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/history?recipient_email=" + email)
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		panic(fmt.Sprintf("history request failed: %s", string(b)))
	}
	var out historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		panic(err)
	}
	return out
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
