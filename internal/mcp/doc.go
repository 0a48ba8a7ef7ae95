// Package mcp exposes the dispatch workflows as MCP tools.
//
// Every tool takes a JSON object of arguments and answers with a single
// text content block holding indented JSON. Domain failures are reported
// in-band as error results whose text is "<kind>: <message>"; the protocol
// layer only sees errors it cannot express as a tool result.
//
// The same server is reachable over stdio (Server.Run) and over streamable
// HTTP (Server.Handler).
package mcp
