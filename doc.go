// Package mcp implements the server side of the Model Context Protocol (MCP) for a small,
// fixed set of tools. It provides the JSON-RPC envelope types, an immutable tool registry,
// a dispatcher that turns tool calls into text content blocks, a method router, and an SSE
// session manager that lets a client keep a long-lived stream open while posting requests
// to a companion endpoint.
//
// Two transports are supported. In synchronous mode a single HTTP POST carries one request
// and the response is the HTTP body. In streaming mode the client opens an SSE stream, receives
// an "endpoint" event naming the URL to post to, and every response is pushed back over the
// stream. Both modes share the same Router, so a request yields the same result either way.
//
// The protocol follows https://spec.modelcontextprotocol.io/specification/.
package mcp
