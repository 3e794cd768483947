// Package mcp implements a Model Context Protocol server for a fixed catalog of text tools,
// served over the split HTTP transport: a Server-Sent Events stream for server-to-client
// messages and HTTP POSTs for client-to-server messages.
//
// A client opens the stream and is told, through an endpoint event, where to POST. Each POST
// names its session with the sessionId query parameter, is acknowledged with 202 Accepted,
// and its JSON-RPC response is delivered asynchronously as a message event on the stream.
// SessionStore bridges the two halves, Dispatcher computes responses, and SSEServer provides
// the http.Handlers. StdIO serves the same Dispatcher over stdin/stdout, and SSEClient is a
// minimal client for the HTTP transport.
package mcp
