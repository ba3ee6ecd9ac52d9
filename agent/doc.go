// Package agent serves the agent API: POST /invoke accepts a user's bearer
// token, exchanges it through the credential broker for a delegated session
// token, and runs the request against the configured MCP tool servers with
// that session token.
//
// The reasoning loop is pluggable through Runner. DirectRunner executes the
// tool calls listed in the request, in order.
package agent
