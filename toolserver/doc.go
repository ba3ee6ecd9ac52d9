// Package toolserver hosts capability-guarded MCP tools over streamable HTTP.
//
// Every request to the MCP endpoint must carry a bearer token. The token is
// verified before MCP dispatch and its claims travel on the call context.
// Each tool declares the capability it needs; Guarded grants a call only
// when both the agent scope and the delegated subject's permissions contain
// that capability. Denials are returned as tool results carrying
// {"error":"<message>"} with IsError set, never as transport errors.
//
// Usage:
//
//	srv, err := toolserver.New(toolserver.Config{
//	    Name:     "Customer",
//	    Verifier: verifier,
//	    Logger:   obs.Logger(),
//	    Metrics:  obs.Metrics(),
//	})
//	srv.Register(customer.Tools(store)...)
//	http.ListenAndServe(addr, srv.Handler())
package toolserver
