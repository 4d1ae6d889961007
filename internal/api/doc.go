// Package api exposes the node's status and debug surface and the gateway's
// submission endpoints over HTTP. Handlers translate requests into task and
// gateway calls and map their errors to status codes.
package api
