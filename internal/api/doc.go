// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It acts as an adapter between external clients
// and the internal application services, translating HTTP concerns to
// business operations.
//
// The task API is a polling surface: submissions return 202 immediately and
// clients read authoritative state from the store via GET until the task
// reaches a terminal status.
package api
