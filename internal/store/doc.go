// Package store defines the persistence interfaces for the task service.
// Implementations live under internal/platform; services and workers depend
// only on these interfaces so that storage backends can be swapped and tests
// can substitute in-memory fakes.
package store
