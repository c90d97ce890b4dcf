// Package concur implements a structured concurrency runtime: lexically
// scoped goroutine forks whose lifetimes are bounded by the scope that
// spawned them, a scheduled retry engine, and the errmode plumbing that
// lets both drive throw-based or Result-based computations uniformly.
//
// The rendezvous channel lives in the sibling rendezvous package; the rate
// limiter family lives in ratelimit. Both are designed to run their
// background workers as forks of a concur.Scope.
package concur
