// Package log provides the structured logging abstraction used across the
// caresync agent.
//
// The [Logger] interface decouples components from a concrete logging
// library. [ZerologAdapter] backs it with zerolog for production use;
// [NoopLogger] is the default when no logger is supplied.
package log
