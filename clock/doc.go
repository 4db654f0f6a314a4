// Package clock provides vector clocks for tracking causality between
// versions of a value replicated without consensus. Each node owns one
// counter; comparing two clocks yields a happened-before relation or
// establishes that the versions are concurrent.
package clock
