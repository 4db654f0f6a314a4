package common

// LogEntry is one entry of a replicated log. Entries are immutable once
// appended and are uniquely identified by their (Index, Term) pair.
type LogEntry struct {
	Index, Term int64
	Data        []byte
}
