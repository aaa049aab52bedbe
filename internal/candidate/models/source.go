package models

// Source names the signal that created a candidate. Used as a metric label
// and in logs.
type Source string

const (
	SourceNotification Source = "notification"
	SourceAnswer       Source = "answer"
	SourceCheckpoint   Source = "checkpoint"
	SourceCaseworker   Source = "caseworker"
)
