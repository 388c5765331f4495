package domain

import "time"

// HistoryEntry is one row of the per-(project,layer) subset history (spec
// DATA MODEL, HistoryEntry; spec §6 wire-exact schema).
type HistoryEntry struct {
	ID            string
	Timestamp     time.Time
	ProjectUUID   string
	LayerID       string
	SourceLayerID string
	SeqOrder      int
	SubsetString  string
}

// PendingSubsetRequest is a host-layer mutation enqueued from any thread and
// drained only on the host's UI thread by C11 (spec DATA MODEL,
// PendingSubsetRequest).
type PendingSubsetRequest struct {
	LayerHandle   string
	NewExpression string
}
