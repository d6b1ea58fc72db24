package model

// NodeUsage is the per-cluster slice of the daily ledger.
type NodeUsage struct {
	Hits  int64 `json:"hits"`
	Bytes int64 `json:"bytes"`
}

// DailyLedger aggregates keep-alive traffic reports since the last daily reset.
type DailyLedger struct {
	LastModified int64                `json:"lastModified"` // epoch seconds of last reset
	TotalHits    int64                `json:"totalHits"`
	TotalBytes   int64                `json:"totalBytes"`
	Nodes        map[string]NodeUsage `json:"nodes"`
}
