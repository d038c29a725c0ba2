package models

import "time"

// Category names a storage budget bucket.
type Category string

const (
	CategoryJournal Category = "journal"
	CategoryMood    Category = "mood"
	CategoryAssets  Category = "assets"
)

// Usage is the singleton storage-accounting record. It is updated in the same
// transaction as any write that changes stored bytes, so it can never drift
// from the tables it summarizes.
type Usage struct {
	TotalBytesUsed int64
	ByCategory     map[Category]int64
	LastCleanupAt  time.Time
}

// CategoryUsage is one row of the user-facing storage breakdown.
type CategoryUsage struct {
	Category     Category
	Bytes        int64
	CeilingBytes int64
	Percent      float64
}
