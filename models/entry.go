package models

import "time"

// EntryKind distinguishes the two user-authored record categories that share
// the entries table.
type EntryKind string

const (
	KindJournal EntryKind = "journal"
	KindMood    EntryKind = "mood"
)

// Entry is a locally cached journal entry or mood log.
//
// Id is either a server-assigned identifier or a temporary local one
// (prefixed "local-") issued on an optimistic create and replaced once the
// remote confirms the write. Synced reports whether this exact version has
// been confirmed remote-side. Deleted is a soft-delete tombstone kept until a
// queued delete is confirmed, after which the row is purged.
type Entry struct {
	Id        string    `json:"id"`
	OwnerId   string    `json:"ownerId"`
	Kind      EntryKind `json:"kind"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Mood      int       `json:"mood,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Synced    bool      `json:"synced"`
	Deleted   bool      `json:"deleted"`
}

// SizeBytes is the entry's contribution to the storage budget. Only the
// variable-length user content counts; fixed columns are noise next to the
// audio assets the budget exists for.
func (e *Entry) SizeBytes() int64 {
	return int64(len(e.Title) + len(e.Content))
}

// TempIDPrefix marks identifiers issued locally before the remote has
// confirmed a create.
const TempIDPrefix = "local-"
