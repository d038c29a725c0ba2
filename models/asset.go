package models

import "time"

// Asset is a downloaded media object, typically meditation audio, kept for
// offline playback. LastAccessedAt is bumped on every playback and orders
// eviction (least recently used goes first).
type Asset struct {
	Id             string    `json:"id"`
	Title          string    `json:"title"`
	Data           []byte    `json:"-"`
	SizeBytes      int64     `json:"sizeBytes"`
	DownloadedAt   time.Time `json:"downloadedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}
