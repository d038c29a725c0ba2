// Package quota keeps aggregate local storage within the configured
// ceilings. Journal and mood rows are user-authored and never evicted;
// downloaded audio is large and re-fetchable, so eviction targets assets
// exclusively, least recently played first.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/driftwell/driftwell-go/common"
	"github.com/driftwell/driftwell-go/config"
	"github.com/driftwell/driftwell-go/logging"
	"github.com/driftwell/driftwell-go/models"
	"github.com/driftwell/driftwell-go/store"
)

// Manager enforces the hard global ceiling and warns on soft per-category
// ceilings. All counters live in the store's metadata table, so concurrent
// tasks see one consistent view instead of drifting in-memory copies.
type Manager struct {
	store *store.Store
	cfg   *config.Config
	log   logging.Logger
}

func NewManager(st *store.Store, cfg *config.Config, log logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Manager{store: st, cfg: cfg, log: log}
}

// CheckAndEvict runs after any write that increases stored bytes. If usage is
// over the hard ceiling it evicts assets in LRU order until back under, or
// reports ErrQuotaExceeded when nothing evictable remains.
func (m *Manager) CheckAndEvict(ctx context.Context) error {
	usage, err := m.store.Usage(ctx)
	if err != nil {
		return err
	}

	m.warnSoftCeilings(ctx, usage)

	if usage.TotalBytesUsed <= m.cfg.HardCeilingBytes {
		return nil
	}

	lru, err := m.store.AssetsLRU(ctx)
	if err != nil {
		return err
	}

	over := usage.TotalBytesUsed - m.cfg.HardCeilingBytes
	for _, a := range lru {
		if over <= 0 {
			break
		}
		if err := m.store.DeleteAsset(ctx, a.Id); err != nil {
			return err
		}
		over -= a.SizeBytes
		m.log.Info(ctx, "evicted asset for quota", "id", a.Id, "sizeBytes", a.SizeBytes)
	}

	if err := m.store.MarkCleanup(ctx, time.Now()); err != nil {
		return err
	}

	if over > 0 {
		return fmt.Errorf("%w: %d bytes over ceiling with no evictable assets",
			common.ErrQuotaExceeded, over)
	}
	return nil
}

// EnsureRoomFor guards a new large-asset write before any bytes are stored.
// A single object bigger than the hard ceiling can never fit; otherwise the
// post-write CheckAndEvict will make room.
func (m *Manager) EnsureRoomFor(ctx context.Context, sizeBytes int64) error {
	if sizeBytes > m.cfg.HardCeilingBytes {
		return fmt.Errorf("%w: asset of %d bytes exceeds ceiling %d",
			common.ErrQuotaExceeded, sizeBytes, m.cfg.HardCeilingBytes)
	}

	usage, err := m.store.Usage(ctx)
	if err != nil {
		return err
	}
	if usage.TotalBytesUsed+sizeBytes <= m.cfg.HardCeilingBytes {
		return nil
	}

	// Over budget after this write: only admit it if eviction could free
	// enough. With zero assets stored there is nothing to evict.
	assetBytes := usage.ByCategory[models.CategoryAssets]
	if usage.TotalBytesUsed-assetBytes+sizeBytes > m.cfg.HardCeilingBytes {
		return fmt.Errorf("%w: %d bytes cannot be freed by eviction",
			common.ErrQuotaExceeded, usage.TotalBytesUsed+sizeBytes-m.cfg.HardCeilingBytes)
	}
	return nil
}

// UsageBreakdown returns per-category totals and percent-of-ceiling for
// display. Pure read, no side effects.
func (m *Manager) UsageBreakdown(ctx context.Context) ([]models.CategoryUsage, error) {
	usage, err := m.store.Usage(ctx)
	if err != nil {
		return nil, err
	}

	ceilings := map[models.Category]int64{
		models.CategoryJournal: m.cfg.SoftJournalCeilingBytes,
		models.CategoryMood:    m.cfg.SoftMoodCeilingBytes,
		models.CategoryAssets:  m.cfg.HardCeilingBytes,
	}

	result := make([]models.CategoryUsage, 0, len(ceilings))
	for _, cat := range []models.Category{models.CategoryJournal, models.CategoryMood, models.CategoryAssets} {
		ceiling := ceilings[cat]
		bytes := usage.ByCategory[cat]
		var pct float64
		if ceiling > 0 {
			pct = float64(bytes) / float64(ceiling) * 100
		}
		result = append(result, models.CategoryUsage{
			Category:     cat,
			Bytes:        bytes,
			CeilingBytes: ceiling,
			Percent:      pct,
		})
	}
	return result, nil
}

func (m *Manager) warnSoftCeilings(ctx context.Context, usage models.Usage) {
	if j := usage.ByCategory[models.CategoryJournal]; j > m.cfg.SoftJournalCeilingBytes {
		m.log.Warn(ctx, "journal storage over soft ceiling",
			"bytes", j, "ceiling", m.cfg.SoftJournalCeilingBytes)
	}
	if mm := usage.ByCategory[models.CategoryMood]; mm > m.cfg.SoftMoodCeilingBytes {
		m.log.Warn(ctx, "mood storage over soft ceiling",
			"bytes", mm, "ceiling", m.cfg.SoftMoodCeilingBytes)
	}
}
