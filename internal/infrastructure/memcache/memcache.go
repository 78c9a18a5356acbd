package memcache

import (
	"time"

	"github.com/bincheck-api/internal/domain"
	gocache "github.com/patrickmn/go-cache"
)

// BINs is an in-process front for the persistent BIN cache.
// Records are copied in and out so callers cannot mutate cached values.
type BINs struct{ c *gocache.Cache }

func NewBINs(ttl time.Duration) *BINs {
	return &BINs{c: gocache.New(ttl, time.Minute)}
}

func (m *BINs) Get(bin string) (*domain.BINRecord, bool) {
	v, ok := m.c.Get(bin)
	if !ok {
		return nil, false
	}
	rec, ok := v.(domain.BINRecord)
	if !ok {
		return nil, false
	}
	return &rec, true
}

func (m *BINs) Set(rec *domain.BINRecord) { m.c.SetDefault(rec.BIN, *rec) }
func (m *BINs) Delete(bin string)         { m.c.Delete(bin) }
func (m *BINs) Len() int                  { return m.c.ItemCount() }
