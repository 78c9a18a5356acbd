package memcache

import (
	"testing"
	"time"

	"github.com/bincheck-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBINs_SetGetCopies(t *testing.T) {
	m := NewBINs(time.Minute)
	rec := &domain.BINRecord{BIN: "411111", Bank: "Visa Test Card"}
	m.Set(rec)
	rec.Bank = "mutated"

	got, ok := m.Get("411111")
	require.True(t, ok)
	assert.Equal(t, "Visa Test Card", got.Bank)

	got.Bank = "mutated again"
	again, _ := m.Get("411111")
	assert.Equal(t, "Visa Test Card", again.Bank)
	assert.Equal(t, 1, m.Len())
}

func TestBINs_Miss(t *testing.T) {
	m := NewBINs(time.Minute)
	_, ok := m.Get("000000")
	assert.False(t, ok)
}

func TestBINs_Expiry(t *testing.T) {
	m := NewBINs(10 * time.Millisecond)
	m.Set(&domain.BINRecord{BIN: "411111"})
	assert.Eventually(t, func() bool {
		_, ok := m.Get("411111")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestBINs_Delete(t *testing.T) {
	m := NewBINs(time.Minute)
	m.Set(&domain.BINRecord{BIN: "411111"})
	m.Delete("411111")
	_, ok := m.Get("411111")
	assert.False(t, ok)
}
