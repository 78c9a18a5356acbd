package lookup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/infrastructure/memcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockBINStore struct{ mock.Mock }

func (m *mockBINStore) Get(ctx context.Context, bin string) (*domain.BINRecord, error) {
	args := m.Called(ctx, bin)
	if r, _ := args.Get(0).(*domain.BINRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockBINStore) Put(ctx context.Context, rec *domain.BINRecord) error {
	return m.Called(ctx, rec).Error(0)
}

type mockProvider struct{ mock.Mock }

func (m *mockProvider) Lookup(ctx context.Context, bin string) (*domain.BINRecord, error) {
	args := m.Called(ctx, bin)
	if r, _ := args.Get(0).(*domain.BINRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeHistory records writes; history is written asynchronously so tests poll it.
type fakeHistory struct {
	mu      sync.Mutex
	entries []domain.LookupHistoryEntry
	err     error
}

func (f *fakeHistory) Put(_ context.Context, e *domain.LookupHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeHistory) ListByUser(_ context.Context, userID string, limit int32) ([]domain.LookupHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.LookupHistoryEntry
	for i := len(f.entries) - 1; i >= 0 && int32(len(out)) < limit; i-- {
		if f.entries[i].UserID == userID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeHistory) first() domain.LookupHistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[0]
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// --- helpers ---

func visa() *domain.BINRecord {
	return &domain.BINRecord{
		BIN:         "411111",
		Bank:        "JPMORGAN CHASE BANK N.A.",
		Country:     "United States",
		CountryCode: "US",
		Type:        "Credit",
		Brand:       "Visa",
		Level:       "Classic",
	}
}

func newSvc(store *mockBINStore, prov *mockProvider, hist *fakeHistory, front frontCache) Service {
	deps := ServiceDeps{CacheRepo: store, Provider: prov, HistoryRepo: hist}
	if front != nil {
		deps.FrontCache = front
	}
	return NewService(deps)
}

// --- Lookup tests ---

func TestLookup_InvalidBIN_NoExternalCalls(t *testing.T) {
	store, prov := &mockBINStore{}, &mockProvider{}

	_, err := newSvc(store, prov, &fakeHistory{}, nil).Lookup(context.Background(), "u1", "41a111")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	prov.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
}

func TestLookup_CacheHit_SkipsProvider(t *testing.T) {
	store, prov, hist := &mockBINStore{}, &mockProvider{}, &fakeHistory{}
	store.On("Get", mock.Anything, "411111").Return(visa(), nil)

	rec, err := newSvc(store, prov, hist, nil).Lookup(context.Background(), "u1", "4111 1111 1111 1111")

	require.NoError(t, err)
	assert.Equal(t, "Visa", rec.Brand)
	prov.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
	assert.Eventually(t, func() bool { return hist.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.SourceCache, hist.first().Source)
}

func TestLookup_Miss_FetchesAndStores(t *testing.T) {
	store, prov, hist := &mockBINStore{}, &mockProvider{}, &fakeHistory{}
	store.On("Get", mock.Anything, "411111").Return(nil, domain.ErrNotFound)
	prov.On("Lookup", mock.Anything, "411111").Return(visa(), nil)
	store.On("Put", mock.Anything, mock.AnythingOfType("*domain.BINRecord")).Return(nil)

	rec, err := newSvc(store, prov, hist, nil).Lookup(context.Background(), "u1", "411111")

	require.NoError(t, err)
	assert.Equal(t, "411111", rec.BIN)
	store.AssertCalled(t, "Put", mock.Anything, mock.AnythingOfType("*domain.BINRecord"))
	assert.Eventually(t, func() bool { return hist.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.SourceProvider, hist.first().Source)
}

func TestLookup_SecondCallServedFromFrontCache(t *testing.T) {
	store, prov := &mockBINStore{}, &mockProvider{}
	store.On("Get", mock.Anything, "411111").Return(nil, domain.ErrNotFound).Once()
	prov.On("Lookup", mock.Anything, "411111").Return(visa(), nil).Once()
	store.On("Put", mock.Anything, mock.Anything).Return(nil).Once()

	svc := newSvc(store, prov, &fakeHistory{}, memcache.NewBINs(time.Minute))
	first, err := svc.Lookup(context.Background(), "", "411111")
	require.NoError(t, err)
	second, err := svc.Lookup(context.Background(), "", "411111")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	store.AssertNumberOfCalls(t, "Get", 1)
	prov.AssertNumberOfCalls(t, "Lookup", 1)
}

func TestLookup_ProviderFailure_NothingCached(t *testing.T) {
	store, prov, hist := &mockBINStore{}, &mockProvider{}, &fakeHistory{}
	store.On("Get", mock.Anything, "000000").Return(nil, domain.ErrNotFound)
	prov.On("Lookup", mock.Anything, "000000").Return(nil, &domain.LookupFailure{Message: "Invalid BIN"})

	_, err := newSvc(store, prov, hist, nil).Lookup(context.Background(), "u1", "000000")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLookupFailed))
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, hist.count())
}

func TestLookup_ProviderTransportError_WrappedAsLookupFailure(t *testing.T) {
	store, prov := &mockBINStore{}, &mockProvider{}
	store.On("Get", mock.Anything, "411111").Return(nil, domain.ErrNotFound)
	prov.On("Lookup", mock.Anything, "411111").Return(nil, errors.New("dial tcp: refused"))

	_, err := newSvc(store, prov, &fakeHistory{}, nil).Lookup(context.Background(), "u1", "411111")

	var lf *domain.LookupFailure
	require.ErrorAs(t, err, &lf)
	assert.Equal(t, "BIN lookup failed", lf.Message)
}

func TestLookup_StoreReadError_Surfaces(t *testing.T) {
	store, prov := &mockBINStore{}, &mockProvider{}
	store.On("Get", mock.Anything, "411111").Return(nil, domain.ErrStore)

	_, err := newSvc(store, prov, &fakeHistory{}, nil).Lookup(context.Background(), "u1", "411111")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStore))
	prov.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
}

func TestLookup_StoreWriteError_Surfaces(t *testing.T) {
	store, prov := &mockBINStore{}, &mockProvider{}
	store.On("Get", mock.Anything, "411111").Return(nil, domain.ErrNotFound)
	prov.On("Lookup", mock.Anything, "411111").Return(visa(), nil)
	store.On("Put", mock.Anything, mock.Anything).Return(domain.ErrStore)

	_, err := newSvc(store, prov, &fakeHistory{}, nil).Lookup(context.Background(), "u1", "411111")

	assert.True(t, errors.Is(err, domain.ErrStore))
}

func TestLookup_HistoryFailure_DoesNotFailLookup(t *testing.T) {
	store, prov := &mockBINStore{}, &mockProvider{}
	store.On("Get", mock.Anything, "411111").Return(visa(), nil)

	rec, err := newSvc(store, prov, &fakeHistory{err: domain.ErrStore}, nil).Lookup(context.Background(), "u1", "411111")

	require.NoError(t, err)
	assert.NotNil(t, rec)
}

// --- History / Known / Warm ---

func TestHistory_ClampsLimit(t *testing.T) {
	hist := &fakeHistory{}
	for i := 0; i < 3; i++ {
		_ = hist.Put(context.Background(), &domain.LookupHistoryEntry{UserID: "u1", BIN: "411111"})
	}
	svc := newSvc(&mockBINStore{}, &mockProvider{}, hist, nil)

	got, err := svc.History(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = svc.History(context.Background(), "u1", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestKnown_ReturnsCopy(t *testing.T) {
	svc := NewService(ServiceDeps{Known: []domain.KnownBIN{{BIN: "411111", Label: "Visa test"}}})

	k := svc.Known()
	k[0].Label = "mutated"

	assert.Equal(t, "Visa test", svc.Known()[0].Label)
}

func TestWarm_CollectsFailures(t *testing.T) {
	store, prov, hist := &mockBINStore{}, &mockProvider{}, &fakeHistory{}
	store.On("Get", mock.Anything, "411111").Return(visa(), nil)
	store.On("Get", mock.Anything, "000000").Return(nil, domain.ErrNotFound)
	prov.On("Lookup", mock.Anything, "000000").Return(nil, &domain.LookupFailure{Message: "Invalid BIN"})

	failed := newSvc(store, prov, hist, nil).Warm(context.Background(), []string{"411111", "000000", "12"})

	assert.Len(t, failed, 2)
	assert.Contains(t, failed, "000000")
	assert.Contains(t, failed, "12")
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, hist.count(), "warming must not write user history")
}

// --- LoadKnown ---

func TestLoadKnown_SortsEntries(t *testing.T) {
	known, err := LoadKnown(strings.NewReader(`[{"bin":"555555","label":"MC"},{"bin":"411111","label":"Visa"}]`))

	require.NoError(t, err)
	assert.Equal(t, []string{"411111", "555555"}, BINs(known))
}

func TestLoadKnown_RejectsBadBIN(t *testing.T) {
	_, err := LoadKnown(strings.NewReader(`[{"bin":"4111","label":"short"}]`))

	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestLoadKnown_RejectsDuplicate(t *testing.T) {
	_, err := LoadKnown(strings.NewReader(`[{"bin":"411111"},{"bin":"411111"}]`))

	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestLoadKnown_RejectsMalformedJSON(t *testing.T) {
	_, err := LoadKnown(strings.NewReader(`{`))

	assert.Error(t, err)
}
