package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/infrastructure/events"
	"github.com/bincheck-api/internal/infrastructure/memcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSweeper struct {
	n   int
	err error
}

func (s stubSweeper) SweepExpired(context.Context) (int, error) { return s.n, s.err }

func TestAdminSweep(t *testing.T) {
	rr := httptest.NewRecorder()
	NewAdminHandler(stubSweeper{n: 3}, nil, nil).Sweep(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/sweep", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deleted":3}`, rr.Body.String())
}

func TestAdminSweep_PartialFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	NewAdminHandler(stubSweeper{n: 1, err: fmt.Errorf("%w: scan", domain.ErrStore)}, nil, nil).
		Sweep(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/sweep", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var env SweepEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	assert.Equal(t, 1, env.Deleted)
}

func TestAdminEvictAndStats(t *testing.T) {
	front := memcache.NewBINs(time.Minute)
	front.Set(&domain.BINRecord{BIN: "411111"})
	broker := events.NewBroker()
	defer broker.Close()
	_, release := broker.Subscribe(nil)
	defer release()
	h := NewAdminHandler(stubSweeper{}, front, broker)

	rr := httptest.NewRecorder()
	h.Stats(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil))
	assert.JSONEq(t, `{"front_cache_entries":1,"watchers":1}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.Evict(rr, withURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), "bin", "4111-1111"))
	assert.Equal(t, http.StatusOK, rr.Code)
	_, ok := front.Get("411111")
	assert.False(t, ok)
}

func TestAdminEvict_InvalidBIN(t *testing.T) {
	rr := httptest.NewRecorder()
	NewAdminHandler(stubSweeper{}, nil, nil).Evict(rr, withURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), "bin", "41"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
