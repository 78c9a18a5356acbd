package http

import (
	"github.com/bincheck-api/internal/application/request"
	"github.com/bincheck-api/internal/application/sweep"
	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/infrastructure/binprovider"
	"github.com/bincheck-api/internal/infrastructure/dynamo"
	"github.com/bincheck-api/internal/infrastructure/events"
	jwtinfra "github.com/bincheck-api/internal/infrastructure/jwt"
	"github.com/bincheck-api/internal/infrastructure/memcache"
	"github.com/bincheck-api/internal/metrics"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	UserRepo     *dynamo.UserRepo
	BindingRepo  *dynamo.BindingRepo
	AccountRepo  *dynamo.AccountRepo
	BINCacheRepo *dynamo.BINCacheRepo
	HistoryRepo  *dynamo.HistoryRepo
	RequestRepo  *dynamo.RequestRepo
	BINProvider  *binprovider.Client
	FrontCache   *memcache.BINs    // optional
	Deliverer    request.Deliverer // nil makes every submission fail delivery
	Events       *events.Broker
	Sweeper      sweep.Service
	KnownBINs    []domain.KnownBIN
	JWTProvider  *jwtinfra.Provider
	Metrics      *metrics.Metrics // optional
}
