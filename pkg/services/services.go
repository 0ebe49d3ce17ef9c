// Package services wires the domain services onto one storage backend.
package services

import (
	"time"

	"github.com/chris/community-lending/pkg/exchangepoints"
	"github.com/chris/community-lending/pkg/items"
	"github.com/chris/community-lending/pkg/ledger"
	"github.com/chris/community-lending/pkg/lifecycle"
	"github.com/chris/community-lending/pkg/notify"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/chris/community-lending/pkg/users"
)

// Options tunes the services.
type Options struct {
	MaxOpenTransactions int
	LedgerLease         time.Duration
}

// Services is the fully wired service graph.
type Services struct {
	Ledger         *ledger.Ledger
	ExchangePoints *exchangepoints.Service
	Users          *users.Service
	Items          *items.Service
	Transactions   *lifecycle.Service
}

// New wires every service onto store. The ledger and the exchange point cache
// read users straight from the store because the ledger state they check
// changes underneath the user cache.
func New(store storage.Storage, notifier notify.Notifier, opts Options) *Services {
	l := ledger.New(store, store, store, store, opts.LedgerLease)
	ex := exchangepoints.New(store, store, store, l)
	userSvc := users.New(store, ex, l)
	itemSvc := items.New(store, userSvc, l, ex)
	userSvc.SetPropagator(itemSvc)

	return &Services{
		Ledger:         l,
		ExchangePoints: ex,
		Users:          userSvc,
		Items:          itemSvc,
		Transactions:   lifecycle.New(store, store, userSvc, notifier, opts.MaxOpenTransactions),
	}
}
