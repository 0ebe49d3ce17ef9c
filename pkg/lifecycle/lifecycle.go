// Package lifecycle runs the transaction state machine that moves items
// between holders.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/chris/community-lending/pkg/items"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/notify"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/google/uuid"
)

// ItemReader resolves the item a transaction refers to.
type ItemReader interface {
	GetItem(ctx context.Context, itemID string) (*models.Item, error)
}

// UserReader resolves the parties of a transaction.
type UserReader interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// Store is the transaction storage the machine writes through.
type Store interface {
	storage.TransactionStore
	storage.CompletionStore
}

// Service validates and applies transaction transitions.
type Service struct {
	store    Store
	items    ItemReader
	users    UserReader
	notifier notify.Notifier
	maxOpen  int
	now      func() time.Time
	newID    func() string
}

// New creates a Service. maxOpen <= 0 selects storage.DefaultMaxOpenTransactions.
func New(store Store, items ItemReader, users UserReader, notifier notify.Notifier, maxOpen int) *Service {
	if maxOpen <= 0 {
		maxOpen = storage.DefaultMaxOpenTransactions
	}
	return &Service{
		store:    store,
		items:    items,
		users:    users,
		notifier: notifier,
		maxOpen:  maxOpen,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Create opens a PENDING request by requestorID for itemID.
func (s *Service) Create(ctx context.Context, requestorID, itemID string) (*models.Transaction, error) {
	requestor, err := s.users.GetUser(ctx, requestorID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve requestor: %w", err)
	}
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.IsHeldBy(requestorID) {
		return nil, fmt.Errorf("user %s already holds item %s: %w", requestorID, itemID, storage.ErrInvalidInput)
	}

	now := s.now().UTC()
	tx := &models.Transaction{
		Id:          s.newID(),
		ItemId:      itemID,
		RequestorId: requestorID,
		Status:      models.PENDING,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTransaction(ctx, tx, s.maxOpen); err != nil {
		return nil, err
	}
	slog.Info("transaction created", "transaction_id", tx.Id, "item_id", itemID, "requestor_id", requestorID)

	s.notify(ctx, tx, notify.Message{
		To:      s.emails(ctx, item.CurrentHolder()),
		CC:      []string{requestor.Email},
		Subject: "New Transaction Request",
		Body:    fmt.Sprintf("You have a new transaction request for item %s from %s.", item.Title, displayName(requestor)),
	})
	return tx, nil
}

// Approve lets the owner accept a PENDING request.
func (s *Service) Approve(ctx context.Context, actorID, txID string) (*models.Transaction, error) {
	tx, item, err := s.load(ctx, txID, models.APPROVED)
	if err != nil {
		return nil, err
	}
	if actorID != item.OwnerId {
		return nil, unauthorized(actorID, "approve", tx)
	}
	return s.advance(ctx, tx, item, models.APPROVED,
		"Transaction Approved for Item: %s",
		"Your transaction request for item %s has been approved. Please proceed with the next steps.")
}

// Cancel lets the owner or the requestor abandon an open transaction.
func (s *Service) Cancel(ctx context.Context, actorID, txID string) (*models.Transaction, error) {
	tx, item, err := s.load(ctx, txID, models.CANCELLED)
	if err != nil {
		return nil, err
	}
	if actorID != item.OwnerId && actorID != tx.RequestorId {
		return nil, unauthorized(actorID, "cancel", tx)
	}
	return s.advance(ctx, tx, item, models.CANCELLED,
		"Transaction Cancelled for Item: %s",
		"Your transaction request for item %s has been cancelled.")
}

// Transfer records that the current holder handed the item over. Holdership
// only moves on Receive.
func (s *Service) Transfer(ctx context.Context, actorID, txID string) (*models.Transaction, error) {
	tx, item, err := s.load(ctx, txID, models.TRANSFERRED)
	if err != nil {
		return nil, err
	}
	if !item.IsHeldBy(actorID) {
		return nil, unauthorized(actorID, "transfer", tx)
	}
	return s.advance(ctx, tx, item, models.TRANSFERRED,
		"Transaction Transferred for Item: %s",
		"Your transaction request for item %s has been transferred.")
}

// Receive completes a transaction: the requestor becomes the holder (or the
// holder is cleared when the owner takes the item back) and the item moves to
// the requestor's location.
func (s *Service) Receive(ctx context.Context, actorID, txID string) (*models.Transaction, error) {
	tx, item, err := s.load(ctx, txID, models.COMPLETED)
	if err != nil {
		return nil, err
	}
	if actorID != tx.RequestorId {
		return nil, unauthorized(actorID, "receive", tx)
	}
	requestor, err := s.users.GetUser(ctx, tx.RequestorId)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve requestor: %w", err)
	}

	tx.UpdatedAt = s.now().UTC()
	if err := s.store.CompleteTransaction(ctx, tx, items.Handover(item, requestor)); err != nil {
		return nil, err
	}
	slog.Info("transaction completed", "transaction_id", tx.Id, "item_id", item.Id, "holder_id", requestor.Id)

	s.notify(ctx, tx, s.partyMessage(ctx, tx, item,
		fmt.Sprintf("Transaction Received for Item: %s", item.Title),
		fmt.Sprintf("Your transaction request for item %s has been received.", item.Title)))
	return tx, nil
}

// Get returns a single transaction.
func (s *Service) Get(ctx context.Context, txID string) (*models.Transaction, error) {
	return s.store.GetTransaction(ctx, txID)
}

// ListByItem returns every transaction requesting an item, oldest first.
func (s *Service) ListByItem(ctx context.Context, itemID string) ([]models.Transaction, error) {
	return s.store.ListTransactionsByItem(ctx, itemID)
}

// OpenByItem returns the non-terminal transactions of an item, most recently
// updated first.
func (s *Service) OpenByItem(ctx context.Context, itemID string) ([]models.Transaction, error) {
	txs, err := s.store.ListTransactionsByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	open := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.Status.IsTerminal() {
			open = append(open, tx)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].UpdatedAt.After(open[j].UpdatedAt) })
	return open, nil
}

// ListByRequestor returns every transaction a user opened, oldest first.
func (s *Service) ListByRequestor(ctx context.Context, requestorID string) ([]models.Transaction, error) {
	return s.store.ListTransactionsByRequestor(ctx, requestorID)
}

// load fetches a transaction and its item and checks that next is reachable
// from the stored status.
func (s *Service) load(ctx context.Context, txID string, next models.TransactionStatus) (*models.Transaction, *models.Item, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, nil, err
	}
	if !tx.Status.CanTransitionTo(next) {
		return nil, nil, fmt.Errorf("transaction %s cannot move from %s to %s: %w", txID, tx.Status, next, storage.ErrInvalidStateTransition)
	}
	item, err := s.items.GetItem(ctx, tx.ItemId)
	if err != nil {
		return nil, nil, err
	}
	return tx, item, nil
}

func (s *Service) advance(ctx context.Context, tx *models.Transaction, item *models.Item, to models.TransactionStatus, subject, body string) (*models.Transaction, error) {
	from := tx.Status
	tx.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTransactionStatus(ctx, tx, from, to); err != nil {
		return nil, err
	}
	slog.Info("transaction advanced", "transaction_id", tx.Id, "from", from, "to", to)

	s.notify(ctx, tx, s.partyMessage(ctx, tx, item, fmt.Sprintf(subject, item.Title), fmt.Sprintf(body, item.Title)))
	return tx, nil
}

// partyMessage addresses the requestor, copying the owner and any other holder.
func (s *Service) partyMessage(ctx context.Context, tx *models.Transaction, item *models.Item, subject, body string) notify.Message {
	cc := []string{item.OwnerId}
	if holder := item.CurrentHolder(); holder != item.OwnerId {
		cc = append(cc, holder)
	}
	return notify.Message{
		To:      s.emails(ctx, tx.RequestorId),
		CC:      s.emails(ctx, cc...),
		Subject: subject,
		Body:    body,
	}
}

// notify dispatches msg without letting a delivery failure reach the caller.
func (s *Service) notify(ctx context.Context, tx *models.Transaction, msg notify.Message) {
	msg.TransactionId = tx.Id
	msg.CC = withoutBlank(msg.CC)
	if len(msg.To) == 0 {
		msg.To, msg.CC = msg.CC, nil
	}
	if len(msg.To) == 0 {
		slog.Warn("notification has no recipients", "transaction_id", tx.Id, "subject", msg.Subject)
		return
	}
	if err := s.notifier.Send(context.WithoutCancel(ctx), msg); err != nil {
		slog.Error("failed to send notification", "transaction_id", tx.Id, "subject", msg.Subject, "error", err)
	}
}

// emails resolves user ids to addresses, skipping unknown users.
func (s *Service) emails(ctx context.Context, userIDs ...string) []string {
	var out []string
	for _, id := range userIDs {
		user, err := s.users.GetUser(ctx, id)
		if err != nil {
			slog.Warn("notification recipient not resolved", "user_id", id, "error", err)
			continue
		}
		if user.Email != "" {
			out = append(out, user.Email)
		}
	}
	return out
}

func withoutBlank(addrs []string) []string {
	out := addrs[:0:0]
	for _, a := range addrs {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func unauthorized(actorID, action string, tx *models.Transaction) error {
	return fmt.Errorf("user %s may not %s transaction %s: %w", actorID, action, tx.Id, storage.ErrUnauthorized)
}

func displayName(u *models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Id
}
