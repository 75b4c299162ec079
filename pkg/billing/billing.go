package billing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/KrishKoria/HarmonAI/pkg/storage"
)

var (
	// ErrMissingCustomer means the payment event carried no external
	// customer id. That is a corrupt upstream event, not a retryable
	// condition.
	ErrMissingCustomer = errors.New("billing: payment event missing external customer id")
	// ErrUnknownCustomer means the external customer id resolved to no user.
	ErrUnknownCustomer = errors.New("billing: external customer id resolves to no user")

	ErrInsufficientCredits = errors.New("billing: insufficient credits")
)

// Credit packs by payment provider product id. Unrecognized products grant
// zero credits without failing, so unknown SKUs don't wedge the webhook.
var productCredits = map[string]int64{
	"e14f083c-52d8-4908-9f68-3d9dc0e48312": 10, // small
	"33899a68-01f8-4fe1-a492-7f866c500e95": 25, // medium
	"f710882e-0b61-453b-b3c7-6f2cbfe48289": 50, // large
}

// Ledger applies confirmed payment events to user credit balances.
type Ledger struct {
	store *storage.Store
	debug bool
}

func New(store *storage.Store, debug bool) *Ledger {
	return &Ledger{store: store, debug: debug}
}

// ApplyPayment credits the user identified by the external customer id with
// the amount for the product. Replayed event ids are skipped without any
// balance mutation, so at-least-once webhook delivery is safe.
func (l *Ledger) ApplyPayment(ctx context.Context, eventID, externalCustomerID, productID string) error {
	if externalCustomerID == "" {
		return ErrMissingCustomer
	}
	amount := productCredits[productID]
	applied, err := l.store.ApplyPaymentEvent(ctx, eventID, externalCustomerID, amount)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownCustomer, externalCustomerID)
	}
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("billing: skipping replayed payment event %s\n", eventID)
		return nil
	}
	if l.debug {
		log.Printf("billing: credited %d to user %s for product %s\n", amount, externalCustomerID, productID)
	}
	return nil
}

// Debit charges credits from a user, typically one per render.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64) error {
	err := l.store.DebitCredits(ctx, userID, amount)
	if errors.Is(err, storage.ErrInsufficientCredits) {
		return ErrInsufficientCredits
	}
	return err
}

// Balance returns the user's current credit balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}
