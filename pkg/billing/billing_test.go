package billing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/KrishKoria/HarmonAI/pkg/storage"
	"github.com/oklog/ulid/v2"
)

const (
	smallProduct = "e14f083c-52d8-4908-9f68-3d9dc0e48312"
	largeProduct = "f710882e-0b61-453b-b3c7-6f2cbfe48289"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.New("sqlite", dsn, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestUser(t *testing.T, store *storage.Store, credits int64) string {
	t.Helper()
	id := ulid.Make().String()
	if err := store.SetUser(context.Background(), &storage.User{
		ID:      id,
		Email:   id + "@example.com",
		Credits: credits,
	}); err != nil {
		t.Fatal(err)
	}
	return id
}

func balance(t *testing.T, store *storage.Store, id string) int64 {
	t.Helper()
	user, err := store.GetUser(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return user.Credits
}

func TestApplyPayment(t *testing.T) {
	tests := []struct {
		name      string
		productID string
		want      int64
	}{
		{"small pack", smallProduct, 10},
		{"medium pack", "33899a68-01f8-4fe1-a492-7f866c500e95", 25},
		{"large pack", largeProduct, 50},
		{"unknown product", "00000000-0000-0000-0000-000000000000", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)
			userID := newTestUser(t, store, 0)
			ledger := New(store, false)

			if err := ledger.ApplyPayment(ctx, ulid.Make().String(), userID, tt.productID); err != nil {
				t.Fatal(err)
			}
			if got := balance(t, store, userID); got != tt.want {
				t.Errorf("balance = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestApplyPaymentMissingCustomer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := newTestUser(t, store, 5)
	ledger := New(store, false)

	err := ledger.ApplyPayment(ctx, ulid.Make().String(), "", smallProduct)
	if !errors.Is(err, ErrMissingCustomer) {
		t.Fatalf("err = %v, want %v", err, ErrMissingCustomer)
	}
	if got := balance(t, store, userID); got != 5 {
		t.Errorf("balance = %d, want 5", got)
	}
}

func TestApplyPaymentUnknownCustomer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ledger := New(store, false)

	err := ledger.ApplyPayment(ctx, ulid.Make().String(), "nobody", smallProduct)
	if !errors.Is(err, ErrUnknownCustomer) {
		t.Fatalf("err = %v, want %v", err, ErrUnknownCustomer)
	}
}

func TestApplyPaymentReplay(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := newTestUser(t, store, 0)
	ledger := New(store, false)

	eventID := ulid.Make().String()
	for i := 0; i < 3; i++ {
		if err := ledger.ApplyPayment(ctx, eventID, userID, largeProduct); err != nil {
			t.Fatal(err)
		}
	}
	if got := balance(t, store, userID); got != 50 {
		t.Errorf("balance = %d, want 50 after replayed deliveries", got)
	}
}

func TestDebit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := newTestUser(t, store, 2)
	ledger := New(store, false)

	if err := ledger.Debit(ctx, userID, 1); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Debit(ctx, userID, 1); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Debit(ctx, userID, 1); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientCredits)
	}
	if got := balance(t, store, userID); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}
