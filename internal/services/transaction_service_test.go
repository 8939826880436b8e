package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"expensetracker/internal/core"
)

func TestTransactionService_Create(t *testing.T) {
	tests := []struct {
		name       string
		in         TransactionInput
		wantErr    error
		wantCursor string
	}{
		{
			name:       "monthly sets cursor",
			in:         TransactionInput{OwnerRef: "u", Amount: "-100", Description: "Rent", Date: "2024-01-31", Interval: "monthly"},
			wantCursor: "2024-02-29",
		},
		{
			name: "one-off has no cursor",
			in:   TransactionInput{OwnerRef: "u", Amount: "12,50", Description: "Pizza", Date: "2024-01-31"},
		},
		{
			name:    "bad interval",
			in:      TransactionInput{OwnerRef: "u", Amount: "1", Description: "x", Date: "2024-01-01", Interval: "hourly"},
			wantErr: core.ErrValidation,
		},
		{
			name:    "zero amount",
			in:      TransactionInput{OwnerRef: "u", Amount: "0", Description: "x", Date: "2024-01-01"},
			wantErr: core.ErrValidation,
		},
		{
			name:    "missing owner",
			in:      TransactionInput{Amount: "1", Description: "x", Date: "2024-01-01"},
			wantErr: core.ErrValidation,
		},
		{
			name:    "bad date",
			in:      TransactionInput{OwnerRef: "u", Amount: "1", Description: "x", Date: "31/01/2024"},
			wantErr: core.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewTransactionService(newMemStore(), nil, testLogger())
			got, err := svc.Create(context.Background(), tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if got.ID == "" {
				t.Error("Create() returned empty id")
			}
			switch {
			case tt.wantCursor == "" && got.NextRecurrenceDate != nil:
				t.Errorf("NextRecurrenceDate = %s, want nil", got.NextRecurrenceDate)
			case tt.wantCursor != "" && (got.NextRecurrenceDate == nil || got.NextRecurrenceDate.String() != tt.wantCursor):
				t.Errorf("NextRecurrenceDate = %v, want %s", got.NextRecurrenceDate, tt.wantCursor)
			}
		})
	}
}

func TestTransactionService_CategoryByName(t *testing.T) {
	store := newMemStore()
	svc := NewTransactionService(store, NewCategoryResolver(store, nil), testLogger())
	ctx := context.Background()

	first, err := svc.Create(ctx, TransactionInput{OwnerRef: "u", Amount: "-5", Description: "Bus", Date: "2024-02-01", Category: "Transport"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := svc.Create(ctx, TransactionInput{OwnerRef: "u", Amount: "-6", Description: "Tram", Date: "2024-02-02", Category: "transport"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if first.CategoryID == nil || second.CategoryID == nil || *first.CategoryID != *second.CategoryID {
		t.Errorf("category ids = %v, %v; want the same created category", first.CategoryID, second.CategoryID)
	}
	if len(store.categories) != 1 {
		t.Errorf("categories = %d, want 1", len(store.categories))
	}
}

func TestTransactionService_Update(t *testing.T) {
	store := newMemStore()
	svc := NewTransactionService(store, nil, testLogger())
	ctx := context.Background()

	tx, err := svc.Create(ctx, TransactionInput{OwnerRef: "u", Amount: "-50", Description: "Gym", Date: "2024-03-10", Interval: "monthly"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("amount only keeps cursor", func(t *testing.T) {
		got, err := svc.Update(ctx, "u", tx.ID, TransactionUpdate{Amount: strPtr("-55")})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if !got.Amount.Equal(decimal.NewFromInt(-55)) {
			t.Errorf("Amount = %s, want -55", got.Amount)
		}
		if got.NextRecurrenceDate.String() != "2024-04-10" {
			t.Errorf("NextRecurrenceDate = %s, want 2024-04-10", got.NextRecurrenceDate)
		}
	})

	t.Run("interval change recomputes cursor", func(t *testing.T) {
		got, err := svc.Update(ctx, "u", tx.ID, TransactionUpdate{Interval: strPtr("weekly")})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if got.NextRecurrenceDate.String() != "2024-03-17" {
			t.Errorf("NextRecurrenceDate = %s, want 2024-03-17", got.NextRecurrenceDate)
		}
	})

	t.Run("switching to none clears cursor", func(t *testing.T) {
		got, err := svc.Update(ctx, "u", tx.ID, TransactionUpdate{Interval: strPtr("none")})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if got.NextRecurrenceDate != nil {
			t.Errorf("NextRecurrenceDate = %s, want nil", got.NextRecurrenceDate)
		}
	})

	t.Run("other owner is not found", func(t *testing.T) {
		if _, err := svc.Update(ctx, "intruder", tx.ID, TransactionUpdate{Amount: strPtr("1")}); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Update() error = %v, want not found", err)
		}
	})
}

func TestTransactionService_Delete(t *testing.T) {
	store := newMemStore()
	svc := NewTransactionService(store, nil, testLogger())
	ctx := context.Background()

	tx, err := svc.Create(ctx, TransactionInput{OwnerRef: "u", Amount: "-1", Description: "Gum", Date: "2024-03-10"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := svc.Delete(ctx, "other", tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Delete() by other owner error = %v, want not found", err)
	}
	if err := svc.Delete(ctx, "u", tx.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.Get(ctx, "u", tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want not found", err)
	}
}
