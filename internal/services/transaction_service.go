package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
)

// TransactionInput is the raw form of a new transaction.
type TransactionInput struct {
	OwnerRef    string `validate:"required,max=255"`
	Amount      string `validate:"required"`
	Description string `validate:"required,max=200"`
	Date        string `validate:"required"`
	// Category is a category id or a name. Unknown names are created for the owner.
	Category string `validate:"max=100"`
	Interval string `validate:"omitempty,oneof=none daily weekly monthly yearly"`
}

// TransactionUpdate holds the fields to change; nil fields are kept.
type TransactionUpdate struct {
	Amount      *string
	Description *string
	Date        *string
	Category    *string
	Interval    *string
}

// TransactionService validates transaction writes and keeps the recurrence
// cursor consistent with the date and interval.
type TransactionService struct {
	store    TransactionStore
	resolver *CategoryResolver
	validate *validator.Validate
	logger   *log.Logger
}

func NewTransactionService(store TransactionStore, resolver *CategoryResolver, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &TransactionService{
		store:    store,
		resolver: resolver,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.WithComponent(log.ComponentStorage),
	}
}

func (s *TransactionService) Create(ctx context.Context, in TransactionInput) (core.Transaction, error) {
	if err := s.validate.Struct(in); err != nil {
		return core.Transaction{}, core.Wrap(core.ErrValidation, err)
	}

	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	date, err := core.ParseDate(in.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	interval, err := core.ParseRecurrenceInterval(in.Interval)
	if err != nil {
		return core.Transaction{}, err
	}

	tx := core.Transaction{
		OwnerRef:           in.OwnerRef,
		Amount:             amount,
		Description:        strings.TrimSpace(in.Description),
		OccurrenceDate:     date,
		RecurrenceInterval: interval,
		NextRecurrenceDate: cursorFor(date, interval),
	}
	if in.Category != "" {
		id, err := s.categoryID(ctx, in.OwnerRef, in.Category)
		if err != nil {
			return core.Transaction{}, err
		}
		tx.CategoryID = &id
	}

	created, err := s.store.CreateTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, err
	}

	s.logger.InfoContext(ctx, "Created transaction",
		log.NewFields().WithTransaction(created.ID, created.OwnerRef, string(created.RecurrenceInterval)).WithOperation(log.OpCreate).ToSlice()...)
	return created, nil
}

// Get returns the owner's transaction. Another owner's id is reported as not found.
func (s *TransactionService) Get(ctx context.Context, ownerRef, id string) (core.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if tx.OwnerRef != ownerRef {
		return core.Transaction{}, core.WithMessage(core.ErrNotFound, fmt.Sprintf("transaction %s not found", id))
	}
	return tx, nil
}

// Update applies u. Changing the date or interval recomputes the cursor from
// the occurrence date; switching to none clears it.
func (s *TransactionService) Update(ctx context.Context, ownerRef, id string, u TransactionUpdate) (core.Transaction, error) {
	tx, err := s.Get(ctx, ownerRef, id)
	if err != nil {
		return core.Transaction{}, err
	}

	if u.Amount != nil {
		amount, err := core.ParseAmount(*u.Amount)
		if err != nil {
			return core.Transaction{}, err
		}
		tx.Amount = amount
	}
	if u.Description != nil {
		tx.Description = strings.TrimSpace(*u.Description)
	}
	if u.Category != nil {
		if *u.Category == "" {
			tx.CategoryID = nil
		} else {
			cid, err := s.categoryID(ctx, ownerRef, *u.Category)
			if err != nil {
				return core.Transaction{}, err
			}
			tx.CategoryID = &cid
		}
	}

	reschedule := false
	if u.Date != nil {
		date, err := core.ParseDate(*u.Date)
		if err != nil {
			return core.Transaction{}, err
		}
		tx.OccurrenceDate = date
		reschedule = true
	}
	if u.Interval != nil {
		interval, err := core.ParseRecurrenceInterval(*u.Interval)
		if err != nil {
			return core.Transaction{}, err
		}
		tx.RecurrenceInterval = interval
		reschedule = true
	}
	if reschedule {
		tx.NextRecurrenceDate = cursorFor(tx.OccurrenceDate, tx.RecurrenceInterval)
	}

	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return core.Transaction{}, err
	}

	s.logger.InfoContext(ctx, "Updated transaction",
		log.NewFields().WithTransaction(tx.ID, tx.OwnerRef, string(tx.RecurrenceInterval)).WithOperation(log.OpUpdate).ToSlice()...)
	return tx, nil
}

func (s *TransactionService) Delete(ctx context.Context, ownerRef, id string) error {
	if _, err := s.Get(ctx, ownerRef, id); err != nil {
		return err
	}
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Deleted transaction", log.FieldTransactionID, id, log.FieldOwnerRef, ownerRef)
	return nil
}

// categoryID resolves ref as an id owned by ownerRef, or else as a name,
// creating the category when the name is new.
func (s *TransactionService) categoryID(ctx context.Context, ownerRef, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if _, err := uuid.Parse(ref); err == nil {
		c, err := s.store.FindCategory(ctx, ref)
		if err != nil {
			return "", err
		}
		if c.OwnerRef != ownerRef {
			return "", core.WithMessage(core.ErrNotFound, fmt.Sprintf("category %s not found", ref))
		}
		return c.ID, nil
	}

	c, err := s.store.FindCategoryByName(ctx, ownerRef, ref)
	if err == nil {
		return c.ID, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return "", err
	}

	c, err = s.store.CreateCategory(ctx, core.Category{Name: ref, OwnerRef: ownerRef})
	if err != nil {
		return "", fmt.Errorf("create category %q: %w", ref, err)
	}
	if s.resolver != nil {
		s.resolver.Forget(c.ID)
	}
	s.logger.InfoContext(ctx, "Created category", "category_id", c.ID, "name", c.Name, log.FieldOwnerRef, ownerRef)
	return c.ID, nil
}

func cursorFor(date core.Date, interval core.RecurrenceInterval) *core.Date {
	next, ok := core.NextOccurrence(date, interval)
	if !ok {
		return nil
	}
	return &next
}
