package exchange

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bluesignal/creditengine/pkg/messaging"
)

var (
	ErrCreditNotFound     = errors.New("credit not found")
	ErrCreditNotTradable  = errors.New("credit is not available for purchase")
	ErrNotOwner           = errors.New("caller does not own this credit")
	ErrInsufficientCredit = errors.New("insufficient available credits")
)

// Store executes credit trades against Postgres. Ownership transfer
// and the seller's counter decrement commit in one transaction.
type Store struct {
	db       *sql.DB
	registry *Registry
	nats     *messaging.Client
}

// CreditState is the tradable subset of a credit record.
type CreditState struct {
	ID           uuid.UUID
	BasinCode    string
	Status       string
	Amount       decimal.Decimal
	Unit         string
	CurrentOwner string
	EnrollmentID string
}

// Settlement is the committed outcome of a trade.
type Settlement struct {
	TransferID uuid.UUID `json:"transfer_id"`
	CreditID   uuid.UUID `json:"credit_id"`
	Seller     string    `json:"seller"`
	Buyer      string    `json:"buyer"`
	Quote      Quote     `json:"quote"`
	SettledAt  time.Time `json:"settled_at"`
}

// NewStore creates a settlement store.
func NewStore(db *sql.DB, registry *Registry, nats *messaging.Client) *Store {
	return &Store{db: db, registry: registry, nats: nats}
}

// Registry exposes the basin tables backing this store.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Settle transfers a listed credit to a buyer in destBasin and settles
// the quantity through the basin exchange arithmetic. The credit row is
// locked for the duration so no intermediate ownership is visible.
// Only an active listing is purchasable; the sale closes the listing
// and returns the credit to verified under the new owner, who must
// relist before it can trade again.
func (s *Store) Settle(ctx context.Context, creditID uuid.UUID, buyerID, destBasin, sourceType string) (*Settlement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	credit, err := lockCredit(ctx, tx, creditID)
	if err != nil {
		return nil, err
	}

	if credit.Status != "listed" {
		return nil, fmt.Errorf("%w: status %q", ErrCreditNotTradable, credit.Status)
	}
	if credit.CurrentOwner == buyerID {
		return nil, fmt.Errorf("%w: buyer already owns credit", ErrCreditNotTradable)
	}

	quote, err := s.registry.Settle(credit.BasinCode, destBasin, sourceType, credit.Amount)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE credits SET current_owner = $1, listed = false, status = 'verified', updated_at = $2 WHERE id = $3`,
		buyerID, now, credit.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to transfer ownership: %w", err)
	}

	// Release the seller's unsettled balance. Generated stays put, so
	// credits_available <= credits_generated continues to hold.
	if credit.EnrollmentID != "" {
		result, err := tx.ExecContext(ctx,
			`UPDATE enrollments SET credits_available = credits_available - $1
			 WHERE id = $2 AND credits_available >= $1`,
			credit.Amount, credit.EnrollmentID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update enrollment balance: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return nil, ErrInsufficientCredit
		}
	}

	settlement := &Settlement{
		TransferID: uuid.New(),
		CreditID:   credit.ID,
		Seller:     credit.CurrentOwner,
		Buyer:      buyerID,
		Quote:      quote,
		SettledAt:  now,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transfers (id, credit_id, seller, buyer, source_basin, dest_basin, raw_quantity, settled_quantity, settled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		settlement.TransferID, settlement.CreditID, settlement.Seller, settlement.Buyer,
		quote.SourceBasin, quote.DestBasin, quote.RawQuantity, quote.SettledQuantity, settlement.SettledAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record transfer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.publishTransfer(ctx, settlement)
	return settlement, nil
}

// List marks a verified credit as listed for sale by its owner.
func (s *Store) List(ctx context.Context, creditID uuid.UUID, ownerID string) error {
	return s.setListing(ctx, creditID, ownerID, true)
}

// Unlist removes a credit from sale.
func (s *Store) Unlist(ctx context.Context, creditID uuid.UUID, ownerID string) error {
	return s.setListing(ctx, creditID, ownerID, false)
}

func (s *Store) setListing(ctx context.Context, creditID uuid.UUID, ownerID string, listed bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	credit, err := lockCredit(ctx, tx, creditID)
	if err != nil {
		return err
	}
	if credit.CurrentOwner != ownerID {
		return ErrNotOwner
	}
	if listed && credit.Status != "verified" && credit.Status != "listed" {
		return fmt.Errorf("%w: only verified credits can be listed", ErrCreditNotTradable)
	}

	status := "verified"
	if listed {
		status = "listed"
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE credits SET listed = $1, status = $2, updated_at = $3 WHERE id = $4`,
		listed, status, time.Now(), creditID,
	)
	if err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	event := messaging.CreditListedEvent{CreditID: creditID, OwnerID: ownerID, Listed: listed}
	if err := s.nats.PublishEvent(ctx, messaging.EventTypeCreditListed, event, messaging.EventMetadata{Source: "exchange", UserID: ownerID}); err != nil {
		log.Printf("exchange: failed to publish listing event for credit %s: %v", creditID, err)
	}
	return nil
}

// Verify moves a pending credit to verified. Called when the external
// verification step completes.
func (s *Store) Verify(ctx context.Context, creditID uuid.UUID, certificateHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE credits SET status = 'verified', verified_at = $1, certificate_hash = $2, updated_at = $1
		 WHERE id = $3 AND status = 'pending'`,
		time.Now(), certificateHash, creditID,
	)
	if err != nil {
		return fmt.Errorf("failed to verify credit: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: credit is not pending verification", ErrCreditNotTradable)
	}
	return nil
}

func lockCredit(ctx context.Context, tx *sql.Tx, creditID uuid.UUID) (*CreditState, error) {
	var credit CreditState
	err := tx.QueryRowContext(ctx,
		`SELECT id, basin_code, status, amount, unit, current_owner, COALESCE(enrollment_id, '')
		 FROM credits WHERE id = $1 FOR UPDATE`,
		creditID,
	).Scan(&credit.ID, &credit.BasinCode, &credit.Status, &credit.Amount,
		&credit.Unit, &credit.CurrentOwner, &credit.EnrollmentID)

	if err == sql.ErrNoRows {
		return nil, ErrCreditNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock credit: %w", err)
	}
	return &credit, nil
}

func (s *Store) publishTransfer(ctx context.Context, settlement *Settlement) {
	event := messaging.CreditTransferredEvent{
		CreditID:        settlement.CreditID,
		FromOwner:       settlement.Seller,
		ToOwner:         settlement.Buyer,
		SourceBasin:     settlement.Quote.SourceBasin,
		DestBasin:       settlement.Quote.DestBasin,
		RawQuantity:     settlement.Quote.RawQuantity.String(),
		SettledQuantity: settlement.Quote.SettledQuantity.String(),
	}

	if err := s.nats.PublishEvent(ctx, messaging.EventTypeCreditTransferred, event, messaging.EventMetadata{Source: "exchange"}); err != nil {
		log.Printf("exchange: failed to publish transfer event for credit %s: %v", settlement.CreditID, err)
	}
}
