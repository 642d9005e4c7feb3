package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/eventbooker/ticketing/internal/entity"
)

type EventRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.Event, error)
	GetPackage(ctx context.Context, id int64) (*entity.TicketPackage, error)
	PackagesByEvent(ctx context.Context, eventID int64) ([]*entity.TicketPackage, error)
}

type CustomerRepository interface {
	// Upsert inserts the customer or refreshes name and phone when the
	// email is already known, filling in the ID either way.
	Upsert(ctx context.Context, customer *entity.Customer) error
	GetByID(ctx context.Context, id int64) (*entity.Customer, error)
}

type PromotionRepository interface {
	GetByCode(ctx context.Context, eventID int64, code string) (*entity.Promotion, error)
	// RedeemedCount counts live sales carrying the promotion. Reclaimed and
	// failed orders do not count.
	RedeemedCount(ctx context.Context, promotionID int64) (int, error)
}

type AccessRepository interface {
	// RoleFor returns the staff role granted on the event, or
	// entity.ErrForbidden when the user holds none.
	RoleFor(ctx context.Context, eventID, userID int64) (entity.EventRole, error)
}

type SaleRepository interface {
	// Create opens a pending sale in a single transaction: locks the
	// touched packages in ascending ID order, enforces availability, seat
	// uniqueness, per-buyer caps and the promotion redemption limit, then
	// decrements inventory and persists the sale with its lines.
	Create(ctx context.Context, sale *entity.TicketSale) error

	GetByOrderID(ctx context.Context, orderID string) (*entity.TicketSale, error)

	// Confirm settles a payment callback. On success the sale moves to
	// complete and sub tickets are issued, on failure it moves to failed
	// and the held inventory is released. A sale that already left the
	// pending state is returned unchanged with settled=false.
	Confirm(ctx context.Context, orderID, paymentRef string, succeeded bool) (sale *entity.TicketSale, settled bool, err error)

	// Correct applies a manual status transition such as a buyer
	// cancellation or an administrative fix, adjusting inventory and sub
	// tickets to match the target status.
	Correct(ctx context.Context, orderID string, to entity.SaleStatus, actorID int64, admin bool) (*entity.TicketSale, error)

	// Verify checks in the given sub tickets, or all outstanding ones when
	// subOrderIDs is empty. A fully verified sale is an idempotent no-op
	// reported through the result.
	Verify(ctx context.Context, orderID string, subOrderIDs []string, verifierID int64, at time.Time) (*entity.VerificationResult, error)

	// StalePending lists order IDs of pending sales created before the
	// cutoff, oldest first.
	StalePending(ctx context.Context, before time.Time, limit int) ([]string, error)

	// Reclaim releases the inventory of a pending sale still stale at the
	// time of the call and cancels it. Returns false when the sale settled
	// in the meantime.
	Reclaim(ctx context.Context, orderID string, before time.Time) (bool, error)

	SetETicketURL(ctx context.Context, orderID, url string) error
	History(ctx context.Context, saleID int64) ([]*entity.HistoryEntry, error)
}

// SubOrderIDFunc builds the sub ticket ID at position seq under a parent
// order, ticket positions start at one.
type SubOrderIDFunc func(parentOrderID string, seq int) string

// Repositories bundles all postgres-backed repositories over one pool.
type Repositories struct {
	Event     EventRepository
	Customer  CustomerRepository
	Promotion PromotionRepository
	Access    AccessRepository
	Sale      SaleRepository
}

func NewRepositories(db *sql.DB, subOrderID SubOrderIDFunc) *Repositories {
	return &Repositories{
		Event:     NewEventRepository(db),
		Customer:  NewCustomerRepository(db),
		Promotion: NewPromotionRepository(db),
		Access:    NewAccessRepository(db),
		Sale:      NewSaleRepository(db, subOrderID),
	}
}
