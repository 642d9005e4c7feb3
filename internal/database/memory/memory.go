// Package memory provides an in-process implementation of the repository
// interfaces. It mirrors the postgres semantics, including inventory checks
// and status transitions, so service logic can be tested without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	repository "github.com/eventbooker/ticketing/internal/database/postgres"
	"github.com/eventbooker/ticketing/internal/entity"
)

var (
	_ repository.EventRepository     = (*Store)(nil)
	_ repository.CustomerRepository  = customerView{}
	_ repository.PromotionRepository = (*Store)(nil)
	_ repository.AccessRepository    = (*Store)(nil)
	_ repository.SaleRepository      = (*Store)(nil)
)

// customerView exposes the store as a CustomerRepository, whose GetByID
// signature collides with the event one on Store itself.
type customerView struct {
	store *Store
}

func (v customerView) Upsert(ctx context.Context, customer *entity.Customer) error {
	return v.store.Upsert(ctx, customer)
}

func (v customerView) GetByID(ctx context.Context, id int64) (*entity.Customer, error) {
	return v.store.GetCustomer(ctx, id)
}

type staffKey struct {
	eventID int64
	userID  int64
}

type Store struct {
	mutex sync.Mutex

	events     map[int64]*entity.Event
	packages   map[int64]*entity.TicketPackage
	customers  map[int64]*entity.Customer
	emailIndex map[string]int64
	promotions map[int64]*entity.Promotion
	staff      map[staffKey]entity.EventRole

	sales      map[int64]*entity.TicketSale
	orderIndex map[string]int64
	history    map[int64][]*entity.HistoryEntry

	nextID     int64
	subOrderID repository.SubOrderIDFunc
}

func NewStore(subOrderID repository.SubOrderIDFunc) *Store {
	return &Store{
		events:     make(map[int64]*entity.Event),
		packages:   make(map[int64]*entity.TicketPackage),
		customers:  make(map[int64]*entity.Customer),
		emailIndex: make(map[string]int64),
		promotions: make(map[int64]*entity.Promotion),
		staff:      make(map[staffKey]entity.EventRole),
		sales:      make(map[int64]*entity.TicketSale),
		orderIndex: make(map[string]int64),
		history:    make(map[int64][]*entity.HistoryEntry),
		subOrderID: subOrderID,
	}
}

// Repositories exposes the store through the repository bundle.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Event:     s,
		Customer:  customerView{store: s},
		Promotion: s,
		Access:    s,
		Sale:      s,
	}
}

func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

// Seed helpers assign IDs when the caller leaves them zero.

func (s *Store) AddEvent(event *entity.Event) *entity.Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if event.ID == 0 {
		event.ID = s.newID()
	}
	s.events[event.ID] = event
	return event
}

func (s *Store) AddPackage(pkg *entity.TicketPackage) *entity.TicketPackage {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if pkg.ID == 0 {
		pkg.ID = s.newID()
	}
	if pkg.AvailTickets == 0 && pkg.TotalTickets > 0 && pkg.ReservedSeats == nil {
		pkg.AvailTickets = pkg.TotalTickets
	}
	s.packages[pkg.ID] = pkg
	return pkg
}

func (s *Store) AddPromotion(promo *entity.Promotion) *entity.Promotion {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if promo.ID == 0 {
		promo.ID = s.newID()
	}
	s.promotions[promo.ID] = promo
	return promo
}

func (s *Store) GrantRole(eventID, userID int64, role entity.EventRole) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.staff[staffKey{eventID: eventID, userID: userID}] = role
}

// Package returns a snapshot of a package for assertions.
func (s *Store) Package(id int64) (*entity.TicketPackage, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	pkg, ok := s.packages[id]
	if !ok {
		return nil, false
	}
	cp := *pkg
	cp.ReservedSeats = append(entity.SeatSet(nil), pkg.ReservedSeats...)
	return &cp, true
}

func (s *Store) GetByID(ctx context.Context, id int64) (*entity.Event, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	event, ok := s.events[id]
	if !ok {
		return nil, entity.ErrEventNotFound
	}
	cp := *event
	return &cp, nil
}

func (s *Store) GetPackage(ctx context.Context, id int64) (*entity.TicketPackage, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.packageCopy(id)
}

func (s *Store) packageCopy(id int64) (*entity.TicketPackage, error) {
	pkg, ok := s.packages[id]
	if !ok {
		return nil, entity.ErrPackageNotFound
	}
	cp := *pkg
	cp.ReservedSeats = append(entity.SeatSet(nil), pkg.ReservedSeats...)
	return &cp, nil
}

func (s *Store) PackagesByEvent(ctx context.Context, eventID int64) ([]*entity.TicketPackage, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var packages []*entity.TicketPackage
	for id, pkg := range s.packages {
		if pkg.EventID == eventID {
			cp, _ := s.packageCopy(id)
			packages = append(packages, cp)
		}
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].ID < packages[j].ID })
	return packages, nil
}

func (s *Store) Upsert(ctx context.Context, customer *entity.Customer) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	email := strings.ToLower(customer.Email)
	if id, ok := s.emailIndex[email]; ok {
		existing := s.customers[id]
		existing.Name = customer.Name
		existing.Phone = customer.Phone
		customer.ID = id
		customer.CreatedAt = existing.CreatedAt
		return nil
	}

	customer.ID = s.newID()
	customer.CreatedAt = time.Now()
	cp := *customer
	s.customers[customer.ID] = &cp
	s.emailIndex[email] = customer.ID
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*entity.Customer, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, entity.ErrCustomerNotFound
	}
	cp := *customer
	return &cp, nil
}

func (s *Store) GetByCode(ctx context.Context, eventID int64, code string) (*entity.Promotion, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, promo := range s.promotions {
		if promo.EventID == eventID && promo.Active && strings.EqualFold(promo.CouponCode, code) {
			cp := *promo
			if promo.PackageID != nil {
				pkgID := *promo.PackageID
				cp.PackageID = &pkgID
			}
			return &cp, nil
		}
	}
	return nil, entity.ErrInvalidPromoCode
}

func (s *Store) RedeemedCount(ctx context.Context, promotionID int64) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.redeemedLocked(promotionID), nil
}

func (s *Store) redeemedLocked(promotionID int64) int {
	count := 0
	for _, sale := range s.sales {
		if sale.PromotionID != nil && *sale.PromotionID == promotionID && sale.Status.HoldsInventory() {
			count++
		}
	}
	return count
}

func (s *Store) RoleFor(ctx context.Context, eventID, userID int64) (entity.EventRole, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	role, ok := s.staff[staffKey{eventID: eventID, userID: userID}]
	if !ok {
		return "", entity.ErrForbidden
	}
	return role, nil
}

func (s *Store) Create(ctx context.Context, sale *entity.TicketSale) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if sale.PromotionID != nil {
		promo, ok := s.promotions[*sale.PromotionID]
		if !ok {
			return entity.ErrInvalidPromoCode
		}
		if !promo.Unlimited() && s.redeemedLocked(promo.ID) >= promo.MaxRedemptions {
			return entity.ErrRedemptionLimitExceeded
		}
	}

	lines := make([]*entity.SalePackage, len(sale.Lines))
	for i := range sale.Lines {
		lines[i] = &sale.Lines[i]
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].PackageID < lines[j].PackageID })

	// Validate every line before mutating any package so a failed order
	// leaves the inventory untouched.
	for _, line := range lines {
		pkg, ok := s.packages[line.PackageID]
		if !ok {
			return entity.ErrPackageNotFound
		}
		if pkg.EventID != sale.EventID {
			return fmt.Errorf("%w: package %d does not belong to event %d",
				entity.ErrInvalidInput, line.PackageID, sale.EventID)
		}
		if !pkg.OnSale() {
			return fmt.Errorf("%w: package %d", entity.ErrPackageNotOnSale, pkg.ID)
		}
		if pkg.AvailTickets < line.TicketCount {
			return &entity.InsufficientInventoryError{
				PackageID: pkg.ID,
				Requested: line.TicketCount,
				Available: pkg.AvailTickets,
			}
		}
		if taken := pkg.ReservedSeats.Intersect(line.SeatNos); len(taken) > 0 {
			return &entity.SeatConflictError{PackageID: pkg.ID, Seats: taken.Sorted()}
		}

		held := s.buyerHeldLocked(line.PackageID, sale.CustomerID)
		if cap := pkg.BuyerCap(); cap > 0 && held+line.TicketCount > cap {
			return &entity.PerUserCapError{
				PackageID: pkg.ID,
				Cap:       cap,
				Held:      held,
				Requested: line.TicketCount,
			}
		}
	}

	for _, line := range lines {
		pkg := s.packages[line.PackageID]
		pkg.AvailTickets -= line.TicketCount
		pkg.ReservedSeats = pkg.ReservedSeats.Add(line.SeatNos)
	}

	now := time.Now()
	sale.ID = s.newID()
	sale.Status = entity.SaleStatusPending
	sale.CreatedAt = now
	sale.UpdatedAt = now
	for i := range sale.Lines {
		sale.Lines[i].ID = s.newID()
		sale.Lines[i].SaleID = sale.ID
	}

	cp := cloneSale(sale)
	s.sales[sale.ID] = cp
	s.orderIndex[sale.OrderID] = sale.ID

	s.appendHistoryLocked(sale.ID, entity.HistoryActionCreated,
		entity.HistoryDetails{"total_tickets": sale.TotalTickets, "total": sale.Total.String()}, 0)
	return nil
}

func (s *Store) buyerHeldLocked(packageID, customerID int64) int {
	held := 0
	for _, sale := range s.sales {
		if sale.CustomerID != customerID || !sale.Status.CountsTowardCap() {
			continue
		}
		for _, line := range sale.Lines {
			if line.PackageID == packageID {
				held += line.TicketCount
			}
		}
	}
	return held
}

func (s *Store) appendHistoryLocked(saleID int64, action string, details entity.HistoryDetails, actorID int64) {
	s.history[saleID] = append(s.history[saleID], &entity.HistoryEntry{
		ID:        s.newID(),
		SaleID:    saleID,
		Action:    action,
		Details:   details,
		ActorID:   actorID,
		CreatedAt: time.Now(),
	})
}

func (s *Store) saleByOrderLocked(orderID string) (*entity.TicketSale, error) {
	id, ok := s.orderIndex[orderID]
	if !ok {
		return nil, entity.ErrSaleNotFound
	}
	return s.sales[id], nil
}

func (s *Store) GetByOrderID(ctx context.Context, orderID string) (*entity.TicketSale, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sale, err := s.saleByOrderLocked(orderID)
	if err != nil {
		return nil, err
	}
	return cloneSale(sale), nil
}

func (s *Store) Confirm(ctx context.Context, orderID, paymentRef string, succeeded bool) (*entity.TicketSale, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sale, err := s.saleByOrderLocked(orderID)
	if err != nil {
		return nil, false, err
	}

	if sale.Status != entity.SaleStatusPending {
		return cloneSale(sale), false, nil
	}

	now := time.Now()
	sale.PaymentRef = paymentRef
	sale.UpdatedAt = now

	if succeeded {
		sale.Status = entity.SaleStatusComplete
		s.issueSubTicketsLocked(sale, now)
		s.appendHistoryLocked(sale.ID, entity.HistoryActionPaid,
			entity.HistoryDetails{"payment_ref": paymentRef}, 0)
	} else {
		sale.Status = entity.SaleStatusFailed
		if err := s.releaseInventoryLocked(sale); err != nil {
			return nil, false, err
		}
		s.appendHistoryLocked(sale.ID, entity.HistoryActionFailed,
			entity.HistoryDetails{"payment_ref": paymentRef}, 0)
	}

	return cloneSale(sale), true, nil
}

func (s *Store) issueSubTicketsLocked(sale *entity.TicketSale, now time.Time) {
	seq := 0
	for _, line := range sale.Lines {
		for i := 0; i < line.TicketCount; i++ {
			seq++
			seatNo := ""
			if i < len(line.SeatNos) {
				seatNo = line.SeatNos[i]
			}
			sale.SubTickets = append(sale.SubTickets, entity.SubTicket{
				ID:         s.newID(),
				SaleID:     sale.ID,
				PackageID:  line.PackageID,
				SubOrderID: s.subOrderID(sale.OrderID, seq),
				SeatNo:     seatNo,
				Status:     entity.SubTicketStatusIssued,
				CreatedAt:  now,
			})
		}
	}
}

func (s *Store) releaseInventoryLocked(sale *entity.TicketSale) error {
	for _, line := range sale.Lines {
		pkg, ok := s.packages[line.PackageID]
		if !ok {
			return entity.ErrPackageNotFound
		}
		if pkg.AvailTickets+line.TicketCount > pkg.TotalTickets {
			return fmt.Errorf("%w: package %d would hold %d of %d tickets",
				entity.ErrInvariantViolation, pkg.ID, pkg.AvailTickets+line.TicketCount, pkg.TotalTickets)
		}
		pkg.AvailTickets += line.TicketCount
		pkg.ReservedSeats = pkg.ReservedSeats.Remove(line.SeatNos)
	}
	return nil
}

func (s *Store) reserveInventoryLocked(sale *entity.TicketSale) error {
	for _, line := range sale.Lines {
		pkg, ok := s.packages[line.PackageID]
		if !ok {
			return entity.ErrPackageNotFound
		}
		if !pkg.OnSale() {
			return fmt.Errorf("%w: package %d", entity.ErrPackageNotOnSale, pkg.ID)
		}
		if pkg.AvailTickets < line.TicketCount {
			return &entity.InsufficientInventoryError{
				PackageID: pkg.ID,
				Requested: line.TicketCount,
				Available: pkg.AvailTickets,
			}
		}
		if taken := pkg.ReservedSeats.Intersect(line.SeatNos); len(taken) > 0 {
			return &entity.SeatConflictError{PackageID: pkg.ID, Seats: taken.Sorted()}
		}
	}
	for _, line := range sale.Lines {
		pkg := s.packages[line.PackageID]
		pkg.AvailTickets -= line.TicketCount
		pkg.ReservedSeats = pkg.ReservedSeats.Add(line.SeatNos)
	}
	return nil
}

func (s *Store) Correct(ctx context.Context, orderID string, to entity.SaleStatus, actorID int64, admin bool) (*entity.TicketSale, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sale, err := s.saleByOrderLocked(orderID)
	if err != nil {
		return nil, err
	}

	if !sale.Status.CanTransition(to, admin) {
		return nil, fmt.Errorf("%w: %s to %s", entity.ErrInvalidStatus, sale.Status, to)
	}

	from := sale.Status
	switch {
	case from.HoldsInventory() && !to.HoldsInventory():
		if err := s.releaseInventoryLocked(sale); err != nil {
			return nil, err
		}
		for i := range sale.SubTickets {
			sale.SubTickets[i].Status = entity.SubTicketStatusVoided
		}
	case !from.HoldsInventory() && to.HoldsInventory():
		if err := s.reserveInventoryLocked(sale); err != nil {
			return nil, err
		}
		if len(sale.SubTickets) == 0 {
			s.issueSubTicketsLocked(sale, time.Now())
		} else {
			for i := range sale.SubTickets {
				sale.SubTickets[i].Status = entity.SubTicketStatusIssued
				sale.SubTickets[i].VerifiedBy = nil
				sale.SubTickets[i].VerifiedAt = nil
			}
		}
	}

	sale.Status = to
	sale.UpdatedAt = time.Now()
	s.appendHistoryLocked(sale.ID, entity.HistoryActionCorrection,
		entity.HistoryDetails{"from": string(from), "to": string(to)}, actorID)
	return cloneSale(sale), nil
}

func (s *Store) Verify(ctx context.Context, orderID string, subOrderIDs []string, verifierID int64, at time.Time) (*entity.VerificationResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sale, err := s.saleByOrderLocked(orderID)
	if err != nil {
		return nil, err
	}

	result := &entity.VerificationResult{
		OrderID:         sale.OrderID,
		Status:          sale.Status,
		VerifiedTickets: sale.VerifiedTickets,
		TotalTickets:    sale.TotalTickets,
		VerifiedBy:      verifierID,
		VerifiedAt:      at,
	}

	if sale.Status == entity.SaleStatusVerified {
		result.AlreadyVerified = true
		return result, nil
	}
	if sale.Status != entity.SaleStatusComplete && sale.Status != entity.SaleStatusPartiallyVerified {
		return nil, fmt.Errorf("%w: sale is %s", entity.ErrNotVerifiable, sale.Status)
	}

	byID := make(map[string]int, len(sale.SubTickets))
	for i, t := range sale.SubTickets {
		byID[t.SubOrderID] = i
	}

	var targets []int
	if len(subOrderIDs) == 0 {
		for i, t := range sale.SubTickets {
			if t.Status == entity.SubTicketStatusIssued {
				targets = append(targets, i)
			}
		}
	} else {
		seen := make(map[string]struct{}, len(subOrderIDs))
		for _, id := range subOrderIDs {
			i, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("%w: unknown sub ticket %s", entity.ErrInvalidInput, id)
			}
			if sale.SubTickets[i].Status == entity.SubTicketStatusVoided {
				return nil, fmt.Errorf("%w: sub ticket %s is voided", entity.ErrInvalidInput, id)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if sale.SubTickets[i].Status == entity.SubTicketStatusIssued {
				targets = append(targets, i)
			}
		}
	}

	if len(targets) == 0 {
		result.AlreadyVerified = true
		return result, nil
	}

	perPackage := make(map[int64]int)
	verifiedSubOrders := make([]string, 0, len(targets))
	for _, i := range targets {
		t := &sale.SubTickets[i]
		t.Status = entity.SubTicketStatusVerified
		verifier := verifierID
		verifiedAt := at
		t.VerifiedBy = &verifier
		t.VerifiedAt = &verifiedAt
		perPackage[t.PackageID]++
		verifiedSubOrders = append(verifiedSubOrders, t.SubOrderID)
	}

	sale.VerifiedTickets += len(targets)
	if sale.VerifiedTickets >= sale.TotalTickets {
		sale.Status = entity.SaleStatusVerified
	} else {
		sale.Status = entity.SaleStatusPartiallyVerified
	}
	verifier := verifierID
	verifiedAt := at
	sale.VerifiedBy = &verifier
	sale.VerifiedAt = &verifiedAt
	sale.UpdatedAt = at

	s.appendHistoryLocked(sale.ID, entity.HistoryActionVerified,
		entity.HistoryDetails{"sub_order_ids": verifiedSubOrders, "count": len(targets)}, verifierID)

	result.Status = sale.Status
	result.VerifiedNow = len(targets)
	result.VerifiedTickets = sale.VerifiedTickets
	for pkgID, n := range perPackage {
		result.Packages = append(result.Packages, entity.VerifiedPackageCount{PackageID: pkgID, Verified: n})
	}
	sort.Slice(result.Packages, func(i, j int) bool { return result.Packages[i].PackageID < result.Packages[j].PackageID })

	return result, nil
}

func (s *Store) StalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var stale []*entity.TicketSale
	for _, sale := range s.sales {
		if sale.Status == entity.SaleStatusPending && sale.CreatedAt.Before(before) {
			stale = append(stale, sale)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })

	var orderIDs []string
	for _, sale := range stale {
		if len(orderIDs) >= limit {
			break
		}
		orderIDs = append(orderIDs, sale.OrderID)
	}
	return orderIDs, nil
}

func (s *Store) Reclaim(ctx context.Context, orderID string, before time.Time) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sale, err := s.saleByOrderLocked(orderID)
	if err != nil {
		return false, err
	}
	if sale.Status != entity.SaleStatusPending || !sale.CreatedAt.Before(before) {
		return false, nil
	}

	if err := s.releaseInventoryLocked(sale); err != nil {
		return false, err
	}
	sale.Status = entity.SaleStatusCancelled
	sale.UpdatedAt = time.Now()

	s.appendHistoryLocked(sale.ID, entity.HistoryActionReclaimed,
		entity.HistoryDetails{"pending_since": sale.CreatedAt.Format(time.RFC3339)}, 0)
	return true, nil
}

func (s *Store) SetETicketURL(ctx context.Context, orderID, url string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sale, err := s.saleByOrderLocked(orderID)
	if err != nil {
		return err
	}
	sale.ETicketURL = url
	sale.UpdatedAt = time.Now()
	return nil
}

func (s *Store) History(ctx context.Context, saleID int64) ([]*entity.HistoryEntry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries := make([]*entity.HistoryEntry, 0, len(s.history[saleID]))
	for _, e := range s.history[saleID] {
		cp := *e
		entries = append(entries, &cp)
	}
	return entries, nil
}

func cloneSale(sale *entity.TicketSale) *entity.TicketSale {
	cp := *sale
	cp.Lines = append([]entity.SalePackage(nil), sale.Lines...)
	for i := range cp.Lines {
		cp.Lines[i].SeatNos = append(entity.SeatSet(nil), sale.Lines[i].SeatNos...)
	}
	cp.SubTickets = append([]entity.SubTicket(nil), sale.SubTickets...)
	return &cp
}
