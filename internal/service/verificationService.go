package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	repository "github.com/eventbooker/ticketing/internal/database/postgres"
	"github.com/eventbooker/ticketing/internal/entity"
)

type verificationService struct {
	saleRepo   repository.SaleRepository
	eventRepo  repository.EventRepository
	accessRepo repository.AccessRepository
	loc        *time.Location
	now        func() time.Time
	log        *logrus.Logger
}

func NewVerificationService(
	saleRepo repository.SaleRepository,
	eventRepo repository.EventRepository,
	accessRepo repository.AccessRepository,
	loc *time.Location,
	log *logrus.Logger,
) VerificationService {
	if loc == nil {
		loc = time.Local
	}
	return &verificationService{
		saleRepo:   saleRepo,
		eventRepo:  eventRepo,
		accessRepo: accessRepo,
		loc:        loc,
		now:        time.Now,
		log:        log,
	}
}

// VerifyTickets checks an order's sub tickets in at the gate. The verifier
// must hold a staff role on the event and the event must run today.
func (s *verificationService) VerifyTickets(ctx context.Context, req *VerifyRequest) (*entity.VerificationResult, error) {
	sale, err := s.saleRepo.GetByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	event, err := s.eventRepo.GetByID(ctx, sale.EventID)
	if err != nil {
		return nil, err
	}

	role, err := s.accessRepo.RoleFor(ctx, event.ID, req.VerifierID)
	if err != nil {
		return nil, err
	}
	if !role.CanVerify() {
		return nil, entity.ErrForbidden
	}

	now := s.now()
	if !event.RunsOn(now, s.loc) {
		return nil, entity.ErrEventNotToday
	}

	result, err := s.saleRepo.Verify(ctx, req.OrderID, req.SubOrderIDs, req.VerifierID, now)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":         result.OrderID,
		"verified_now":     result.VerifiedNow,
		"verified_tickets": result.VerifiedTickets,
		"total_tickets":    result.TotalTickets,
		"status":           result.Status,
		"verifier_id":      req.VerifierID,
		"already_verified": result.AlreadyVerified,
	}).Info("tickets verified")

	return result, nil
}
