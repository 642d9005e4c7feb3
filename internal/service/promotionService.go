package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	repository "github.com/eventbooker/ticketing/internal/database/postgres"
	"github.com/eventbooker/ticketing/internal/entity"
)

type promotionService struct {
	promoRepo repository.PromotionRepository
	eventRepo repository.EventRepository
}

func NewPromotionService(promoRepo repository.PromotionRepository, eventRepo repository.EventRepository) PromotionService {
	return &promotionService{promoRepo: promoRepo, eventRepo: eventRepo}
}

// Evaluate validates a coupon code and computes the discount for an order
func (s *promotionService) Evaluate(ctx context.Context, eventID int64, code string, items []entity.LineItem) (*entity.PromoApplication, error) {
	if code == "" {
		return nil, entity.ErrInvalidPromoCode
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", entity.ErrInvalidInput)
	}

	promo, err := s.promoRepo.GetByCode(ctx, eventID, code)
	if err != nil {
		return nil, err
	}

	lines := make([]entity.SalePackage, 0, len(items))
	subtotal := decimal.Zero
	for _, item := range items {
		pkg, err := s.eventRepo.GetPackage(ctx, item.PackageID)
		if err != nil {
			return nil, err
		}
		if pkg.EventID != eventID {
			return nil, fmt.Errorf("%w: package %d does not belong to event %d",
				entity.ErrInvalidInput, item.PackageID, eventID)
		}

		lineTotal := pkg.Price.Mul(decimal.NewFromInt(int64(item.TicketCount)))
		lines = append(lines, entity.SalePackage{
			PackageID:   item.PackageID,
			TicketCount: item.TicketCount,
			UnitPrice:   pkg.Price,
			LineTotal:   lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	// A package-scoped code discounts only the lines of that package.
	applicable := lines
	if promo.PackageID != nil {
		applicable = nil
		for _, l := range lines {
			if promo.AppliesTo(l.PackageID) {
				applicable = append(applicable, l)
			}
		}
		if len(applicable) == 0 {
			return nil, entity.ErrPromoNotApplicable
		}
	}

	ticketCount := 0
	for _, l := range applicable {
		ticketCount += l.TicketCount
	}
	if promo.MinTickets > 0 && ticketCount < promo.MinTickets {
		return nil, &entity.PromoMinTicketsError{Min: promo.MinTickets}
	}
	if promo.MaxTickets > 0 && ticketCount > promo.MaxTickets {
		return nil, &entity.PromoMaxTicketsError{Max: promo.MaxTickets}
	}

	if !promo.Unlimited() {
		redeemed, err := s.promoRepo.RedeemedCount(ctx, promo.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check redemptions: %w", err)
		}
		if redeemed >= promo.MaxRedemptions {
			return nil, entity.ErrRedemptionLimitExceeded
		}
	}

	discount := promo.DiscountFor(applicable)
	return &entity.PromoApplication{
		PromotionID: promo.ID,
		CouponCode:  promo.CouponCode,
		Percentage:  promo.Percentage,
		PerTicket:   promo.PerTicket,
		Subtotal:    subtotal,
		Discount:    discount,
		AmountDue:   subtotal.Sub(discount),
	}, nil
}
