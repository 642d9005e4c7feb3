package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eventbooker/ticketing/internal/entity"
)

func TestEventRunsOn(t *testing.T) {
	loc := time.UTC
	event := &entity.Event{
		StartDate: time.Date(2026, 6, 10, 19, 0, 0, 0, loc),
		EndDate:   time.Date(2026, 6, 12, 23, 0, 0, 0, loc),
	}

	assert.False(t, event.RunsOn(time.Date(2026, 6, 9, 12, 0, 0, 0, loc), loc))
	assert.True(t, event.RunsOn(time.Date(2026, 6, 10, 8, 0, 0, 0, loc), loc))
	assert.True(t, event.RunsOn(time.Date(2026, 6, 11, 0, 0, 0, 0, loc), loc))
	assert.True(t, event.RunsOn(time.Date(2026, 6, 12, 23, 59, 0, 0, loc), loc))
	assert.False(t, event.RunsOn(time.Date(2026, 6, 13, 0, 0, 0, 0, loc), loc))
}

func TestEventHandlingFeeFor(t *testing.T) {
	flat := &entity.Event{HandlingFee: dec("5")}
	assert.True(t, dec("5").Equal(flat.HandlingFeeFor(dec("200"))))

	percent := &entity.Event{HandlingFee: dec("2.5"), HandlingFeePercent: true}
	assert.True(t, dec("5").Equal(percent.HandlingFeeFor(dec("200"))))
	assert.True(t, dec("0.03").Equal(percent.HandlingFeeFor(dec("1.11"))))
}

func TestPackageBuyerCap(t *testing.T) {
	// Zero means the package carries no per-buyer cap.
	assert.Equal(t, 0, (&entity.TicketPackage{}).BuyerCap())
	assert.Equal(t, 4, (&entity.TicketPackage{MaxTicketsPerBuyer: 4}).BuyerCap())
}

func TestPackageOnSale(t *testing.T) {
	assert.True(t, (&entity.TicketPackage{Active: true}).OnSale())
	assert.False(t, (&entity.TicketPackage{}).OnSale())
	assert.False(t, (&entity.TicketPackage{Active: true, SoldOut: true}).OnSale())
}

func TestEventRoleCanVerify(t *testing.T) {
	assert.True(t, entity.RoleAdmin.CanVerify())
	assert.True(t, entity.RoleManager.CanVerify())
	assert.True(t, entity.RoleCoordinator.CanVerify())
	assert.False(t, entity.EventRole("viewer").CanVerify())
	assert.False(t, entity.EventRole("").CanVerify())
}
