// Package eticket is a client for the e-ticket rendering service.
package eticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eventbooker/ticketing/internal/entity"
)

type Renderer struct {
	baseURL string
	client  *http.Client
}

func NewRenderer(baseURL string) *Renderer {
	return &Renderer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type renderRequest struct {
	OrderID string         `json:"order_id"`
	Tickets []renderTicket `json:"tickets"`
}

type renderTicket struct {
	SubOrderID string `json:"sub_order_id"`
	SeatNo     string `json:"seat_no,omitempty"`
}

type renderResponse struct {
	URL string `json:"url"`
}

// Render asks the rendering service to produce the e-ticket document and
// returns its public URL.
func (r *Renderer) Render(ctx context.Context, sale *entity.TicketSale) (string, error) {
	req := renderRequest{OrderID: sale.OrderID}
	for _, t := range sale.SubTickets {
		if t.Status == entity.SubTicketStatusVoided {
			continue
		}
		req.Tickets = append(req.Tickets, renderTicket{SubOrderID: t.SubOrderID, SeatNo: t.SeatNo})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("render service error: %s", resp.Status)
	}

	var rendered renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rendered); err != nil {
		return "", fmt.Errorf("failed to decode render response: %w", err)
	}
	if rendered.URL == "" {
		return "", fmt.Errorf("render service returned no url")
	}
	return rendered.URL, nil
}
