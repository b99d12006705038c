// Package tanks provides the tank list the voice session sends as context.
package tanks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aquavoice/internal/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPSource fetches tanks from the aquaculture REST API.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
	// Token is sent as a bearer token when set.
	Token string
}

func NewHTTPSource(baseURL string, token string) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type tankRecord struct {
	ID           string   `json:"id" toml:"id"`
	Name         string   `json:"name" toml:"name"`
	Species      []string `json:"species" toml:"species"`
	Capacity     float64  `json:"capacity" toml:"capacity"`
	CurrentStock int      `json:"current_stock" toml:"current_stock"`
	Location     *string  `json:"location" toml:"location"`
	Status       string   `json:"status" toml:"status"`
}

func (r tankRecord) toDomain() domain.Tank {
	return domain.Tank{
		ID:           r.ID,
		Name:         r.Name,
		Species:      r.Species,
		Capacity:     r.Capacity,
		CurrentStock: r.CurrentStock,
		Location:     r.Location,
		Status:       domain.ParseTankStatus(r.Status),
	}
}

func (s *HTTPSource) FetchAllTanks(ctx context.Context) ([]domain.Tank, error) {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("tank api base url is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/tanks", nil)
	if err != nil {
		return nil, fmt.Errorf("build tanks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tanks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch tanks: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var records []tankRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode tanks: %w", err)
	}
	return toDomain(records), nil
}

func toDomain(records []tankRecord) []domain.Tank {
	out := make([]domain.Tank, 0, len(records))
	for _, r := range records {
		out = append(out, r.toDomain())
	}
	return out
}
