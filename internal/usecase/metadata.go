package usecase

import (
	"encoding/json"
	"strings"

	"aquavoice/internal/domain"
)

const (
	MetadataTankID       = "tank_id"
	MetadataAllTanksData = "all_tanks_data"
	MetadataAllTankIDs   = "all_tank_ids"

	locationNotSpecified = "Not specified"
)

type tankContext struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Species      []string `json:"species"`
	Capacity     float64  `json:"capacity"`
	CurrentStock int      `json:"current_stock"`
	Location     string   `json:"location"`
	Status       string   `json:"status"`
}

// marshalTanks is swapped in tests to exercise the id-list fallback.
var marshalTanks = func(v []tankContext) ([]byte, error) { return json.Marshal(v) }

// BuildMetadata assembles the context attached to an outbound text message.
// It returns nil when there is neither a primary tank nor any known tank.
func BuildMetadata(primaryTankID string, tanks []domain.Tank) map[string]string {
	metadata := make(map[string]string, 2)
	if primaryTankID != "" {
		metadata[MetadataTankID] = primaryTankID
	}

	if len(tanks) > 0 {
		records := make([]tankContext, 0, len(tanks))
		for _, tank := range tanks {
			records = append(records, toTankContext(tank))
		}
		if data, err := marshalTanks(records); err == nil {
			metadata[MetadataAllTanksData] = string(data)
		} else {
			ids := make([]string, 0, len(tanks))
			for _, tank := range tanks {
				ids = append(ids, tank.ID)
			}
			metadata[MetadataAllTankIDs] = strings.Join(ids, "|")
		}
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func toTankContext(tank domain.Tank) tankContext {
	location := locationNotSpecified
	if tank.Location != nil {
		location = *tank.Location
	}
	species := tank.Species
	if species == nil {
		species = []string{}
	}
	return tankContext{
		ID:           tank.ID,
		Name:         tank.Name,
		Species:      species,
		Capacity:     tank.Capacity,
		CurrentStock: tank.CurrentStock,
		Location:     location,
		Status:       string(tank.Status),
	}
}
