package tanks

import (
	"context"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"aquavoice/internal/domain"
)

// FileSource reads tanks from a TOML fixture:
//
//	[[tanks]]
//	id = "t1"
//	name = "Nursery A"
//	species = ["tilapia"]
//	capacity = 1200.0
//	current_stock = 340
//	location = "North shed"
//	status = "Active"
type FileSource struct {
	Path string
}

type fixture struct {
	Tanks []tankRecord `toml:"tanks"`
}

func (s FileSource) FetchAllTanks(ctx context.Context) ([]domain.Tank, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read tanks file: %w", err)
	}
	var f fixture
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tanks file %s: %w", s.Path, err)
	}
	return toDomain(f.Tanks), nil
}
