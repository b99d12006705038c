package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"aquavoice/internal/bootstrap"
	"aquavoice/internal/domain"
	"aquavoice/internal/usecase"
)

func newTanksCmd(load configLoader) *cobra.Command {
	var (
		asJSON       bool
		showMetadata bool
		primaryTank  string
	)

	tanksCmd := &cobra.Command{
		Use:   "tanks",
		Short: "List the tanks sent as conversation context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			list, err := bootstrap.TankSource(cfg).FetchAllTanks(cmd.Context())
			if err != nil {
				return fmt.Errorf("load tanks: %w", err)
			}

			out := cmd.OutOrStdout()
			if showMetadata {
				if primaryTank == "" {
					primaryTank = cfg.Voice.PrimaryTankID
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(usecase.BuildMetadata(primaryTank, list))
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				views := make([]tankView, 0, len(list))
				for _, tank := range list {
					views = append(views, newTankView(tank))
				}
				return enc.Encode(views)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSPECIES\tSTOCK\tCAPACITY\tLOCATION\tSTATUS")
			for _, tank := range list {
				location := "-"
				if tank.Location != nil {
					location = *tank.Location
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%g\t%s\t%s\n",
					tank.ID, tank.Name, strings.Join(tank.Species, ","),
					tank.CurrentStock, tank.Capacity, location, tank.Status)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "tanks: %d\n", len(list))
			return err
		},
	}

	tanksCmd.Flags().BoolVar(&asJSON, "json", false, "print tanks as JSON")
	tanksCmd.Flags().BoolVar(&showMetadata, "metadata", false, "print the metadata attached to outgoing messages")
	tanksCmd.Flags().StringVar(&primaryTank, "tank", "", "primary tank id for --metadata")
	return tanksCmd
}

type tankView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Species      []string `json:"species"`
	Capacity     float64  `json:"capacity"`
	CurrentStock int      `json:"current_stock"`
	Location     *string  `json:"location"`
	Status       string   `json:"status"`
}

func newTankView(tank domain.Tank) tankView {
	species := tank.Species
	if species == nil {
		species = []string{}
	}
	return tankView{
		ID:           tank.ID,
		Name:         tank.Name,
		Species:      species,
		Capacity:     tank.Capacity,
		CurrentStock: tank.CurrentStock,
		Location:     tank.Location,
		Status:       string(tank.Status),
	}
}
