package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"carrier_sales/internal/app"
	"carrier_sales/internal/loads"
)

func NewLoadsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loads",
		Short: "Inspect the load file",
	}
	cmd.AddCommand(newLoadsSearchCommand(opts))
	cmd.AddCommand(newLoadsGetCommand(opts))
	return cmd
}

type searchFlags struct {
	origin      string
	destination string
	criteria    loads.Criteria
}

func newLoadsSearchCommand(opts *RootOptions) *cobra.Command {
	f := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search loads with the same filters as GET /api/loads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			crit := f.criteria
			if f.origin != "" {
				loc := loads.ParseLocation(f.origin)
				crit.OriginCity, crit.OriginState = loc.City, loc.State
			}
			if f.destination != "" {
				loc := loads.ParseLocation(f.destination)
				crit.DestinationCity, crit.DestinationState = loc.City, loc.State
			}
			if crit.PickupDate != "" {
				day, err := loads.ParseDate(crit.PickupDate)
				if err != nil {
					return fmt.Errorf("pickup-date must be YYYY-MM-DD: %w", err)
				}
				crit.PickupDate = day
			}
			repo := app.LoadRepository(opts.cfg, opts.log)
			found := repo.Search(crit)
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), found)
			}
			return printLoads(cmd, found)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.origin, "origin", "", `origin as "City, ST"`)
	fl.StringVar(&f.destination, "destination", "", `destination as "City, ST"`)
	fl.StringVar(&f.criteria.OriginCity, "origin-city", "", "origin city")
	fl.StringVar(&f.criteria.OriginState, "origin-state", "", "origin state")
	fl.StringVar(&f.criteria.DestinationCity, "destination-city", "", "destination city")
	fl.StringVar(&f.criteria.DestinationState, "destination-state", "", "destination state")
	fl.StringVar(&f.criteria.EquipmentType, "equipment", "", "equipment type substring")
	fl.StringVar(&f.criteria.Commodity, "commodity", "", "commodity substring")
	fl.StringVar(&f.criteria.PickupDate, "pickup-date", "", "pickup day (YYYY-MM-DD)")
	return cmd
}

func newLoadsGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <load-id>",
		Short: "Show one load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := app.LoadRepository(opts.cfg, opts.log)
			load, err := repo.GetByID(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), load)
			}
			return printLoads(cmd, []loads.Load{load})
		},
	}
}

func printLoads(cmd *cobra.Command, list []loads.Load) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOAD\tORIGIN\tDESTINATION\tPICKUP\tEQUIPMENT\tRATE")
	for _, l := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\n",
			l.LoadID, l.Origin, l.Destination, l.PickupDatetime, strings.TrimSpace(l.EquipmentType), l.LoadboardRate)
	}
	return tw.Flush()
}
