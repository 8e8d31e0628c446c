package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/dealdesk/internal/deal"
	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/store"
)

var dealCmd = &cobra.Command{
	Use:   "deal",
	Short: "Create and list deals",
}

var (
	dealInput   deal.Input
	dealNoGeo   bool
	dealState   string
	dealLimit   int
	dealOffset  int
	dealSqft    float64
	dealLatLong []float64
)

var dealCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a deal with its Base Case assumption set",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		in := dealInput
		if dealSqft > 0 {
			in.SquareFeet = &dealSqft
		}
		if len(dealLatLong) == 2 {
			in.Latitude, in.Longitude = &dealLatLong[0], &dealLatLong[1]
		}

		svc := deal.NewService(st, nil)
		if !dealNoGeo {
			svc = deal.NewService(st, initGeocoder())
		}
		d, err := svc.Create(cmd.Context(), in)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), d)
	},
}

var dealListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deals, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		deals, err := deal.NewService(st, nil).List(cmd.Context(), store.DealFilter{
			State:  model.PipelineState(dealState),
			Limit:  dealLimit,
			Offset: dealOffset,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), deals)
	},
}

func init() {
	f := dealCreateCmd.Flags()
	f.StringVar(&dealInput.Name, "name", "", "deal name")
	f.StringVar(&dealInput.Address, "address", "", "street address")
	f.StringVar(&dealInput.City, "city", "", "city")
	f.StringVar(&dealInput.State, "state", "", "two-letter state")
	f.StringVar(&dealInput.PropertyType, "type", "", "property type (multifamily, office, retail, industrial, mixed_use, other)")
	f.Float64Var(&dealSqft, "square-feet", 0, "rentable square feet")
	f.Float64SliceVar(&dealLatLong, "coords", nil, "latitude,longitude (skips geocoding)")
	f.BoolVar(&dealNoGeo, "no-geocode", false, "do not geocode the address")
	_ = dealCreateCmd.MarkFlagRequired("name")
	_ = dealCreateCmd.MarkFlagRequired("address")

	dealListCmd.Flags().StringVar(&dealState, "state", "", "filter by pipeline state")
	dealListCmd.Flags().IntVar(&dealLimit, "limit", 50, "max deals to list")
	dealListCmd.Flags().IntVar(&dealOffset, "offset", 0, "number of deals to skip")

	dealCmd.AddCommand(dealCreateCmd, dealListCmd)
	rootCmd.AddCommand(dealCmd)
}
