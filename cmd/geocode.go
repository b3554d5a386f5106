package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	geocodeLat     float64
	geocodeLon     float64
	geocodeAddress string
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Reverse and forward geocode through the configured providers",
}

var geocodeReverseCmd = &cobra.Command{
	Use:   "reverse",
	Short: "Print the address nearest to a coordinate",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, pool, err := initGeocoder(cmd.Context(), cfg.Geocode)
		if err != nil {
			return err
		}
		if pool != nil {
			defer pool.Close()
		}

		place, err := client.Reverse(cmd.Context(), geocodeLat, geocodeLon)
		if err != nil {
			return eris.Wrap(err, "geocode reverse")
		}
		return printJSON(cmd, map[string]any{"address": place.Address(), "place": place})
	},
}

var geocodeForwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Print the coordinate of an address",
	RunE: func(cmd *cobra.Command, args []string) error {
		if geocodeAddress == "" {
			return eris.New("geocode forward: --address is required")
		}
		client, pool, err := initGeocoder(cmd.Context(), cfg.Geocode)
		if err != nil {
			return err
		}
		if pool != nil {
			defer pool.Close()
		}

		res, err := client.Forward(cmd.Context(), geocodeAddress)
		if err != nil {
			return eris.Wrap(err, "geocode forward")
		}
		return printJSON(cmd, res)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode output")
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func init() {
	geocodeReverseCmd.Flags().Float64Var(&geocodeLat, "lat", 0, "latitude")
	geocodeReverseCmd.Flags().Float64Var(&geocodeLon, "lon", 0, "longitude")
	_ = geocodeReverseCmd.MarkFlagRequired("lat")
	_ = geocodeReverseCmd.MarkFlagRequired("lon")
	geocodeForwardCmd.Flags().StringVar(&geocodeAddress, "address", "", "one-line address")

	geocodeCmd.AddCommand(geocodeReverseCmd, geocodeForwardCmd)
	rootCmd.AddCommand(geocodeCmd)
}
