package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sidewalksort/internal/feature"
	"github.com/sells-group/sidewalksort/internal/pipeline"
	"github.com/sells-group/sidewalksort/internal/roster"
	"github.com/sells-group/sidewalksort/internal/route"
	"github.com/sells-group/sidewalksort/pkg/geocode"
)

// routeOptions holds the route command flags.
type routeOptions struct {
	Features     string
	Roster       string
	RouteLine    string
	Start        string
	StartAddress string
	Graph        string
	Strategy     string
	LoopBack     bool
	Output       string
	Format       string
	PathOutput   string
	Workers      int
	Offline      bool
}

var routeOpts routeOptions

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Resolve, dedupe and sequence the features of an area into a walking list",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if !cmd.Flags().Changed("strategy") {
			routeOpts.Strategy = cfg.Route.Strategy
		}
		if !cmd.Flags().Changed("loop-back") {
			routeOpts.LoopBack = cfg.Route.LoopBack
		}
		if !cmd.Flags().Changed("format") {
			routeOpts.Format = cfg.Export.Format
		}

		env, err := initPipeline(ctx, routeOpts.Offline, routeOpts.Workers)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := runRoute(ctx, env, routeOpts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Summary())
		for _, w := range res.Warnings {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}
		return nil
	},
}

// runRoute loads the inputs named by opts, runs the pipeline and writes the exports.
func runRoute(ctx context.Context, env *pipelineEnv, opts routeOptions) (*pipeline.Result, error) {
	in, graph, err := loadInput(ctx, env, opts)
	if err != nil {
		return nil, err
	}

	res, err := env.Driver.Run(ctx, in)
	if err != nil {
		return nil, err
	}

	output := opts.Output
	if output == "" {
		output = pipeline.DefaultOutput
	}
	if err := pipeline.Export(res.Rows, output, opts.Format); err != nil {
		return nil, err
	}
	zap.L().Info("route exported",
		zap.String("run_id", res.RunID),
		zap.String("output", output),
		zap.Int("rows", len(res.Rows)),
		zap.String("strategy", string(res.Strategy)),
	)

	if opts.PathOutput != "" {
		if graph == nil || len(res.Path) == 0 {
			zap.L().Warn("no walking path to write", zap.String("path_output", opts.PathOutput))
			return res, nil
		}
		data, err := route.PathGeoJSON(graph, res.Path, map[string]any{"run_id": res.RunID})
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(opts.PathOutput, data, 0o644); err != nil {
			return nil, eris.Wrap(err, "route: write path")
		}
	}
	return res, nil
}

func loadInput(ctx context.Context, env *pipelineEnv, opts routeOptions) (pipeline.Input, *route.Graph, error) {
	var in pipeline.Input

	if opts.Features == "" {
		return in, nil, eris.New("route: --features is required")
	}

	if env.Sources != nil {
		dir, err := os.MkdirTemp("", "sidewalksort-")
		if err != nil {
			return in, nil, eris.Wrap(err, "route: create download dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		for _, src := range []*string{&opts.Features, &opts.Roster, &opts.RouteLine, &opts.Graph} {
			if *src == "" {
				continue
			}
			if *src, err = env.Sources.Localize(ctx, *src, dir); err != nil {
				return in, nil, err
			}
		}
	}
	features, err := feature.Load(opts.Features)
	if err != nil {
		return in, nil, err
	}
	in.Features = features

	if opts.Roster != "" {
		if in.Roster, err = roster.Load(ctx, opts.Roster); err != nil {
			return in, nil, err
		}
	}

	if in.Route.Strategy, err = route.ParseStrategy(opts.Strategy); err != nil {
		return in, nil, err
	}
	in.Route.LoopBack = opts.LoopBack

	if opts.RouteLine != "" {
		if in.Route.RouteLine, err = route.LoadLine(opts.RouteLine); err != nil {
			return in, nil, err
		}
	}

	var graph *route.Graph
	if opts.Graph != "" {
		if graph, err = route.LoadGraph(opts.Graph, env.Metric); err != nil {
			return in, nil, err
		}
		in.Route.Graph = graph
	}

	switch {
	case opts.Start != "":
		start, err := parseLatLon(opts.Start)
		if err != nil {
			return in, nil, err
		}
		in.Route.Start = &start
	case opts.StartAddress != "":
		start, err := geocodeStart(ctx, env.Geocoder, opts.StartAddress)
		if err != nil {
			return in, nil, err
		}
		in.Route.Start = &start
	}

	return in, graph, nil
}

// parseLatLon parses "lat,lon".
func parseLatLon(s string) (feature.Coord, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return feature.Coord{}, eris.Errorf("route: start %q is not lat,lon", s)
	}
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if latErr != nil || lonErr != nil {
		return feature.Coord{}, eris.Errorf("route: start %q is not lat,lon", s)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return feature.Coord{}, eris.Errorf("route: start %q out of range", s)
	}
	return feature.Coord{Lat: lat, Lon: lon}, nil
}

func geocodeStart(ctx context.Context, g geocode.Client, address string) (feature.Coord, error) {
	if g == nil {
		return feature.Coord{}, eris.New("route: --start-address needs geocoding (drop --offline)")
	}
	res, err := g.Forward(ctx, address)
	if err != nil {
		return feature.Coord{}, eris.Wrap(err, "route: geocode start address")
	}
	if !res.Matched {
		return feature.Coord{}, eris.Errorf("route: start address %q not found", address)
	}
	zap.L().Info("start address geocoded",
		zap.String("address", address),
		zap.String("source", res.Source),
		zap.Float64("lat", res.Latitude),
		zap.Float64("lon", res.Longitude),
	)
	return feature.Coord{Lat: res.Latitude, Lon: res.Longitude}, nil
}

func init() {
	f := routeCmd.Flags()
	f.StringVar(&routeOpts.Features, "features", "", "feature file or http/ftp URL (GeoJSON or .shp)")
	f.StringVar(&routeOpts.Roster, "roster", "", "roster file or http/ftp URL (CSV or XLSX)")
	f.StringVar(&routeOpts.RouteLine, "route-line", "", "GeoJSON LineString to order stops along")
	f.StringVar(&routeOpts.Start, "start", "", "start point as lat,lon")
	f.StringVar(&routeOpts.StartAddress, "start-address", "", "start address, forward geocoded")
	f.StringVar(&routeOpts.Graph, "graph", "", "walking graph edges (GeoJSON LineStrings with u, v, length)")
	f.StringVar(&routeOpts.Strategy, "strategy", "auto", "auto, route-line, nearest-start, graph or input-order")
	f.BoolVar(&routeOpts.LoopBack, "loop-back", false, "return to the start at the end of a graph walk")
	f.StringVar(&routeOpts.Output, "output", pipeline.DefaultOutput, "export file")
	f.StringVar(&routeOpts.Format, "format", "csv", "export format: csv or xlsx")
	f.StringVar(&routeOpts.PathOutput, "path-output", "", "write the graph walk as a GeoJSON LineString")
	f.IntVar(&routeOpts.Workers, "workers", 0, "concurrent resolutions (default from config)")
	f.BoolVar(&routeOpts.Offline, "offline", false, "skip reverse geocoding")
	rootCmd.AddCommand(routeCmd)
}
