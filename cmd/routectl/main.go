package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/services"

	"github.com/spf13/cobra"
)

var (
	stopsFile string
	startFlag string
	seed      int64
	speedKmh  float64
	algorithm string
)

var rootCmd = &cobra.Command{
	Use:   "routectl",
	Short: "Offline route optimization tool",
	Long:  `Order a stop set from a JSON file with the same heuristics the server uses, without a database.`,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize a stop set and print the plan as JSON",
	RunE:  runOptimize,
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run every algorithm on a stop set and print a summary table",
	RunE:  runCompare,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&stopsFile, "file", "f", "", "JSON file with an array of stops (- for stdin)")
	rootCmd.PersistentFlags().StringVarP(&startFlag, "start", "s", "", "Start point as lat,lon")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "Seed for the stochastic algorithms (0 uses the clock)")
	rootCmd.PersistentFlags().Float64Var(&speedKmh, "speed", services.DefaultAverageSpeedKmh, "Average speed in km/h for arrival estimates")
	_ = rootCmd.MarkPersistentFlagRequired("file")

	optimizeCmd.Flags().StringVarP(&algorithm, "algorithm", "a", string(services.NearestNeighbor), "nearest_neighbor, simulated_annealing or genetic")

	rootCmd.AddCommand(optimizeCmd, compareCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runOptimize(cmd *cobra.Command, args []string) error {
	stops, start, err := loadInput(cmd.InOrStdin())
	if err != nil {
		return err
	}
	kind, err := services.ParseAlgorithm(algorithm)
	if err != nil {
		return err
	}

	res, err := services.Optimize(cmd.Context(), stops, start, kind, runOptions())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(planOutput{
		Sequence:                 res.Sequence,
		TotalDistanceKm:          res.TotalDistanceKm,
		EstimatedDurationMinutes: res.EstimatedDurationMinutes,
		Metadata:                 res.Metadata,
	})
}

func runCompare(cmd *cobra.Command, args []string) error {
	stops, start, err := loadInput(cmd.InOrStdin())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALGORITHM\tDISTANCE_KM\tDURATION_MIN\tITERATIONS\tELAPSED")
	for _, kind := range []services.AlgorithmKind{services.NearestNeighbor, services.SimulatedAnnealing, services.Genetic} {
		began := time.Now()
		res, err := services.Optimize(cmd.Context(), stops, start, kind, runOptions())
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%d\t%d\t%s\n",
			kind, res.TotalDistanceKm, res.EstimatedDurationMinutes, res.Metadata.Iterations, time.Since(began).Round(time.Millisecond))
	}
	return tw.Flush()
}

type planOutput struct {
	Sequence                 []domain.PlannedStop `json:"sequence"`
	TotalDistanceKm          float64              `json:"total_distance_km"`
	EstimatedDurationMinutes int                  `json:"estimated_duration_minutes"`
	Metadata                 services.Metadata    `json:"metadata"`
}

func runOptions() services.Options {
	return services.Options{Seed: seed, AverageSpeedKmh: speedKmh}
}

func loadInput(stdin io.Reader) ([]domain.Stop, *domain.Coordinate, error) {
	var r io.Reader = stdin
	if stopsFile != "-" {
		f, err := os.Open(stopsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open stops file: %w", err)
		}
		defer f.Close()
		r = f
	}

	stops, err := readStops(r)
	if err != nil {
		return nil, nil, err
	}
	start, err := parseStart(startFlag)
	if err != nil {
		return nil, nil, err
	}
	return stops, start, nil
}

func readStops(r io.Reader) ([]domain.Stop, error) {
	var stops []domain.Stop
	if err := json.NewDecoder(r).Decode(&stops); err != nil {
		return nil, fmt.Errorf("parse stops: %w", err)
	}
	for i := range stops {
		if stops[i].ID == "" {
			stops[i].ID = strconv.Itoa(i + 1)
		}
	}
	return stops, nil
}

// parseStart reads "lat,lon". Empty means no start point.
func parseStart(s string) (*domain.Coordinate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("start must be lat,lon: %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("start latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("start longitude: %w", err)
	}

	c := domain.Coordinate{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
