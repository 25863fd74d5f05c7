package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/qrlbk/IntegrityOS/internal/app"
	"github.com/qrlbk/IntegrityOS/internal/criticality"
	"github.com/qrlbk/IntegrityOS/internal/features"
	"github.com/qrlbk/IntegrityOS/internal/ingestion"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/internal/tabular"
	"github.com/qrlbk/IntegrityOS/internal/training"
)

func importCommand() *cobra.Command {
	var eventsPath, assetsPath, policy string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an inspection file and an optional asset file as one batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ingestion.ParsePolicy(policy)
			if err != nil {
				return err
			}

			events, err := readTable(eventsPath)
			if err != nil {
				return err
			}
			req := ingestion.Request{Events: events, Policy: p}
			if assetsPath != "" {
				if req.Assets, err = readTable(assetsPath); err != nil {
					return err
				}
			}

			return withService(cmd.Context(), func(a *app.App) error {
				result, err := a.Orchestrator.Import(cmd.Context(), req)
				if printErr := printJSON(cmd.OutOrStdout(), result); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&eventsPath, "events", "", "inspection file (.csv or .xlsx)")
	cmd.Flags().StringVar(&assetsPath, "assets", "", "asset file (.csv or .xlsx)")
	cmd.Flags().StringVar(&policy, "policy", string(ingestion.SkipExisting), "skip_existing or replace_all")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

func readTable(path string) (*tabular.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return tabular.Read(path, f)
}

func trainCommand() *cobra.Command {
	var testSize float64

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit a model from every labeled event",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts training.Options
			if cmd.Flags().Changed("test-size") {
				opts.TestSize = &testSize
			}

			return withService(cmd.Context(), func(a *app.App) error {
				result, err := a.Pipeline.Train(cmd.Context(), opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().Float64Var(&testSize, "test-size", 0.2, "held-out fraction")

	return cmd
}

func classifyCommand() *cobra.Command {
	var (
		method, date, description string
		defect                    bool
		param1, param2, param3    float64
		assetYear                 int
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Label one event with the active strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := models.ParseInspectionMethod(method)
			if err != nil {
				return err
			}
			when := time.Now().UTC()
			if date != "" {
				if when, err = time.Parse("2006-01-02", date); err != nil {
					return fmt.Errorf("invalid date %q: %w", date, err)
				}
			}

			input := features.Input{Method: string(m), Date: when, DefectFound: defect}
			flags := cmd.Flags()
			if flags.Changed("param1") {
				input.Param1 = &param1
			}
			if flags.Changed("param2") {
				input.Param2 = &param2
			}
			if flags.Changed("param3") {
				input.Param3 = &param3
			}
			if flags.Changed("asset-year") {
				input.AssetYear = &assetYear
			}

			return withService(cmd.Context(), func(a *app.App) error {
				clf := a.Engine.Select()
				predictions, err := criticality.Predict(clf, []criticality.Event{{Input: input, Description: description}})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"label":         predictions[0].Label,
					"probabilities": predictions[0].Probabilities,
					"strategy":      clf.Strategy(),
					"model_version": clf.Version(),
				})
			})
		},
	}

	cmd.Flags().StringVar(&method, "method", "", "inspection method, e.g. VIK")
	cmd.Flags().StringVar(&date, "date", "", "inspection date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&description, "description", "", "defect description")
	cmd.Flags().BoolVar(&defect, "defect", false, "a defect was found")
	cmd.Flags().Float64Var(&param1, "param1", 0, "primary measurement")
	cmd.Flags().Float64Var(&param2, "param2", 0, "secondary measurement")
	cmd.Flags().Float64Var(&param3, "param3", 0, "tertiary measurement")
	cmd.Flags().IntVar(&assetYear, "asset-year", 0, "asset construction year")
	_ = cmd.MarkFlagRequired("method")

	return cmd
}

func routesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Manage pipeline routes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME...",
		Short: "Register routes so strict imports accept them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(a *app.App) error {
				created, err := a.Store.EnsureRoutes(cmd.Context(), args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d route(s) created, %d already present\n", created, len(args)-created)
				return nil
			})
		},
	})

	return cmd
}

func assetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage registry assets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "locate ID LAT LON",
		Short: "Assign coordinates to an asset and mark it verified",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid asset id %q: %w", args[0], err)
			}
			lat, err := strconv.ParseFloat(args[1], 64)
			if err != nil || lat < -90 || lat > 90 {
				return fmt.Errorf("invalid latitude %q", args[1])
			}
			lon, err := strconv.ParseFloat(args[2], 64)
			if err != nil || lon < -180 || lon > 180 {
				return fmt.Errorf("invalid longitude %q", args[2])
			}

			return withService(cmd.Context(), func(a *app.App) error {
				asset, err := a.Store.AssignCoordinates(cmd.Context(), id, lat, lon)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"external_id":    asset.ExternalID,
					"lat":            asset.Lat,
					"lon":            asset.Lon,
					"location_state": asset.LocationState,
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print registry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(a *app.App) error {
				stats, err := a.Store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	})

	return cmd
}
