// Command xdmod explores and analyzes raw job-performance data from an
// XDMoD data warehouse.
//
// Usage:
//
//	xdmod describe durations|realms|fields|dimensions|filters [flags]
//	xdmod fetch -realm REALM -start DATE -end DATE [flags]
//	xdmod analyze [flags]
//
// The API token is read from ~/.xdmod-data.env (created with an empty
// placeholder on first run).
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/guptarohit/asciigraph"

	xdmod "github.com/jpwhite4/xdmod-go"
	"github.com/jpwhite4/xdmod-go/dataframe"
	"github.com/jpwhite4/xdmod-go/internal/config"
	"github.com/jpwhite4/xdmod-go/internal/telemetry"
	"github.com/jpwhite4/xdmod-go/regress"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("XDMOD_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: xdmod <describe|fetch|analyze> [flags]")
	}

	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	otelShutdown, err := telemetry.Init(ctx, settings.OTLPEndpoint, settings.ServiceName, version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	switch args[0] {
	case "describe":
		return runDescribe(ctx, settings, args[1:])
	case "fetch":
		return runFetch(ctx, settings, args[1:])
	case "analyze":
		return runAnalyze(ctx, settings, args[1:])
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func connect(settings config.Settings) (*xdmod.Session, error) {
	return xdmod.Connect(xdmod.Config{
		BaseURL:   settings.BaseURL,
		APIToken:  settings.APIToken,
		Timeout:   settings.Timeout,
		CachePath: settings.CachePath,
		CacheTTL:  settings.CacheTTL,
	})
}

// ---------------------------------------------------------------------------
// describe
// ---------------------------------------------------------------------------

func runDescribe(ctx context.Context, settings config.Settings, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: xdmod describe <durations|realms|fields|dimensions|filters> [flags]")
	}
	what := args[0]

	fs := flag.NewFlagSet("describe", flag.ContinueOnError)
	realm := fs.String("realm", "", "realm to inspect (fields, dimensions, filters)")
	dimension := fs.String("dimension", "", "dimension to enumerate values for (filters)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	session, err := connect(settings)
	if err != nil {
		return err
	}
	defer session.Close()

	switch what {
	case "durations":
		durations, err := session.DescribeDurations(ctx)
		if err != nil {
			return err
		}
		for _, d := range durations {
			fmt.Printf("%-20s %s .. %s\n", d.Name, d.StartDate, d.EndDate)
		}
	case "realms":
		realms, err := session.DescribeRawRealms(ctx)
		if err != nil {
			return err
		}
		for _, r := range realms {
			fmt.Printf("%-12s %s\n", r.ID, r.Label)
		}
	case "fields":
		fields, err := session.DescribeRawFields(ctx, *realm)
		if err != nil {
			return err
		}
		for _, f := range fields {
			fmt.Printf("%-40s %s\n", f.ID, f.Label)
		}
	case "dimensions":
		dims, err := session.DescribeDimensions(ctx, *realm)
		if err != nil {
			return err
		}
		for _, d := range dims {
			fmt.Printf("%-24s %s\n", d.ID, d.Label)
		}
	case "filters":
		values, err := session.DescribeFilterValues(ctx, *realm, *dimension)
		if err != nil {
			return err
		}
		for _, v := range values {
			fmt.Printf("%-24s %s\n", v.ID, v.Label)
		}
	default:
		return fmt.Errorf("unknown describe target %q", what)
	}
	return nil
}

// ---------------------------------------------------------------------------
// fetch
// ---------------------------------------------------------------------------

// filterFlag accumulates repeated -filter "Dimension=v1|v2" values.
type filterFlag map[string][]string

func (f filterFlag) String() string { return "" }

func (f filterFlag) Set(value string) error {
	dim, values, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("filter %q must have the form Dimension=value[|value...]", value)
	}
	f[dim] = append(f[dim], strings.Split(values, "|")...)
	return nil
}

func querySpecFlags(fs *flag.FlagSet) (spec *xdmod.QuerySpec, bind func() error) {
	realm := fs.String("realm", "SUPREMM", "realm to query")
	start := fs.String("start", "", "inclusive start date (YYYY-MM-DD)")
	end := fs.String("end", "", "inclusive end date (YYYY-MM-DD)")
	alias := fs.String("duration", "", "named duration alias (alternative to -start/-end)")
	fields := fs.String("fields", "", "comma-separated field list (empty = all fields)")
	progress := fs.Bool("progress", false, "report progress while rows are retrieved")
	filters := filterFlag{}
	fs.Var(filters, "filter", "row filter, Dimension=value[|value...]; repeatable")

	spec = &xdmod.QuerySpec{}
	bind = func() error {
		if *alias != "" {
			spec.Duration = xdmod.DurationAlias(*alias)
		} else {
			spec.Duration = xdmod.Dates(*start, *end)
		}
		spec.Realm = *realm
		if *fields != "" {
			spec.Fields = strings.Split(*fields, ",")
		}
		if len(filters) > 0 {
			spec.Filters = filters
		}
		spec.ShowProgress = *progress
		return nil
	}
	return spec, bind
}

func runFetch(ctx context.Context, settings config.Settings, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	spec, bind := querySpecFlags(fs)
	asCSV := fs.Bool("csv", false, "write CSV to stdout instead of a table")
	maxRows := fs.Int("max-rows", 40, "table rows to display (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := bind(); err != nil {
		return err
	}

	session, err := connect(settings)
	if err != nil {
		return err
	}
	defer session.Close()

	table, err := session.GetRawData(ctx, *spec)
	if err != nil {
		return err
	}

	if *asCSV {
		return writeCSV(os.Stdout, table)
	}
	fmt.Println(table.Render(*maxRows))
	return nil
}

func writeCSV(dst *os.File, table *dataframe.Table) error {
	w := csv.NewWriter(dst)
	cols := table.Columns()
	if err := w.Write(cols); err != nil {
		return err
	}
	record := make([]string, len(cols))
	for i := 0; i < table.NumRows(); i++ {
		for j, col := range cols {
			cell, err := table.At(i, col)
			if err != nil {
				return err
			}
			if cell.Valid {
				record[j] = cell.Value
			} else {
				record[j] = ""
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ---------------------------------------------------------------------------
// analyze
// ---------------------------------------------------------------------------

// defaultAnalyzeFields mirrors the standard job-performance study: one
// target plus seven numeric predictors from the SUPREMM realm.
const defaultAnalyzeFields = "Nodes,Cores,Wall Time,Total Memory Used,CPU User,Net Ib0 Data Received,Mount Point Home Data Written,Memory Used Cov"

func runAnalyze(ctx context.Context, settings config.Settings, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	spec, bind := querySpecFlags(fs)
	target := fs.String("target", "CPU User", "field to predict")
	testFrac := fs.Float64("test-frac", 0.1, "fraction of rows held out for testing")
	seed := fs.Int64("seed", 1, "random seed for the train/test split")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := bind(); err != nil {
		return err
	}
	if len(spec.Fields) == 0 {
		spec.Fields = strings.Split(defaultAnalyzeFields, ",")
	}

	// The session stays open only for the fetch; model training is
	// local work and must not hold network resources.
	table, err := fetchForAnalysis(ctx, settings, *spec)
	if err != nil {
		return err
	}
	slog.Info("raw data retrieved", "rows", table.NumRows(), "columns", len(table.Columns()))

	features := make([]string, 0, len(spec.Fields)-1)
	for _, f := range spec.Fields {
		if f != *target {
			features = append(features, f)
		}
	}
	modelCols := append(append([]string(nil), features...), *target)

	cleaned, err := table.DropMissing(modelCols...)
	if err != nil {
		return err
	}
	slog.Info("dropped rows with missing values", "kept", cleaned.NumRows(), "dropped", table.NumRows()-cleaned.NumRows())

	numeric, err := cleaned.CastFloat64(modelCols...)
	if err != nil {
		return err
	}

	train, test, err := numeric.Split(*testFrac, *seed)
	if err != nil {
		return err
	}
	slog.Info("split rows", "train", train.NumRows(), "test", test.NumRows(), "seed", *seed)

	xTrain, yTrain, err := train.Matrix(features, *target)
	if err != nil {
		return err
	}
	model := regress.NewLinearRegression()
	if err := model.Fit(xTrain, yTrain); err != nil {
		return err
	}

	xTest, yTest, err := test.Matrix(features, *target)
	if err != nil {
		return err
	}
	predicted, err := model.Predict(xTest)
	if err != nil {
		return err
	}

	observed := make([]float64, yTest.Len())
	fitted := make([]float64, yTest.Len())
	for i := range observed {
		observed[i] = yTest.AtVec(i)
		fitted[i] = predicted.AtVec(i)
	}

	r2, err := regress.R2(observed, fitted)
	if err != nil {
		return err
	}
	importances, err := model.FeatureImportances(xTrain)
	if err != nil {
		return err
	}

	fmt.Printf("target: %s\n", *target)
	fmt.Printf("R^2 on %d held-out rows: %.4f\n\n", len(observed), r2)
	fmt.Println("feature importances:")
	for _, i := range sortedByImportance(importances) {
		fmt.Printf("  %-36s %.4f\n", features[i], importances[i])
	}
	fmt.Println()
	fmt.Println(predictionChart(observed, fitted))
	return nil
}

func fetchForAnalysis(ctx context.Context, settings config.Settings, spec xdmod.QuerySpec) (*dataframe.Table, error) {
	session, err := connect(settings)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.GetRawData(ctx, spec)
}

func sortedByImportance(importances []float64) []int {
	order := make([]int, len(importances))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return importances[order[a]] > importances[order[b]] })
	return order
}

// predictionChart plots observed and predicted target values over the
// test rows, sorted by the observed value so trends read left to right.
func predictionChart(observed, predicted []float64) string {
	order := make([]int, len(observed))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return observed[order[a]] < observed[order[b]] })

	obs := make([]float64, len(order))
	pred := make([]float64, len(order))
	for i, idx := range order {
		obs[i] = observed[idx]
		pred[i] = predicted[idx]
	}

	return asciigraph.PlotMany([][]float64{obs, pred},
		asciigraph.Height(12),
		asciigraph.Width(72),
		asciigraph.SeriesLegends("observed", "predicted"),
		asciigraph.Caption("held-out rows, sorted by observed value"),
	)
}
