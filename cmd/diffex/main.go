package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"diffex/adapters/excel"
	"diffex/adapters/postgres"
	"diffex/adapters/tsv"
	"diffex/domain/core"
	"diffex/domain/experiment"
	"diffex/domain/model"
	"diffex/internal/analysis"
	"diffex/internal/config"
	"diffex/internal/fdr"
	"diffex/internal/pca"
	"diffex/ports"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "diffex",
		Short: "Differential abundance testing over bootstrapped quantifications",
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newPCACmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		samplesPath     string
		featuresPath    string
		annotationsPath string
		fullSpec        string
		reducedSpec     string
		waldCoef        string
		testName        string
		outPath         string
		description     string
		saveDB          bool
		withPCA         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load bootstraps, fit models, test, and export results",
		Long: `Run the full pipeline: load per-sample bootstrap tables, estimate
technical variances, fit the full and reduced models, test each feature, and
export the corrected result table.

Formulas are comma-separated terms. A bare name is a numeric covariate; a
"name:reference" pair is a categorical term with the given reference level.

Example:
  diffex run --samples samples.csv --full condition:scrambled --reduced "" \
    --test condition_lrt --out results.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(cmd.Context(), runParams{
				samplesPath:     samplesPath,
				featuresPath:    featuresPath,
				annotationsPath: annotationsPath,
				fullSpec:        fullSpec,
				reducedSpec:     reducedSpec,
				waldCoef:        waldCoef,
				testName:        testName,
				outPath:         outPath,
				description:     description,
				saveDB:          saveDB,
				withPCA:         withPCA,
			})
		},
	}

	cmd.Flags().StringVar(&samplesPath, "samples", "", "CSV sample sheet (sample_id, condition, bootstrap_path, covariates...)")
	cmd.Flags().StringVar(&featuresPath, "features", "", "Optional TSV feature annotation table")
	cmd.Flags().StringVar(&annotationsPath, "annotations", "", "Optional TSV table overriding external names in the output")
	cmd.Flags().StringVar(&fullSpec, "full", "condition", "Full model formula")
	cmd.Flags().StringVar(&reducedSpec, "reduced", "", "Reduced model formula (empty = intercept only)")
	cmd.Flags().StringVar(&waldCoef, "wald", "", "Run a Wald test on this coefficient instead of the likelihood-ratio test")
	cmd.Flags().StringVar(&testName, "test", "condition_test", "Name for the stored test")
	cmd.Flags().StringVar(&outPath, "out", "", "Workbook path (default from DIFFEX_EXPORT_PATH)")
	cmd.Flags().StringVar(&description, "description", "", "Run description for persistence")
	cmd.Flags().BoolVar(&saveDB, "save-db", false, "Persist results to DATABASE_URL")
	cmd.Flags().BoolVar(&withPCA, "pca", false, "Include a PCA sheet in the workbook")
	_ = cmd.MarkFlagRequired("samples")

	return cmd
}

func newPCACmd() *cobra.Command {
	var (
		samplesPath  string
		featuresPath string
		outPath      string
		scale        bool
	)

	cmd := &cobra.Command{
		Use:   "pca",
		Short: "Decompose the observation matrix for sample-level QC",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPCA(cmd.Context(), samplesPath, featuresPath, outPath, scale)
		},
	}

	cmd.Flags().StringVar(&samplesPath, "samples", "", "CSV sample sheet")
	cmd.Flags().StringVar(&featuresPath, "features", "", "Optional TSV feature annotation table")
	cmd.Flags().StringVar(&outPath, "out", "", "Workbook path (default from DIFFEX_EXPORT_PATH)")
	cmd.Flags().BoolVar(&scale, "scale", false, "Scale features to unit variance before decomposition")
	_ = cmd.MarkFlagRequired("samples")

	return cmd
}

type runParams struct {
	samplesPath     string
	featuresPath    string
	annotationsPath string
	fullSpec        string
	reducedSpec     string
	waldCoef        string
	testName        string
	outPath         string
	description     string
	saveDB          bool
	withPCA         bool
}

func runAnalysis(ctx context.Context, p runParams) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := loadContext(ctx, cfg, p.samplesPath, p.featuresPath)
	if err != nil {
		return err
	}

	full, err := parseFormula(p.fullSpec)
	if err != nil {
		return err
	}

	if p.waldCoef != "" {
		if err := a.AddModel("full", full); err != nil {
			return err
		}
		if err := a.Fit(ctx, "full"); err != nil {
			return err
		}
		if err := a.WaldTest(ctx, p.testName, "full", p.waldCoef); err != nil {
			return err
		}
	} else {
		reduced, err := parseFormula(p.reducedSpec)
		if err != nil {
			return err
		}
		if err := a.AddModelPair("full", full, "reduced", reduced); err != nil {
			return err
		}
		for _, name := range []string{"full", "reduced"} {
			if err := a.Fit(ctx, name); err != nil {
				return err
			}
		}
		if err := a.LikelihoodRatioTest(ctx, p.testName, "full", "reduced"); err != nil {
			return err
		}
	}

	annotations, err := resolveAnnotations(ctx, p.annotationsPath, a)
	if err != nil {
		return err
	}
	table, err := a.Results(p.testName, annotations, fdr.Thresholds{
		QValue: cfg.Thresholds.QValue,
		Effect: cfg.Thresholds.Effect,
	})
	if err != nil {
		return err
	}

	significant := 0
	for _, row := range table.Rows {
		if row.Significant {
			significant++
		}
	}
	fmt.Printf("run %s: %d features tested, %d significant at q < %g\n",
		a.ID(), len(table.Rows), significant, cfg.Thresholds.QValue)

	var pcaResult *pca.Result
	if p.withPCA {
		pcaResult, err = a.PCA(nil, pca.Options{})
		if err != nil {
			return err
		}
	}

	outPath := p.outPath
	if outPath == "" {
		outPath = cfg.Export.Path
	}
	if err := excel.NewResultWriter(outPath).Write(table, pcaResult); err != nil {
		return err
	}
	fmt.Printf("results written to %s\n", outPath)

	if p.saveDB {
		if err := persistResults(ctx, cfg, a.ID(), p.description, table); err != nil {
			return err
		}
		fmt.Printf("results stored under run %s\n", a.ID())
	}
	return nil
}

func runPCA(ctx context.Context, samplesPath, featuresPath, outPath string, scale bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := loadContext(ctx, cfg, samplesPath, featuresPath)
	if err != nil {
		return err
	}

	result, err := a.PCA(nil, pca.Options{Scale: scale})
	if err != nil {
		return err
	}
	for k, c := range result.Components {
		fmt.Printf("component %d: %.1f%% of variance\n", c, 100*result.Explained[k])
	}

	if outPath == "" {
		outPath = cfg.Export.Path
	}
	empty := &model.ResultTable{}
	if err := excel.NewResultWriter(outPath).Write(empty, result); err != nil {
		return err
	}
	fmt.Printf("scores written to %s\n", outPath)
	return nil
}

// loadContext assembles an analysis from a sample sheet: features come from
// the annotation table when given, otherwise from the first sample's
// bootstrap table.
func loadContext(ctx context.Context, cfg *config.Config, samplesPath, featuresPath string) (*analysis.Analysis, error) {
	registry, err := tsv.LoadSampleSheet(samplesPath)
	if err != nil {
		return nil, err
	}

	var features *experiment.FeatureSet
	if featuresPath != "" {
		features, err = tsv.LoadFeatureTable(featuresPath)
	} else {
		first := registry.Samples()[0]
		features, err = tsv.FeaturesFromBootstrapTable(first.BootstrapPath)
	}
	if err != nil {
		return nil, err
	}

	a := analysis.New(registry, features, cfg.Engine)
	if err := a.LoadBootstraps(ctx, tsv.NewLoader()); err != nil {
		return nil, err
	}
	return a, nil
}

// resolveAnnotations looks up external names for the run's features from an
// optional annotation table
func resolveAnnotations(ctx context.Context, path string, a *analysis.Analysis) (map[core.FeatureID]string, error) {
	if path == "" {
		return nil, nil
	}
	var source ports.AnnotationSource
	source, err := tsv.NewAnnotationTable(path)
	if err != nil {
		return nil, err
	}
	return source.ExternalNames(ctx, a.Features().IDs())
}

func persistResults(ctx context.Context, cfg *config.Config, runID core.RunID, description string, table *model.ResultTable) error {
	if cfg.Database.URL == "" {
		return core.ConfigError("DATABASE_URL is not set; cannot persist results")
	}
	db, err := postgres.Connect(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return err
	}
	repo := postgres.NewResultRepository(db)
	if err := repo.CreateRun(ctx, ports.RunRecord{ID: runID, Description: description}); err != nil {
		return err
	}
	return repo.SaveResults(ctx, runID, table)
}

func parseFormula(spec string) (model.Formula, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return model.NewFormula(), nil
	}
	var terms []model.Term
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 2)
		term := model.Term{Covariate: strings.TrimSpace(parts[0])}
		if len(parts) == 2 {
			term.Reference = strings.TrimSpace(parts[1])
		}
		if term.Covariate == "" {
			return model.Formula{}, core.ConfigError("formula term %q has no covariate name", raw)
		}
		terms = append(terms, term)
	}
	return model.NewFormula(terms...), nil
}
