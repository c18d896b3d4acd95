package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/greeneval/internal/bus"
	"github.com/ricesearch/greeneval/internal/evaluation"
	"github.com/ricesearch/greeneval/internal/experiment"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/store"
	"github.com/ricesearch/greeneval/internal/sustainability"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search, evaluate and price a ranking model on one or more datasets",
		Long: `Run every dataset's queries through the engine with the chosen ranking
model, score the results against the dataset's qrels and compute the job's
sustainability cost from its wall-clock duration.

Examples:
  greeneval run --dataset cranfield --model bm25
  greeneval run -d cranfield -d apnews --model query-likelihood --metric precision`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			names, _ := cmd.Flags().GetStringSlice("dataset")
			if len(names) == 0 {
				return apperrors.ValidationError("at least one --dataset is required")
			}
			modelName, _ := cmd.Flags().GetString("model")
			model, err := experiment.ModelFromConfig(a.cfg.Engine, modelName)
			if err != nil {
				return err
			}
			metricName, _ := cmd.Flags().GetString("metric")
			if metricName == "" {
				metricName = a.cfg.Evaluation.Metric
			}
			metric, err := evaluation.ParseMetric(metricName)
			if err != nil {
				return apperrors.ValidationError(err.Error())
			}
			k, _ := cmd.Flags().GetInt("k")
			if k == 0 {
				k = a.cfg.Evaluation.K
			}
			topK, _ := cmd.Flags().GetInt("top-k")
			if topK == 0 {
				topK = a.cfg.Engine.TopK
			}
			buildIndex, _ := cmd.Flags().GetBool("build-index")
			saveResults, _ := cmd.Flags().GetBool("save-results")
			compress, _ := cmd.Flags().GetBool("compress")

			reqs := make([]experiment.Request, len(names))
			for i, name := range names {
				reqs[i] = experiment.Request{
					Dataset:     name,
					Model:       model,
					Metric:      metric,
					K:           k,
					TopK:        topK,
					BuildIndex:  buildIndex,
					SaveResults: saveResults || compress,
				}
			}

			runs, err := a.newRunner(compress).RunAll(cmd.Context(), reqs)
			if err != nil {
				return err
			}

			history, err := a.openRuns(cmd.Context())
			if err != nil {
				return err
			}
			for _, run := range runs {
				if err := history.Save(cmd.Context(), run); err != nil {
					return err
				}
			}

			if a.jsonOut {
				return a.printJSON(runs)
			}
			for _, run := range runs {
				printRun(a.out, run)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceP("dataset", "d", nil, "dataset name (repeatable)")
	cmd.Flags().String("model", "", "ranking model (bm25, rm3-pseudo-relevance, query-likelihood)")
	cmd.Flags().StringP("metric", "m", "", "metric (ndcg, precision)")
	cmd.Flags().IntP("k", "k", 0, "rank cutoff")
	cmd.Flags().Int("top-k", 0, "hits requested per query")
	cmd.Flags().Bool("build-index", false, "index the processed corpus before searching")
	cmd.Flags().Bool("save-results", false, "write the ranked results to the results directory")
	cmd.Flags().Bool("compress", false, "zstd-compress saved results (implies --save-results)")
	return cmd
}

func printRun(w io.Writer, run *store.Run) {
	fmt.Fprintf(w, "%s  %s\n", run.Dataset, run.Model)
	fmt.Fprintf(w, "  %s@%d: %.4f (%d queries)\n", run.Metric, run.K, run.Value, run.Evaluated)
	fmt.Fprintf(w, "  time: %.2fs  energy: %.3f kJ\n", run.Seconds, run.Kilojoules)
	printRange(w, "JSC", run.JSC, "gCO2e")
	printRange(w, "ASC", run.ASC, "gCO2e")
	printRange(w, "SCR", run.SCR, "gCO2e/s")
	fmt.Fprintf(w, "  id: %s\n", run.ID)
}

func printRange(w io.Writer, label string, r sustainability.Range, unit string) {
	if r.Min == r.Max {
		fmt.Fprintf(w, "  %s: %.6g %s\n", label, r.Min, unit)
		return
	}
	fmt.Fprintf(w, "  %s: %.6g - %.6g %s\n", label, r.Min, r.Max, unit)
}

func costCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Price a job of the given duration",
		Long: `Compute the job sustainability cost (JSC), amortized cost (ASC) and cost
rate (SCR) for a job that ran for --seconds on the configured hardware.

Example:
  greeneval cost --seconds 120 --mix coal=0.6,wind=0.4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			seconds, _ := cmd.Flags().GetFloat64("seconds")
			if seconds <= 0 {
				return apperrors.ValidationError("--seconds must be positive")
			}

			mix := a.mix
			if raw, _ := cmd.Flags().GetString("mix"); raw != "" {
				if mix, err = parseMix(raw); err != nil {
					return err
				}
			}
			hw := a.hardware
			if cmd.Flags().Changed("watts") {
				hw.Watts, _ = cmd.Flags().GetFloat64("watts")
			}

			assessment, err := a.accountant.Assess(sustainability.Job{
				Duration: time.Duration(seconds * float64(time.Second)),
				Mix:      mix,
				Hardware: hw,
			})
			if err != nil {
				return err
			}

			if a.jsonOut {
				return a.printJSON(assessment)
			}
			fmt.Fprintf(a.out, "time: %.2fs  energy: %.3f kJ\n", assessment.Seconds, assessment.Kilojoules)
			printRange(a.out, "JSC", assessment.JSC, "gCO2e")
			printRange(a.out, "ASC", assessment.ASC, "gCO2e")
			printRange(a.out, "SCR", assessment.SCR, "gCO2e/s")
			return nil
		},
	}

	cmd.Flags().Float64P("seconds", "s", 0, "job duration in seconds")
	cmd.Flags().String("mix", "", "energy mix as source=share pairs, e.g. coal=0.7,wind=0.3")
	cmd.Flags().Float64("watts", 0, "average power draw (default from config)")
	return cmd
}

// parseMix parses "source=share,..." into an energy mix.
func parseMix(raw string) (sustainability.EnergyMix, error) {
	mix := make(sustainability.EnergyMix)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		source, share, ok := strings.Cut(part, "=")
		if !ok {
			return nil, apperrors.ValidationError(fmt.Sprintf("invalid mix entry %q (want source=share)", part))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(share), 64)
		if err != nil {
			return nil, apperrors.ValidationError(fmt.Sprintf("invalid share for %s: %q", source, share))
		}
		mix[strings.ToLower(strings.TrimSpace(source))] += v
	}
	if len(mix) == 0 {
		return nil, apperrors.ValidationError("energy mix is empty")
	}
	return mix, nil
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run history",
	}
	cmd.AddCommand(runsListCmd(), runsShowCmd(), runsDeleteCmd(), runsImportCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.openRuns(cmd.Context())
			if err != nil {
				return err
			}
			opts := store.ListOptions{}
			opts.Dataset, _ = cmd.Flags().GetString("dataset")
			opts.Limit, _ = cmd.Flags().GetInt("limit")
			runs, err := history.List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if a.jsonOut {
				return a.printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.out, "No runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATASET\tMODEL\tMETRIC\tVALUE\tSECONDS\tJSC (gCO2e)\tCREATED")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s@%d\t%.4f\t%.2f\t%.4g-%.4g\t%s\n",
					run.ID, run.Dataset, run.Model, run.Metric, run.K, run.Value,
					run.Seconds, run.JSC.Min, run.JSC.Max, run.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringP("dataset", "d", "", "only runs of this dataset")
	cmd.Flags().IntP("limit", "n", 20, "maximum runs to list (0 for all)")
	return cmd
}

func runsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.openRuns(cmd.Context())
			if err != nil {
				return err
			}
			run, err := history.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(run)
			}
			printRun(a.out, run)
			return nil
		},
	}
}

func runsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.openRuns(cmd.Context())
			if err != nil {
				return err
			}
			if err := history.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted run %s\n", args[0])
			return nil
		},
	}
}

func runsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Record the completed runs of an event journal",
		Long: `Read run completion events from an event journal (bus.journal_path) and
save them to the run store. Runs already present are overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			path, _ := cmd.Flags().GetString("journal")
			if path == "" {
				path = a.cfg.Bus.JournalPath
			}
			if path == "" {
				return apperrors.ValidationError("--journal is required when bus.journal_path is not set")
			}
			filter := bus.JournalFilter{Topics: []string{bus.TopicRunCompleted}}
			if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			entries, err := bus.ReadJournal(path, filter)
			if err != nil {
				return err
			}
			history, err := a.openRuns(cmd.Context())
			if err != nil {
				return err
			}
			recorder := bus.NewRecorder(history, a.log)
			for _, e := range entries {
				if err := recorder.Handle(cmd.Context(), e.Event); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "Imported %d runs from %s\n", len(entries), path)
			return nil
		},
	}

	cmd.Flags().String("journal", "", "event journal file (default from config)")
	cmd.Flags().Duration("since", 0, "only runs completed within this window, e.g. 24h")
	return cmd
}
