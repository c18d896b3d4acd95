package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricesearch/greeneval/internal/dataset"
	"github.com/ricesearch/greeneval/internal/evaluation"
	"github.com/ricesearch/greeneval/internal/experiment"
	"github.com/ricesearch/greeneval/internal/judgment"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/querygen"
)

func preprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Convert a raw corpus into one JSON document per file",
		Long: `Read a corpus with one document per line and write doc<i>.json records
for the engine to index. Use --dataset to resolve both paths from the
registry, or --input and --output for an ad-hoc corpus.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			name, _ := cmd.Flags().GetString("dataset")
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")

			if name != "" {
				ds, err := a.registry.Get(name)
				if err != nil {
					return err
				}
				paths := a.registry.Paths(ds)
				if input == "" {
					input = paths.Corpus
				}
				if output == "" {
					output = paths.Processed
				}
			}
			if input == "" || output == "" {
				return apperrors.ValidationError("either --dataset or both --input and --output are required")
			}

			n, err := dataset.Preprocess(input, output)
			if err != nil {
				return err
			}
			a.log.Info("Preprocessed corpus", "input", input, "output", output, "documents", n)
			if a.jsonOut {
				return a.printJSON(map[string]any{"input": input, "output": output, "documents": n})
			}
			fmt.Fprintf(a.out, "Wrote %d documents to %s\n", n, output)
			return nil
		},
	}

	cmd.Flags().StringP("dataset", "d", "", "registered dataset name")
	cmd.Flags().StringP("input", "i", "", "raw corpus file")
	cmd.Flags().StringP("output", "o", "", "output directory")
	return cmd
}

func querygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "querygen",
		Short: "Generate one query per document by summarization",
		Long: `Summarize each *.txt document in --input, chunk by chunk, and join the
chunk summaries into one query per document. Documents are processed in
natural file name order and the queries are written one per line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			name, _ := cmd.Flags().GetString("dataset")
			if input == "" {
				return apperrors.ValidationError("--input is required")
			}
			if output == "" && name != "" {
				ds, err := a.registry.Get(name)
				if err != nil {
					return err
				}
				output = a.registry.Paths(ds).Queries
			}
			if output == "" {
				return apperrors.ValidationError("either --output or --dataset is required")
			}

			qc := a.cfg.QueryGen
			gcfg := querygen.Config{ChunkSize: qc.ChunkSize, MinLength: qc.MinLength, MaxLength: qc.MaxLength}
			if cmd.Flags().Changed("chunk-size") {
				gcfg.ChunkSize, _ = cmd.Flags().GetInt("chunk-size")
			}
			summarizer := querygen.NewHTTPSummarizer(querygen.HTTPSummarizerConfig{
				BaseURL:           qc.SummarizerURL,
				RequestsPerSecond: qc.RateLimit,
			})
			gen, err := querygen.NewGenerator(gcfg, summarizer, a.log)
			if err != nil {
				return err
			}

			queries, err := gen.GenerateDir(cmd.Context(), input)
			if err != nil {
				return err
			}
			if err := dataset.SaveQueries(output, queries); err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"output": output, "queries": len(queries)})
			}
			fmt.Fprintf(a.out, "Wrote %d queries to %s\n", len(queries), output)
			return nil
		},
	}

	cmd.Flags().StringP("input", "i", "", "directory of *.txt documents")
	cmd.Flags().StringP("output", "o", "", "queries file")
	cmd.Flags().StringP("dataset", "d", "", "write to the registered dataset's queries file")
	cmd.Flags().Int("chunk-size", 0, "maximum chunk length in characters (default from config)")
	return cmd
}

func qrelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qrels",
		Short: "Synthesize relevance judgments by TF-IDF similarity",
		Long: `Rank every document against every query by TF-IDF cosine similarity and
keep the top-k documents whose score exceeds the threshold as relevant.

Joint mode fits one vocabulary over documents and queries. Projected mode
fits it over documents only and uses the configured vector index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			jcfg, err := a.judgmentConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				jcfg.Threshold, _ = cmd.Flags().GetFloat64("threshold")
			}
			if cmd.Flags().Changed("top-k") {
				jcfg.TopK, _ = cmd.Flags().GetInt("top-k")
			}
			if cmd.Flags().Changed("mode") {
				modeName, _ := cmd.Flags().GetString("mode")
				if jcfg.Mode, err = judgment.ParseMode(modeName); err != nil {
					return apperrors.ValidationError(err.Error())
				}
			}

			req := experiment.QrelsRequest{}
			req.Dataset, _ = cmd.Flags().GetString("dataset")
			req.Documents, _ = cmd.Flags().GetString("docs")
			req.Queries, _ = cmd.Flags().GetString("queries")
			req.Output, _ = cmd.Flags().GetString("out")
			req.QueryIDStart, _ = cmd.Flags().GetInt("query-id-start")

			var index judgment.VectorIndex
			if jcfg.Mode == judgment.ModeProjected {
				collection := req.Dataset
				if collection == "" {
					collection = "adhoc"
				}
				if index, err = a.vectorIndex(cmd.Context(), collection); err != nil {
					return err
				}
			}

			pipeline, err := experiment.NewQrelsPipeline(jcfg, index, a.registry, a.bus, a.log)
			if err != nil {
				return err
			}
			judgments, summary, err := pipeline.Synthesize(cmd.Context(), req)
			if err != nil {
				return err
			}

			if a.jsonOut {
				return a.printJSON(summary)
			}
			fmt.Fprintf(a.out, "Synthesized %d judgments for %d queries over %d documents in %.2fs\n",
				len(judgments), summary.Queries, summary.Documents, summary.Seconds)
			if summary.Output != "" {
				fmt.Fprintf(a.out, "Wrote %s\n", summary.Output)
			}
			return nil
		},
	}

	cmd.Flags().StringP("dataset", "d", "", "registered dataset name")
	cmd.Flags().String("docs", "", "processed document directory or JSONL file")
	cmd.Flags().String("queries", "", "queries file")
	cmd.Flags().StringP("out", "o", "", "qrels output file")
	cmd.Flags().Int("query-id-start", 0, "ID of the first query when --dataset is not set")
	cmd.Flags().Float64("threshold", judgment.DefaultThreshold, "minimum cosine similarity")
	cmd.Flags().Int("top-k", judgment.DefaultTopK, "judgments kept per query")
	cmd.Flags().String("mode", "joint", "vocabulary mode (joint, projected)")
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a saved results dump against qrels",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			resultsPath, _ := cmd.Flags().GetString("results")
			qrelsPath, _ := cmd.Flags().GetString("qrels")
			name, _ := cmd.Flags().GetString("dataset")
			if resultsPath == "" {
				return apperrors.ValidationError("--results is required")
			}
			if qrelsPath == "" && name != "" {
				ds, err := a.registry.Get(name)
				if err != nil {
					return err
				}
				qrelsPath = a.registry.Paths(ds).Qrels
			}
			if qrelsPath == "" {
				return apperrors.ValidationError("either --qrels or --dataset is required")
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

			dump, err := dataset.LoadResults(resultsPath)
			if err != nil {
				return err
			}
			qrels, err := dataset.LoadQrels(qrelsPath)
			if err != nil {
				return err
			}

			report, err := evaluation.NewEvaluator(a.log).Evaluate(metric, dump.Results, qrels, k)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(report)
			}
			fmt.Fprintf(a.out, "%s: %.4f (%d queries evaluated)\n", metric.Label(k), report.Value, report.Evaluated())
			if n := len(report.ZeroIDCG); n > 0 {
				fmt.Fprintf(a.out, "  skipped %d queries without relevant documents\n", n)
			}
			if n := len(report.Unjudged); n > 0 {
				fmt.Fprintf(a.out, "  %d result queries have no judgments\n", n)
			}
			return nil
		},
	}

	cmd.Flags().StringP("results", "r", "", "results dump (.json or .json.zst)")
	cmd.Flags().String("qrels", "", "qrels file")
	cmd.Flags().StringP("dataset", "d", "", "use the registered dataset's qrels")
	cmd.Flags().StringP("metric", "m", "", "metric (ndcg, precision)")
	cmd.Flags().IntP("k", "k", 0, "rank cutoff")
	return cmd
}
