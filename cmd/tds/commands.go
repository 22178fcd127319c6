package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/algsoch/data-science-tool/internal/config"
	"github.com/algsoch/data-science-tool/internal/corpus"
	"github.com/algsoch/data-science-tool/internal/engine"
	"github.com/algsoch/data-science-tool/internal/matcher"
	"github.com/algsoch/data-science-tool/internal/patterns"
	"github.com/algsoch/data-science-tool/internal/resolver"
	"github.com/algsoch/data-science-tool/internal/signature"
)

// ═══════════════════════════════════════════════════════════════════════════
// MATCHING
// ═══════════════════════════════════════════════════════════════════════════

func matchCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "match [query]",
		Short: "Match a question to its handler without resolving files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCorpus(cfg.Paths.CorpusPath)
			if err != nil {
				return err
			}
			m := matcher.New(c,
				matcher.WithThresholds(cfg.Matcher.Thresholds()),
				matcher.WithStrictSimilarity(strict || cfg.Matcher.Strict),
				matcher.WithLogger(logger()),
			)

			result := m.Match(strings.Join(args, " "))
			if jsonOut {
				return printJSON(result)
			}
			renderMatch(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "use the strict similarity threshold")
	return cmd
}

func loadCorpus(path string) (*corpus.Corpus, error) {
	if path == "" {
		return corpus.Default()
	}
	return corpus.Load(path)
}

// ═══════════════════════════════════════════════════════════════════════════
// RESOLUTION
// ═══════════════════════════════════════════════════════════════════════════

func resolveCmd() *cobra.Command {
	var (
		query    string
		category string
		required bool
	)

	cmd := &cobra.Command{
		Use:   "resolve [path]",
		Short: "Resolve the input file for a default path or query",
		Long: `Resolve runs the file resolution chain: the default path, upload markers,
links, recent uploads, path literals, known files, loose names and category
folders, in that order.

  tds resolve GA1/q-extract-csv-zip.zip
  tds resolve --query "The file sales.csv is located at /tmp/sales.csv"
  tds resolve a1b2c3d4 --required`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" && query == "" {
				return errors.New("a path or --query is required")
			}

			ctx, cancel := signalContext()
			defer cancel()

			eng, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			expected := patterns.ParseCategory(category)
			var ref resolver.FileReference
			if required {
				ref, err = eng.GetFile(ctx, path, query, expected, true)
				if err != nil {
					return err
				}
			} else {
				ref = eng.Resolve(ctx, path, query, expected)
			}

			if jsonOut {
				return printJSON(ref)
			}
			renderReference(ref)
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "question text to search for file mentions")
	cmd.Flags().StringVarP(&category, "category", "c", "", "expected category (image, document, data, archive, code)")
	cmd.Flags().BoolVar(&required, "required", false, "fail when the file cannot be found")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════
// ANSWERING
// ═══════════════════════════════════════════════════════════════════════════

func answerCmd() *cobra.Command {
	var (
		file     string
		copyFile bool
		category string
	)

	cmd := &cobra.Command{
		Use:   "answer [query]",
		Short: "Match a question and prepare its input file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			eng, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			req := engine.Request{
				Query:    strings.Join(args, " "),
				Category: patterns.ParseCategory(category),
			}
			if file != "" {
				hint, closeHint, err := fileHint(file, copyFile)
				if err != nil {
					return err
				}
				defer closeHint()
				req.File = hint
			}

			d, err := eng.Answer(ctx, req)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(d)
			}
			renderDispatch(d)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file that accompanies the question")
	cmd.Flags().BoolVar(&copyFile, "copy", false, "store a copy of --file in the uploads directory")
	cmd.Flags().StringVarP(&category, "category", "c", "", "expected input category")
	return cmd
}

// fileHint builds the upload hint for path. With copyData the content is
// stored; otherwise the path is registered in place.
func fileHint(path string, copyData bool) (*engine.FileHint, func(), error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}
	if !copyData {
		return &engine.FileHint{Name: filepath.Base(abs), Path: abs}, func() {}, nil
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, nil, err
	}
	return &engine.FileHint{Name: filepath.Base(abs), Data: f}, func() { _ = f.Close() }, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// CORPUS
// ═══════════════════════════════════════════════════════════════════════════

func corpusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Inspect the question corpus",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every question and its handler",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCorpus(cfg.Paths.CorpusPath)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(c.Records())
			}
			renderRecords(c.Records())
			return nil
		},
	})

	var limit int
	find := &cobra.Command{
		Use:   "find [term]",
		Short: "Fuzzy-search question texts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCorpus(cfg.Paths.CorpusPath)
			if err != nil {
				return err
			}
			hits := c.Find(strings.Join(args, " "), limit)
			if jsonOut {
				return printJSON(hits)
			}
			renderHits(hits)
			return nil
		},
	}
	find.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of results")
	cmd.AddCommand(find)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Check that a questions file loads",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.Paths.CorpusPath
			if len(args) == 1 {
				path = args[0]
			}
			c, err := loadCorpus(path)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s: %d questions\n", okStyle.Render("✓"), c.Source(), c.Len())
			return nil
		},
	})

	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════
// UPLOADS
// ═══════════════════════════════════════════════════════════════════════════

func uploadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Manage the upload registry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered uploads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			eng, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			list, err := eng.Uploads().List(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(list)
			}
			renderUploads(list)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add [file...]",
		Short: "Copy files into the uploads directory and register them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			eng, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			for _, path := range args {
				if err := addUpload(ctx, eng, path); err != nil {
					return err
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Register files as they appear in the uploads directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			eng, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Printf("Watching %s (Ctrl+C to stop)\n", eng.Uploads().Dir())
			return eng.WatchUploads(ctx)
		},
	})

	return cmd
}

func addUpload(ctx context.Context, eng *engine.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	u, err := eng.Uploads().Save(ctx, filepath.Base(path), f)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	if jsonOut {
		return printJSON(u)
	}
	fmt.Printf("%s %s -> %s (%s)\n", okStyle.Render(u.ID), u.OriginalName, u.Path, u.Category)
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// SIGNATURES
// ═══════════════════════════════════════════════════════════════════════════

func signatureCmd() *cobra.Command {
	var threshold int64

	cmd := &cobra.Command{
		Use:   "signature [file...]",
		Short: "Print content signatures",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold == 0 {
				threshold = cfg.Resolver.SignatureThreshold
			}
			s := signature.New(signature.WithThreshold(threshold))

			out := make(map[string]string, len(args))
			for _, path := range args {
				sig, err := s.Compute(path)
				if err != nil {
					return err
				}
				out[path] = sig
				if !jsonOut {
					fmt.Printf("%s  %s\n", sig, path)
				}
			}
			if jsonOut {
				return printJSON(out)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&threshold, "threshold", 0, "full-hash size threshold in bytes (default from config)")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut {
				return printJSON(cfg)
			}
			title("tds Configuration")
			field("Config", getConfigPath())
			field("Base dir", orDefault(cfg.Paths.BaseDir, "(working directory)"))
			field("Corpus", orDefault(cfg.Paths.CorpusPath, "(embedded)"))
			field("Uploads", cfg.Uploads.Dir)
			field("Database", cfg.Uploads.DBPath)
			field("Keyword", cfg.Matcher.KeywordThreshold)
			field("Similarity", cfg.Matcher.SimilarityThreshold)
			field("Strict", cfg.Matcher.Strict)
			field("Cache size", cfg.Resolver.CacheSize)
			field("Recent", cfg.Resolver.RecentWindow)
			field("Attempts", cfg.Download.Attempts)
			field("Backoff", cfg.Download.Backoff)
			field("Timeout", cfg.Download.Timeout)
			field("S3", yesNo(cfg.S3.Enabled))
			field("GitHub token", yesNo(cfg.GitHub.Token != ""))
			field("Log level", cfg.Logging.Level)
			field("Metrics", yesNo(cfg.Metrics.Enabled))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(getConfigPath())
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := getConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().SaveToPath(path); err != nil {
				return err
			}
			fmt.Printf("%s wrote %s\n", okStyle.Render("✓"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// ═══════════════════════════════════════════════════════════════════════════
// METRICS
// ═══════════════════════════════════════════════════════════════════════════

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [query...]",
		Short: "Answer queries and print the collected metrics",
		Long: `Each argument is answered as one query; with no arguments queries are read
from stdin, one per line. The collected metrics are then printed in the
Prometheus text format.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Metrics.Enabled {
				return errors.New("metrics are disabled in the configuration")
			}

			ctx, cancel := signalContext()
			defer cancel()

			eng, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			queries := args
			if len(queries) == 0 {
				queries, err = readLines(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			for _, q := range queries {
				if _, err := eng.Answer(ctx, engine.Request{Query: q}); err != nil {
					log.Warn().Err(err).Str("query", truncate(q, 60)).Msg("answer failed")
				}
			}
			return eng.Metrics().Write(cmd.OutOrStdout())
		},
	}
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
