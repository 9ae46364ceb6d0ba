package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/screenager/codelens/internal/config"
	"github.com/screenager/codelens/internal/embed"
	"github.com/screenager/codelens/internal/logging"
	"github.com/screenager/codelens/internal/orchestrator"
	"github.com/screenager/codelens/internal/tui"
	"github.com/screenager/codelens/internal/watcher"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "codelens",
		Short: "Code-reuse retrieval for coding agents",
		Long:  "codelens — watches a workspace, indexes it semantically and structurally, and serves a code_reuse_search MCP tool so an agent checks for existing code before writing new code.",
	}
	root.PersistentFlags().StringVar(&configPath, "config-path", "", "path to config.yml (default: $CODELENS_CONFIG_PATH or config.yml)")

	loadConfig := func() (*config.Config, func(), error) {
		path := config.ConfigPathFlag(configPath)
		cfg, err := config.Load(path)
		if err != nil {
			return nil, nil, err
		}
		cleanup := logging.Init(cfg.LogDir, cfg.Debug)
		return cfg, cleanup, nil
	}

	logf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}

	// ---- codelens serve -----------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Watch, index, and serve code_reuse_search over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipeline, err := orchestrator.Build(cfg, logf)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			return pipeline.RunServe(ctx)
		},
	})

	// ---- codelens index -------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "index",
		Short: "One-shot index build (no watch, no LSP, no MCP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipeline, err := orchestrator.Build(cfg, logf)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			workspace := cfg.Search.Fuzzy.WorkspaceURI
			if workspace == "" {
				return fmt.Errorf("workspace_uri is not set in config")
			}

			fmt.Fprintln(os.Stderr, "Indexing workspace…")
			if err := runUntilFirstScanComplete(ctx, pipeline, workspace); err != nil {
				return err
			}
			s := pipeline.Store.Stats()
			fmt.Fprintf(os.Stderr, "Done. %d chunks from %d files indexed.\n", s.NumLiveChunks, s.NumFiles)
			return nil
		},
	})

	// ---- codelens watch ------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Index then keep watching the workspace for changes (no LSP, no MCP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipeline, err := orchestrator.Build(cfg, logf)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			workspace := cfg.Search.Fuzzy.WorkspaceURI
			if workspace == "" {
				return fmt.Errorf("workspace_uri is not set in config")
			}

			fmt.Fprintln(os.Stderr, "Indexing and watching… (Ctrl+C to stop)")
			return pipeline.RunIndexingOnly(ctx, workspace)
		},
	})

	// ---- codelens stats -------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show vector store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			pipeline, err := orchestrator.Build(cfg, logf)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			s := pipeline.Store.Stats()
			fmt.Printf("live chunks:  %d\n", s.NumLiveChunks)
			fmt.Printf("tombstoned:   %d\n", s.NumTombstoned)
			fmt.Printf("files:        %d\n", s.NumFiles)
			fmt.Printf("size:         %d KB\n", s.SizeKB)
			if !s.LastUpdated.IsZero() {
				fmt.Printf("updated:      %s\n", s.LastUpdated.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	})

	// ---- codelens rebuild -----------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Drop and rebuild the vector store from a fresh workspace walk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			workspace := cfg.Search.Fuzzy.WorkspaceURI
			if workspace == "" {
				return fmt.Errorf("workspace_uri is not set in config")
			}
			root, err := watcher.ResolveWorkspace(workspace)
			if err != nil {
				return err
			}
			if err := os.RemoveAll(cfg.Search.Semantic.VectorStorePath); err != nil {
				return fmt.Errorf("clear vector store: %w", err)
			}

			pipeline, err := orchestrator.Build(cfg, logf)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			fmt.Fprintf(os.Stderr, "Rebuilding index for %s…\n", root)
			if err := runUntilFirstScanComplete(ctx, pipeline, workspace); err != nil {
				return err
			}
			s := pipeline.Store.Stats()
			fmt.Fprintf(os.Stderr, "Done. %d chunks from %d files.\n", s.NumLiveChunks, s.NumFiles)
			return nil
		},
	})

	// ---- codelens browse -------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "browse",
		Short: "Interactive console driving code_reuse_search live",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipeline, err := orchestrator.Build(cfg, logf)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			done := make(chan error, 1)
			go func() { done <- pipeline.RunBackingServices(ctx) }()

			m := tui.New(pipeline.Retriever)
			p := tea.NewProgram(m, tea.WithAltScreen())
			_, runErr := p.Run()
			stop()
			<-done
			return runErr
		},
	})

	// ---- codelens bench ---------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "bench",
		Short: "Benchmark tokenizer and ONNX inference speed on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			sem := cfg.Search.Semantic
			fmt.Fprint(os.Stderr, "Loading model… ")
			e, err := embed.New(sem.ModelsDir, sem.OrtLibPath, sem.NumThreads, sem.EmbeddingDim)
			if err != nil {
				return err
			}
			defer e.Close()
			fmt.Fprintln(os.Stderr, "ready.")

			texts := []struct {
				label string
				text  string
			}{
				{"short (8 words) ", "the quick brown fox jumps over the lazy dog"},
				{"medium (50 words)", strings.Repeat("the quick brown fox ", 50)},
				{"long (200 words) ", strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20)},
			}

			fmt.Printf("\n%-20s  %10s  %10s  %10s\n", "text size", "tokenize", "inference", "total")
			fmt.Println(strings.Repeat("─", 55))
			for _, tc := range texts {
				tok, inf, tot, err := e.BenchmarkSingle(tc.text)
				if err != nil {
					return fmt.Errorf("bench %s: %w", tc.label, err)
				}
				fmt.Printf("%-20s  %10s  %10s  %10s\n", tc.label,
					tok.Round(time.Millisecond),
					inf.Round(time.Millisecond),
					tot.Round(time.Millisecond))
			}
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runUntilFirstScanComplete runs Watcher+Chunker+Indexer until the first
// full index scan has been promoted, then cancels the pipeline — the
// one-shot shape `index`/`rebuild` need instead of `watch`'s run-forever.
//
// IMPORTANT: the underlying ONNX inference call is a non-preemptible CGo
// call, so the same hard-exit pattern as the teacher's indexDirs applies:
// a grace period after cancellation, then a forced exit.
func runUntilFirstScanComplete(ctx context.Context, p *orchestrator.Pipeline, workspaceURI string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.RunIndexingOnly(runCtx, workspaceURI) }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			cancel()
			select {
			case err := <-done:
				return err
			case <-time.After(time.Second):
				fmt.Fprintln(os.Stderr, "\n[codelens] exiting.")
				os.Exit(130)
				return nil
			}
		case <-ticker.C:
			if p.FirstIndexScan.Load() {
				cancel()
				<-done
				return nil
			}
		}
	}
}
