package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"deepresearch/config"
	"deepresearch/internal/fetch"
	"deepresearch/internal/oracle"
	"deepresearch/internal/research"
	"deepresearch/internal/search"
	"deepresearch/internal/storage"
	"deepresearch/internal/telemetry"
)

func researchCMD() *cobra.Command {
	var cfgPath string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "research [query]",
		Short: "Run one research session and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			tele := telemetry.NewTelemetry(cfg.Telemetry)
			llm, err := oracle.NewLLMProvider(cfg.Oracle)
			if err != nil {
				return err
			}
			adapter := oracle.NewAdapter(llm, cfg.Oracle,
				tele, log.New(log.Writer(), "[ORACLE] ", log.LstdFlags))
			searcher, err := search.NewMultiSearcher(cfg.Search,
				log.New(log.Writer(), "[SEARCH] ", log.LstdFlags))
			if err != nil {
				return err
			}
			store := storage.NewStorage(cfg.Storage, cfg.Crawl.HistoryLimit,
				log.New(log.Writer(), "[STORAGE] ", log.LstdFlags))
			fetcher := fetch.NewChromeFetcher(cfg.Fetch,
				log.New(log.Writer(), "[FETCH] ", log.LstdFlags))
			sink := research.LoggerSink{Logger: log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)}

			engine := research.NewEngine(cfg, adapter, fetcher, searcher, store, sink, tele, nil)

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			sess, err := engine.Run(ctx, query)
			if err != nil {
				return err
			}

			fmt.Printf("\nSession %s finished: %s\n", sess.ID, sess.Status)
			fmt.Printf("Pages fetched: %d (max depth %d, %d errors)\n",
				sess.TotalPages, sess.MaxDepthReached, sess.Metadata.ErrorCount)
			if sess.Metadata.AITokensUsed > 0 {
				fmt.Printf("Tokens used: %d (est. cost $%.4f)\n",
					sess.Metadata.AITokensUsed, sess.Metadata.EstimatedCost)
			}
			if sess.Summary != "" {
				fmt.Printf("\nSummary:\n%s\n", sess.Summary)
			}
			fmt.Printf("\nAnswer (confidence %.2f):\n%s\n", sess.Confidence, sess.FinalAnswer)

			tele.LogSummary()
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall session timeout")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
