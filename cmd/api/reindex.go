package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quill/api/internal/logging"
	"quill/api/internal/search"
	"quill/api/internal/store"
)

type postScanner interface {
	ScanPosts(ctx context.Context, batch int, fn func([]store.Post) error) error
}

type postReindexer interface {
	Reindex(posts []store.Post) error
}

func newReindexCommand(opts *rootOptions) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Push every post into the Meilisearch index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batch < 1 {
				return fmt.Errorf("--batch must be at least 1")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.MeiliURL) == "" {
				return fmt.Errorf("MEILI_URL is not configured")
			}
			logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

			meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
			defer meiliClient.Close()
			if !meiliClient.Healthy() {
				return fmt.Errorf("meilisearch at %s is not reachable", cfg.MeiliURL)
			}

			b, err := openBackends(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.close()

			searchService := search.NewService(meiliClient, b.posts, logger)
			defer searchService.Close()

			started := time.Now()
			total, err := reindexAll(cmd.Context(), b.posts, searchService, batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d posts in %s\n", total, time.Since(started).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 500, "posts pushed to the index per request")
	return cmd
}

// reindexAll pages through every stored post and pushes each page to the index.
func reindexAll(ctx context.Context, posts postScanner, index postReindexer, batch int) (int, error) {
	total := 0
	err := posts.ScanPosts(ctx, batch, func(page []store.Post) error {
		if err := index.Reindex(page); err != nil {
			return fmt.Errorf("reindex after %d posts: %w", total, err)
		}
		total += len(page)
		return nil
	})
	return total, err
}
