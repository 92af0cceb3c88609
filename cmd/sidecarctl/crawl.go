package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/use-agent/shopcrawl/models"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl task through a fresh sidecar",
		Long: `Crawl starts the sidecar, dispatches one task built from flags, prints the
CrawlResult as JSON and stops the sidecar.

Examples:
  # Single product
  sidecarctl crawl --type product --platform jd --url https://item.jd.com/100012043978.html

  # Two pages of a listing
  sidecarctl crawl --type list --platform amazon --url "https://www.amazon.com/s?k=mouse" \
    --options '{"maxPages":2}'

  # Search
  sidecarctl crawl --type search --platform taobao --keyword 键盘 --options '{"maxResults":10}'

  # Batch
  sidecarctl crawl --type batch --platform jd --urls https://item.jd.com/1.html,https://item.jd.com/2.html`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}

	cmd.Flags().StringP("type", "t", "product",
		"Task type: single_product|product_list|search_products|batch_crawl (or product|list|search|batch)")
	cmd.Flags().StringP("platform", "p", "", "Platform name (taobao, jd, amazon)")
	cmd.Flags().StringP("url", "u", "", "Target URL for product and list tasks")
	cmd.Flags().StringSlice("urls", nil, "Comma-separated URLs for batch tasks")
	cmd.Flags().StringP("keyword", "k", "", "Keyword for search tasks")
	cmd.Flags().StringP("options", "o", "", "Task options as a JSON object")
	cmd.Flags().String("id", "", "Task ID (generated when empty)")

	_ = cmd.MarkFlagRequired("platform")

	return cmd
}

// taskFromFlags builds and validates a CrawlTask from the crawl flags.
func taskFromFlags(cmd *cobra.Command) (*models.CrawlTask, error) {
	typ, _ := cmd.Flags().GetString("type")
	platform, _ := cmd.Flags().GetString("platform")
	url, _ := cmd.Flags().GetString("url")
	urls, _ := cmd.Flags().GetStringSlice("urls")
	keyword, _ := cmd.Flags().GetString("keyword")
	rawOpts, _ := cmd.Flags().GetString("options")
	id, _ := cmd.Flags().GetString("id")

	task := &models.CrawlTask{
		ID:       id,
		Type:     models.ParseTaskType(typ),
		Platform: platform,
		URL:      url,
		URLs:     urls,
		Keyword:  keyword,
	}
	if rawOpts != "" {
		if err := json.Unmarshal([]byte(rawOpts), &task.Options); err != nil {
			return nil, fmt.Errorf("invalid --options: %w", err)
		}
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	task, err := taskFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx, stop := notifyContext(cmd)
	defer stop()

	sup := supervisorFor(cmd)
	defer sup.Close()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sidecar: %w", err)
	}

	res, err := sup.Crawl(ctx, task)
	if err != nil {
		return err
	}
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if !res.Success {
		return errors.New("crawl failed: " + res.Code)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// notifyContext cancels on SIGINT or SIGTERM so deferred cleanup stops the
// sidecar.
func notifyContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
