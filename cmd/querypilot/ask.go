package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rahul/querypilot/internal/events"
	"github.com/rahul/querypilot/internal/pipeline"
	"github.com/rahul/querypilot/pkg/config"
)

var askTenant string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question and print the event stream as NDJSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askTenant, "tenant", "t", "", "tenant to query")
	_ = askCmd.MarkFlagRequired("tenant")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// stdout carries the event stream only.
	a, err := newApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	question := strings.Join(args, " ")
	req, err := pipeline.NewRequest(askTenant, "cli:"+askTenant, []pipeline.Turn{{Role: "user", Content: question}})
	if err != nil {
		return err
	}
	if summary, err := a.store.LastSummary(ctx, req.ConversationID); err == nil {
		req.PriorSummary = summary
	}

	if err := a.pipeline.Run(ctx, req, events.NewSink(os.Stdout)); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
