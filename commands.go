package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"finexplain/app"
	"finexplain/pipeline"
	"finexplain/realtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Run one judgement and print its events as JSON lines",
	Args:  cobra.NoArgs,
	RunE:  runJudge,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Answer one chart question and print its events as JSON lines",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var (
	flagSymbol   string
	flagQuestion string
	flagInterval string
	flagView     string
)

func init() {
	for _, c := range []*cobra.Command{judgeCmd, chatCmd} {
		c.Flags().StringVarP(&flagSymbol, "symbol", "s", "", "Ticker symbol (e.g. AAPL, 005930.KS)")
		c.Flags().StringVarP(&flagQuestion, "question", "q", "", "Question to answer")
		_ = c.MarkFlagRequired("symbol")
	}
	_ = chatCmd.MarkFlagRequired("question")
	chatCmd.Flags().StringVar(&flagInterval, "interval", "1d", "Chart interval on screen")
	chatCmd.Flags().StringVar(&flagView, "view", "chart", "Screen the question was asked from")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	return app.New(cfg, logger).Start()
}

// newCLIApp builds an app without run persistence for one-shot commands
func newCLIApp(ctx context.Context) (*app.App, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, err
	}
	a := app.New(cfg, logger)
	if err := a.Init(ctx, false); err != nil {
		return nil, err
	}
	return a, nil
}

func runJudge(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newCLIApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec := realtime.NewRecorder(os.Stdout)
	_, err = a.Pipeline().RunJudgement(ctx, pipeline.JudgementRequest{
		Symbol:   flagSymbol,
		Question: flagQuestion,
	}, rec)
	return err
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newCLIApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec := realtime.NewRecorder(os.Stdout)
	_, err = a.Pipeline().RunChat(ctx, pipeline.ChatRequest{
		Symbol:   flagSymbol,
		Interval: flagInterval,
		View:     flagView,
		Question: flagQuestion,
	}, rec)
	return err
}
