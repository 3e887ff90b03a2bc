package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "deep-research",
		Short: "Recursive deep research from the terminal",
		Long: `deep-research plans search queries for a topic, distills learnings from the
results, follows up on what it found level by level, and writes a cited
markdown report.`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadViper(v, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, v, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringP("query", "q", "", "What to research")
	f.IntP("breadth", "b", 4, "Queries per level (1-10)")
	f.IntP("depth", "d", 2, "Recursion levels (1-5)")
	f.StringP("output", "o", "output.md", "Where to write the report")
	f.String("breakdown", "", "Also write the research breakdown as YAML to this path")
	f.Bool("no-feedback", false, "Skip the clarifying questions")
	f.Bool("verbose", false, "Log progress details to stderr")
	f.String("config", "", "Config file (default ./deep-research.yaml)")

	return cmd
}

func loadViper(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("DEEP_RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("deep-research")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config")
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func run(ctx context.Context, v *viper.Viper, in io.Reader, out io.Writer) error {
	level := slog.LevelWarn
	if v.GetBool("verbose") {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Load()
	stack, err := clients.NewStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	engine := stack.Engine(logger)
	p := newPrompter(in, out)

	req, err := gatherRequest(v, p)
	if err != nil {
		return err
	}

	query := req.Query
	if !v.GetBool("no-feedback") {
		query, err = clarify(ctx, engine, p, req.Query)
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nStarting research...")
	view := newProgressView(out)
	result, err := engine.Research(ctx, research.Request{Query: query, Breadth: req.Breadth, Depth: req.Depth}, view.Update)
	view.Stop()
	if err != nil {
		return err
	}

	printSummary(out, result)

	if path := v.GetString("breakdown"); path != "" {
		if err := writeBreakdown(path, query, result); err != nil {
			return err
		}
		fmt.Fprintf(out, "Breakdown saved to %s\n", path)
	}

	fmt.Fprintln(out, "Writing final report...")
	report, err := engine.WriteReport(ctx, query, result.Learnings, result.VisitedURLs)
	if err != nil {
		return err
	}

	output := v.GetString("output")
	if err := os.WriteFile(output, []byte(report), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	fmt.Fprint(out, renderMarkdown(report, 100))
	fmt.Fprintf(out, "\nReport has been saved to %s\n", output)
	return nil
}

// gatherRequest takes values from flags, env or config and asks for the
// ones that were not given.
func gatherRequest(v *viper.Viper, p *prompter) (research.StartRequest, error) {
	req := research.StartRequest{
		Query:   strings.TrimSpace(v.GetString("query")),
		Breadth: v.GetInt("breadth"),
		Depth:   v.GetInt("depth"),
	}

	var err error
	if req.Query == "" {
		if req.Query, err = p.ask("What would you like to research? "); err != nil {
			return req, err
		}
	}
	if !v.IsSet("breadth") {
		if req.Breadth, err = p.askInt("Enter research breadth (recommended 2-10, default 4): ", 4); err != nil {
			return req, err
		}
	}
	if !v.IsSet("depth") {
		if req.Depth, err = p.askInt("Enter research depth (recommended 1-5, default 2): ", 2); err != nil {
			return req, err
		}
	}

	return req, req.Validate()
}

type feedbackGenerator interface {
	GenerateFeedback(ctx context.Context, query string, n int) ([]string, error)
}

// clarify asks the model's follow-up questions and folds the answers into
// the query.
func clarify(ctx context.Context, gen feedbackGenerator, p *prompter, query string) (string, error) {
	questions, err := gen.GenerateFeedback(ctx, query, research.DefaultFeedbackQuestions)
	if err != nil {
		return "", err
	}
	if len(questions) == 0 {
		return query, nil
	}

	fmt.Fprintln(p.out, "\nTo better understand your research needs, please answer these follow-up questions:")
	answers := make([]string, len(questions))
	for i, q := range questions {
		if answers[i], err = p.ask("\n" + q + "\nYour answer: "); err != nil {
			return "", err
		}
	}
	return research.CombineAnswers(query, questions, answers), nil
}
