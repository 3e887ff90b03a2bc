package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
)

const (
	SearchFirecrawl = "firecrawl"
	SearchArxiv     = "arxiv"
)

// Stack holds the long-lived model and search clients. Engines are cheap and
// built per run so each can log to its own sink.
type Stack struct {
	Generator research.Generator
	Searcher  research.Searcher
	cfg       *config.Config
}

func NewStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	llm, err := NewModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	searcher, err := NewSearcher(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Stack{
		Generator: NewLLMGenerator(llm, logger),
		Searcher:  searcher,
		cfg:       cfg,
	}, nil
}

func NewSearcher(cfg *config.Config, logger *slog.Logger) (research.Searcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.SearchBackend {
	case SearchFirecrawl, "":
		if cfg.FirecrawlKey == "" && cfg.FirecrawlBaseURL == search.DefaultFirecrawlURL {
			return nil, errors.New("FIRECRAWL_KEY is not set")
		}
		fc := search.NewFirecrawl(cfg.FirecrawlKey, cfg.FirecrawlBaseURL)
		fc.Logger = logger
		return fc, nil
	case SearchArxiv:
		a := search.NewArxiv()
		a.Logger = logger
		return a, nil
	default:
		return nil, fmt.Errorf("invalid search backend: %s", cfg.SearchBackend)
	}
}

// Engine builds a research engine that logs to logger.
func (s *Stack) Engine(logger *slog.Logger) *research.Engine {
	return research.NewEngine(s.Generator, s.Searcher,
		research.WithLogger(logger),
		research.WithConcurrency(s.cfg.ConcurrencyLimit),
		research.WithModel(s.cfg.FastModel),
		research.WithReportModel(s.cfg.ReasoningModel),
		research.WithSearchTimeout(s.cfg.SearchTimeout),
		research.WithGenerationTimeout(s.cfg.GenerationTimeout),
	)
}
