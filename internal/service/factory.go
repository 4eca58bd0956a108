// Package service wires configured adapters into the run pipeline.
package service

import (
	"fmt"

	"basegraph.app/testgen/common/llm"
	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/brain"
	"basegraph.app/testgen/internal/docs"
	"basegraph.app/testgen/internal/generation"
	"basegraph.app/testgen/internal/publisher"
	"basegraph.app/testgen/internal/tracker"
)

type Services struct {
	cfg config.Config
}

func NewServices(cfg config.Config) *Services {
	return &Services{cfg: cfg}
}

func (s *Services) Issues() (tracker.IssueStore, error) {
	return tracker.New(s.cfg.Tracker)
}

func (s *Services) Documents() (docs.Multi, error) {
	return docs.New(s.cfg.Docs, s.cfg.Tracker)
}

func (s *Services) Generation() (generation.Service, error) {
	client, err := llm.New(llm.Config{
		Provider: s.cfg.LLM.Provider,
		APIKey:   s.cfg.LLM.APIKey,
		BaseURL:  s.cfg.LLM.BaseURL,
		Model:    s.cfg.LLM.Model,
	})
	if err != nil {
		return nil, err
	}
	return generation.NewLLMService(client, generation.Config{
		MaxTokens:   s.cfg.LLM.MaxTokens,
		Temperature: s.cfg.LLM.Temperature,
		Language:    s.cfg.LLM.Language,
		DebugDir:    s.cfg.DebugDir,
	}), nil
}

func (s *Services) Renderer() *publisher.Renderer {
	return publisher.New(publisher.Config{
		IssueType: s.cfg.Tracker.TestCaseIssueType,
	})
}

// Orchestrator builds the full pipeline. Adapters are created once and
// shared by every stage.
func (s *Services) Orchestrator() (*brain.Orchestrator, error) {
	issues, err := s.Issues()
	if err != nil {
		return nil, fmt.Errorf("issue store: %w", err)
	}
	documents, err := s.Documents()
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}
	gen, err := s.Generation()
	if err != nil {
		return nil, fmt.Errorf("generation: %w", err)
	}

	return brain.NewOrchestrator(brain.Dependencies{
		Issues:     issues,
		Documents:  documents,
		Generation: gen,
		Renderer:   s.Renderer(),
	}, s.cfg.Engine), nil
}
