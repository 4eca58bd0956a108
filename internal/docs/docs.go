package docs

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/testgen/core/config"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUnsupportedRef   = errors.New("no document store accepts this reference")
)

type Document struct {
	Ref   string
	Title string
	Text  string
}

// DocumentStore fetches documentation referenced from issues.
type DocumentStore interface {
	// Matches reports whether ref points into this store.
	Matches(ref string) bool
	GetDocument(ctx context.Context, ref string) (*Document, error)
}

// Multi routes a reference to the first store that matches it.
type Multi []DocumentStore

func (m Multi) Matches(ref string) bool {
	for _, s := range m {
		if s.Matches(ref) {
			return true
		}
	}
	return false
}

func (m Multi) GetDocument(ctx context.Context, ref string) (*Document, error) {
	for _, s := range m {
		if s.Matches(ref) {
			return s.GetDocument(ctx, ref)
		}
	}
	return nil, fmt.Errorf("%s: %w", ref, ErrUnsupportedRef)
}

// New builds the stores enabled by configuration. The result may be empty,
// in which case no reference matches.
func New(cfg config.DocsConfig, tracker config.TrackerConfig) (Multi, error) {
	var stores Multi

	if cfg.ConfluenceEnabled() {
		c, err := NewConfluence(cfg.ConfluenceURL, cfg.ConfluenceToken)
		if err != nil {
			return nil, err
		}
		stores = append(stores, c)
	}

	if cfg.WikiProject != "" && tracker.Provider == config.TrackerGitLab && tracker.Enabled() {
		w, err := NewGitLabWiki(tracker.BaseURL, tracker.Token, cfg.WikiProject)
		if err != nil {
			return nil, err
		}
		stores = append(stores, w)
	}

	return stores, nil
}
