package tracker

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/model"
)

// ErrIssueNotFound is returned when the tracker has no issue for a key.
var ErrIssueNotFound = errors.New("issue not found")

// ErrForeignProject is returned when a test case targets a project the
// store cannot create and link issues in.
var ErrForeignProject = errors.New("project not served by this tracker")

// IssueStore is the tracker surface the pipeline needs: read issues and their
// links, create test cases, link issues.
type IssueStore interface {
	GetIssue(ctx context.Context, key string) (*model.Issue, error)
	GetLinkedKeys(ctx context.Context, key string, relations []string) ([]string, error)
	CreateTestCase(ctx context.Context, fields model.TestCaseFields) (string, error)
	// LinkIssues links two issues with relation; inwardKey is the side the
	// relation's inward phrasing describes.
	LinkIssues(ctx context.Context, inwardKey, outwardKey, relation string) error
}

func New(cfg config.TrackerConfig) (IssueStore, error) {
	switch cfg.Provider {
	case config.TrackerJira:
		return NewJira(cfg)
	case config.TrackerGitLab:
		return NewGitLab(cfg)
	default:
		return nil, fmt.Errorf("unsupported tracker provider: %s", cfg.Provider)
	}
}

// linkedKeys is shared by adapters whose GetIssue already carries links.
func linkedKeys(ctx context.Context, s IssueStore, key string, relations []string) ([]string, error) {
	issue, err := s.GetIssue(ctx, key)
	if err != nil {
		return nil, err
	}
	return issue.LinkedKeys(relations), nil
}
