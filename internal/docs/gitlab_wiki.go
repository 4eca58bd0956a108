package docs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"basegraph.app/testgen/common"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

const wikiPrefix = "wiki:"

// GitLabWiki serves "wiki:<slug>" references from one project's wiki.
type GitLabWiki struct {
	client  *gitlab.Client
	project string
}

func NewGitLabWiki(baseURL, token, project string) (*GitLabWiki, error) {
	opts := []gitlab.ClientOptionFunc{}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/api/v4"))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &GitLabWiki{client: client, project: project}, nil
}

func (w *GitLabWiki) Matches(ref string) bool {
	return strings.HasPrefix(ref, wikiPrefix) && len(ref) > len(wikiPrefix)
}

func (w *GitLabWiki) GetDocument(ctx context.Context, ref string) (*Document, error) {
	slug := strings.TrimPrefix(ref, wikiPrefix)

	page, _, err := w.client.Wikis.GetWikiPage(w.project, slug, &gitlab.GetWikiPageOptions{
		RenderHTML: gitlab.Ptr(false),
	}, gitlab.WithContext(ctx))
	if err != nil {
		var errResp *gitlab.ErrorResponse
		if errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("wiki page %s: %w", slug, ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("fetching wiki page %s: %w", slug, err)
	}

	return &Document{
		Ref:   ref,
		Title: page.Title,
		Text:  common.NormalizeWhitespace(page.Content),
	}, nil
}
