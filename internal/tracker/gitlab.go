package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"basegraph.app/testgen/common"
	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/model"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// GitLab relation types. Anything else is stored as relates_to.
var gitlabLinkTypes = map[string]bool{
	"relates_to":    true,
	"blocks":        true,
	"is_blocked_by": true,
}

// gitLabStore keeps all issues of one project. Keys are "<prefix>-<iid>",
// epics and documentation refs are carried in scoped labels.
type gitLabStore struct {
	client *gitlab.Client
	cfg    config.TrackerConfig
}

func NewGitLab(cfg config.TrackerConfig) (IssueStore, error) {
	client, err := newGitLabClient(cfg.BaseURL, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &gitLabStore{client: client, cfg: cfg}, nil
}

func newGitLabClient(baseURL, token string) (*gitlab.Client, error) {
	if baseURL == "" {
		return gitlab.NewClient(token)
	}
	apiURL := strings.TrimSuffix(baseURL, "/") + "/api/v4"
	return gitlab.NewClient(token, gitlab.WithBaseURL(apiURL))
}

func (s *gitLabStore) GetIssue(ctx context.Context, key string) (*model.Issue, error) {
	iid, err := s.parseKey(key)
	if err != nil {
		return nil, err
	}

	issue, _, err := s.client.Issues.GetIssue(s.cfg.Project, iid, nil, gitlab.WithContext(ctx))
	if err != nil {
		if isGitLabNotFound(err) {
			return nil, fmt.Errorf("gitlab issue %s: %w", key, ErrIssueNotFound)
		}
		return nil, fmt.Errorf("fetching issue from gitlab: %w", err)
	}

	relations, _, err := s.client.IssueLinks.ListIssueRelations(s.cfg.Project, iid, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetching issue links from gitlab: %w", err)
	}

	return s.mapToIssue(issue, relations), nil
}

func (s *gitLabStore) GetLinkedKeys(ctx context.Context, key string, relations []string) ([]string, error) {
	return linkedKeys(ctx, s, key, relations)
}

func (s *gitLabStore) CreateTestCase(ctx context.Context, fields model.TestCaseFields) (string, error) {
	labels := gitlab.LabelOptions(append([]string{
		"test-case",
		"scope::" + strings.ToLower(fields.TestScope),
		"execution::" + strings.ToLower(fields.ExecutionMode),
		"automation::" + strings.ToLower(fields.AutomationCandidate),
	}, fields.Labels...))

	if !s.ownsProject(fields.Project) {
		return "", fmt.Errorf("gitlab test case in project %q: %w", fields.Project, ErrForeignProject)
	}

	issue, _, err := s.client.Issues.CreateIssue(s.cfg.Project, &gitlab.CreateIssueOptions{
		Title:       gitlab.Ptr(fields.Summary),
		Description: gitlab.Ptr(fields.Description),
		Labels:      &labels,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("creating gitlab test case: %w", err)
	}
	return s.formatKey(issue.IID), nil
}

func (s *gitLabStore) LinkIssues(ctx context.Context, inwardKey, outwardKey, relation string) error {
	source, err := s.parseKey(outwardKey)
	if err != nil {
		return err
	}
	target, err := s.parseKey(inwardKey)
	if err != nil {
		return err
	}

	linkType := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(relation), " ", "_"))
	if !gitlabLinkTypes[linkType] {
		linkType = "relates_to"
	}

	_, _, err = s.client.IssueLinks.CreateIssueLink(s.cfg.Project, source, &gitlab.CreateIssueLinkOptions{
		TargetProjectID: gitlab.Ptr(s.cfg.Project),
		TargetIssueIID:  gitlab.Ptr(strconv.FormatInt(target, 10)),
		LinkType:        gitlab.Ptr(linkType),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("linking %s -> %s (%s): %w", inwardKey, outwardKey, relation, err)
	}
	return nil
}

// ownsProject reports whether project names this store's project. Keys and
// links only resolve inside cfg.Project, so the key prefix and an empty
// project both mean it.
func (s *gitLabStore) ownsProject(project string) bool {
	switch strings.TrimSpace(project) {
	case "", s.cfg.Project, s.cfg.KeyPrefix:
		return true
	default:
		return false
	}
}

func (s *gitLabStore) parseKey(key string) (int64, error) {
	prefix := s.cfg.KeyPrefix + "-"
	if !strings.HasPrefix(key, prefix) {
		return 0, fmt.Errorf("gitlab issue %s: key outside project prefix %s: %w", key, s.cfg.KeyPrefix, ErrIssueNotFound)
	}
	iid, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
	if err != nil || iid < 1 {
		return 0, fmt.Errorf("gitlab issue %s: invalid iid: %w", key, ErrIssueNotFound)
	}
	return iid, nil
}

func (s *gitLabStore) formatKey(iid int64) string {
	return fmt.Sprintf("%s-%d", s.cfg.KeyPrefix, iid)
}

func (s *gitLabStore) mapToIssue(issue *gitlab.Issue, relations []*gitlab.IssueRelation) *model.Issue {
	out := &model.Issue{
		Key:         s.formatKey(issue.IID),
		Summary:     issue.Title,
		Description: common.NormalizeWhitespace(issue.Description),
	}

	for _, l := range issue.Labels {
		switch {
		case s.cfg.EpicLabelPrefix != "" && strings.HasPrefix(l, s.cfg.EpicLabelPrefix):
			out.EpicKey = strings.TrimSpace(strings.TrimPrefix(l, s.cfg.EpicLabelPrefix))
		case s.cfg.DocLabelPrefix != "" && strings.HasPrefix(l, s.cfg.DocLabelPrefix):
			out.DocRef = "wiki:" + strings.TrimSpace(strings.TrimPrefix(l, s.cfg.DocLabelPrefix))
		}
	}

	for _, r := range relations {
		if r == nil {
			continue
		}
		out.Links = append(out.Links, model.IssueLink{
			Type:      model.LinkType{Name: r.LinkType, Outward: strings.ReplaceAll(r.LinkType, "_", " ")},
			TargetKey: s.formatKey(r.IID),
		})
	}

	return out
}

func isGitLabNotFound(err error) bool {
	var errResp *gitlab.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode == http.StatusNotFound
	}
	return false
}
