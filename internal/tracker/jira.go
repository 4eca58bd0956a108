package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"basegraph.app/testgen/common"
	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/model"
	jira "github.com/andygrunwald/go-jira"
	"github.com/trivago/tgo/tcontainer"
)

type jiraStore struct {
	client *jira.Client
	cfg    config.TrackerConfig
}

func NewJira(cfg config.TrackerConfig) (IssueStore, error) {
	tp := jira.BearerAuthTransport{Token: cfg.Token}
	client, err := jira.NewClient(tp.Client(), cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating jira client: %w", err)
	}
	return &jiraStore{client: client, cfg: cfg}, nil
}

func (s *jiraStore) GetIssue(ctx context.Context, key string) (*model.Issue, error) {
	issue, resp, err := s.client.Issue.GetWithContext(ctx, key, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("jira issue %s: %w", key, ErrIssueNotFound)
		}
		return nil, fmt.Errorf("fetching jira issue %s: %w", key, err)
	}
	if issue.Fields == nil {
		return nil, fmt.Errorf("jira issue %s has no fields", key)
	}
	return s.mapToIssue(issue), nil
}

func (s *jiraStore) GetLinkedKeys(ctx context.Context, key string, relations []string) ([]string, error) {
	return linkedKeys(ctx, s, key, relations)
}

func (s *jiraStore) CreateTestCase(ctx context.Context, fields model.TestCaseFields) (string, error) {
	unknowns := tcontainer.NewMarshalMap()
	if s.cfg.Fields.TestScope != "" && fields.TestScope != "" {
		unknowns[s.cfg.Fields.TestScope] = []map[string]string{{"value": fields.TestScope}}
	}
	if s.cfg.Fields.ExecutionMode != "" && fields.ExecutionMode != "" {
		unknowns[s.cfg.Fields.ExecutionMode] = map[string]string{"value": fields.ExecutionMode}
	}
	if s.cfg.Fields.AutomationCandidate != "" && fields.AutomationCandidate != "" {
		unknowns[s.cfg.Fields.AutomationCandidate] = map[string]string{"value": fields.AutomationCandidate}
	}

	issueType := fields.IssueType
	if issueType == "" {
		issueType = s.cfg.TestCaseIssueType
	}

	created, resp, err := s.client.Issue.CreateWithContext(ctx, &jira.Issue{
		Fields: &jira.IssueFields{
			Project:     jira.Project{Key: fields.Project},
			Type:        jira.IssueType{Name: issueType},
			Summary:     fields.Summary,
			Description: fields.Description,
			Labels:      fields.Labels,
			Unknowns:    unknowns,
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating jira test case: %w", jira.NewJiraError(resp, err))
	}
	if created == nil || created.Key == "" {
		return "", errors.New("creating jira test case: response carried no key")
	}
	return created.Key, nil
}

func (s *jiraStore) LinkIssues(ctx context.Context, inwardKey, outwardKey, relation string) error {
	resp, err := s.client.Issue.AddLinkWithContext(ctx, &jira.IssueLink{
		Type:         jira.IssueLinkType{Name: relation},
		InwardIssue:  &jira.Issue{Key: inwardKey},
		OutwardIssue: &jira.Issue{Key: outwardKey},
	})
	if err != nil {
		return fmt.Errorf("linking %s -> %s (%s): %w", inwardKey, outwardKey, relation, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return nil
}

func (s *jiraStore) mapToIssue(issue *jira.Issue) *model.Issue {
	f := issue.Fields

	var links []model.IssueLink
	for _, l := range f.IssueLinks {
		if l == nil {
			continue
		}
		target := ""
		switch {
		case l.OutwardIssue != nil:
			target = l.OutwardIssue.Key
		case l.InwardIssue != nil:
			target = l.InwardIssue.Key
		}
		if target == "" {
			continue
		}
		links = append(links, model.IssueLink{
			Type:      model.LinkType{Name: l.Type.Name, Inward: l.Type.Inward, Outward: l.Type.Outward},
			TargetKey: target,
		})
	}

	epicKey := customString(f.Unknowns, s.cfg.Fields.EpicLink)
	if epicKey == "" && f.Epic != nil {
		epicKey = f.Epic.Key
	}

	desc := f.Description
	if strings.Contains(desc, "</") {
		desc = common.HTMLToText(desc)
	}

	return &model.Issue{
		Key:         issue.Key,
		Summary:     f.Summary,
		Description: common.NormalizeWhitespace(desc),
		Links:       links,
		EpicKey:     strings.TrimSpace(epicKey),
		DocRef:      strings.TrimSpace(customString(f.Unknowns, s.cfg.Fields.DocLink)),
	}
}

// customString reads a custom field holding a string or an option object.
func customString(unknowns tcontainer.MarshalMap, field string) string {
	if field == "" || unknowns == nil {
		return ""
	}
	v, ok := unknowns[field]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		for _, k := range []string{"value", "key", "name"} {
			if s, ok := val[k].(string); ok {
				return s
			}
		}
	default:
		slog.Debug("unexpected custom field shape", "field", field, "type", fmt.Sprintf("%T", v))
	}
	return ""
}
