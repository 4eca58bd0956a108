package docs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"basegraph.app/testgen/common"
)

var pageIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`pageId=(\d+)`),
	regexp.MustCompile(`/view/(\d+)`),
	regexp.MustCompile(`/pages/(\d+)/`),
}

type Confluence struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

func NewConfluence(baseURL, token string) (*Confluence, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid confluence url %q", baseURL)
	}
	return &Confluence{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Confluence) Matches(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, c.baseURL.Host)
}

func (c *Confluence) GetDocument(ctx context.Context, ref string) (*Document, error) {
	pageID := PageID(ref)
	if pageID == "" {
		// Tiny links only reveal the page id after following redirects.
		resolved, err := c.resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		pageID = PageID(resolved)
	}
	if pageID == "" {
		return nil, fmt.Errorf("confluence %s: no page id: %w", ref, ErrDocumentNotFound)
	}

	endpoint := c.baseURL.JoinPath("rest", "api", "content", pageID)
	endpoint.RawQuery = url.Values{"expand": {"body.storage"}}.Encode()

	resp, err := c.do(ctx, endpoint.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("confluence page %s: %w", pageID, ErrDocumentNotFound)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("confluence page %s: status %d: %s", pageID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page struct {
		Title string `json:"title"`
		Body  struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding confluence page %s: %w", pageID, err)
	}

	return &Document{
		Ref:   ref,
		Title: page.Title,
		Text:  common.HTMLToText(page.Body.Storage.Value),
	}, nil
}

func (c *Confluence) resolve(ctx context.Context, ref string) (string, error) {
	resp, err := c.do(ctx, ref)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Request.URL.String(), nil
}

func (c *Confluence) do(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building confluence request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("confluence request: %w", err)
	}
	return resp, nil
}

// PageID extracts a Confluence page id from the common URL shapes.
func PageID(ref string) string {
	for _, re := range pageIDPatterns {
		if m := re.FindStringSubmatch(ref); m != nil {
			return m[1]
		}
	}
	return ""
}
