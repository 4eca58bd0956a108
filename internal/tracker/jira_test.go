package tracker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"

	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/model"
	"basegraph.app/testgen/internal/tracker"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const storyJSON = `{
  "key": "SHOP-1",
  "fields": {
    "summary": "Checkout with card",
    "description": "<p>User pays&nbsp;by card.</p><p>See SHOP-7</p>",
    "issuelinks": [
      {"type": {"name": "Dependency", "inward": "depends on", "outward": "is a dependency for"}, "outwardIssue": {"key": "SHOP-2"}},
      {"type": {"name": "Relates", "inward": "relates to", "outward": "relates to"}, "inwardIssue": {"key": "SHOP-9"}}
    ],
    "customfield_11600": "SHOP-10",
    "customfield_22398": "https://wiki.example.org/pages/viewpage.action?pageId=42"
  }
}`

var _ = Describe("Jira store", func() {
	var (
		ctx      context.Context
		srv      *httptest.Server
		store    tracker.IssueStore
		created  map[string]any
		linked   map[string]any
		authSeen string
	)

	BeforeEach(func() {
		ctx = context.Background()
		created, linked, authSeen = nil, nil, ""

		mux := http.NewServeMux()
		mux.HandleFunc("/rest/api/2/issue/SHOP-1", func(w http.ResponseWriter, r *http.Request) {
			authSeen = r.Header.Get("Authorization")
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, storyJSON)
		})
		mux.HandleFunc("/rest/api/2/issue/SHOP-404", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errorMessages":["Issue does not exist"]}`)
		})
		mux.HandleFunc("/rest/api/2/issue", func(w http.ResponseWriter, r *http.Request) {
			Expect(json.NewDecoder(r.Body).Decode(&created)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"1001","key":"QA-77"}`)
		})
		mux.HandleFunc("/rest/api/2/issueLink", func(w http.ResponseWriter, r *http.Request) {
			Expect(json.NewDecoder(r.Body).Decode(&linked)).To(Succeed())
			w.WriteHeader(http.StatusCreated)
		})
		srv = httptest.NewServer(mux)
		DeferCleanup(srv.Close)

		var err error
		store, err = tracker.NewJira(config.TrackerConfig{
			Provider:          config.TrackerJira,
			BaseURL:           srv.URL,
			Token:             "secret",
			TestCaseIssueType: "Test Case",
			Fields: config.FieldIDs{
				EpicLink:            "customfield_11600",
				DocLink:             "customfield_22398",
				TestScope:           "customfield_10163",
				ExecutionMode:       "customfield_10150",
				AutomationCandidate: "customfield_10161",
			},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("maps an issue with links and custom fields", func() {
		issue, err := store.GetIssue(ctx, "SHOP-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(authSeen).To(Equal("Bearer secret"))
		Expect(issue.Summary).To(Equal("Checkout with card"))
		Expect(issue.Description).To(ContainSubstring("User pays by card."))
		Expect(issue.Description).To(ContainSubstring("See SHOP-7"))
		Expect(issue.EpicKey).To(Equal("SHOP-10"))
		Expect(issue.DocRef).To(ContainSubstring("pageId=42"))
		Expect(issue.Links).To(HaveLen(2))
		Expect(issue.LinkedKeys([]string{"is a dependency for"})).To(Equal([]string{"SHOP-2"}))
	})

	It("returns linked keys by relation", func() {
		keys, err := store.GetLinkedKeys(ctx, "SHOP-1", []string{"relates to"})
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(Equal([]string{"SHOP-9"}))
	})

	It("maps a missing issue to ErrIssueNotFound", func() {
		_, err := store.GetIssue(ctx, "SHOP-404")
		Expect(errors.Is(err, tracker.ErrIssueNotFound)).To(BeTrue())
	})

	It("creates a test case with custom fields", func() {
		key, err := store.CreateTestCase(ctx, model.TestCaseFields{
			Project:             "QA",
			Summary:             "[Checkout] Pay by card - Manual",
			Description:         "h3. Test short description",
			TestScope:           "End2End",
			ExecutionMode:       "Manual",
			AutomationCandidate: "High",
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(Equal("QA-77"))

		fields := created["fields"].(map[string]any)
		Expect(fields["summary"]).To(Equal("[Checkout] Pay by card - Manual"))
		Expect(fields["issuetype"]).To(HaveKeyWithValue("name", "Test Case"))
		Expect(fields["project"]).To(HaveKeyWithValue("key", "QA"))
		Expect(fields["customfield_10163"]).To(Equal([]any{map[string]any{"value": "End2End"}}))
		Expect(fields["customfield_10150"]).To(Equal(map[string]any{"value": "Manual"}))
		Expect(fields["customfield_10161"]).To(Equal(map[string]any{"value": "High"}))
	})

	It("links issues with the relation name", func() {
		Expect(store.LinkIssues(ctx, "SHOP-1", "QA-77", "Tests")).To(Succeed())

		Expect(linked["type"]).To(HaveKeyWithValue("name", "Tests"))
		Expect(linked["inwardIssue"]).To(HaveKeyWithValue("key", "SHOP-1"))
		Expect(linked["outwardIssue"]).To(HaveKeyWithValue("key", "QA-77"))
	})
})
