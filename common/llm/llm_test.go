package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("APIError", func() {
	It("is found through wrapping", func() {
		err := fmt.Errorf("openai chat: %w", &APIError{Provider: ProviderOpenAI, StatusCode: 429, Message: "slow down"})

		apiErr, ok := AsAPIError(err)
		Expect(ok).To(BeTrue())
		Expect(apiErr.StatusCode).To(Equal(429))
		Expect(err.Error()).To(ContainSubstring("slow down"))
	})

	It("reports absence for plain errors", func() {
		_, ok := AsAPIError(errors.New("dial tcp: connection refused"))
		Expect(ok).To(BeFalse())
	})
})

var _ = DescribeTable("IsRetryable",
	func(err error, want bool) {
		Expect(IsRetryable(err)).To(Equal(want))
	},
	Entry("nil", nil, false),
	Entry("cancelled", context.Canceled, false),
	Entry("rate limited", &APIError{StatusCode: 429}, true),
	Entry("server error", &APIError{StatusCode: 503}, true),
	Entry("payload too large", &APIError{StatusCode: 413}, false),
	Entry("bad request", &APIError{StatusCode: 400}, false),
	Entry("malformed output", fmt.Errorf("unmarshal: %w", ErrMalformedOutput), true),
	Entry("network error", errors.New("connection reset"), true),
)

var _ = DescribeTable("retryAfter",
	func(header string, want time.Duration) {
		resp := &http.Response{Header: http.Header{}}
		if header != "" {
			resp.Header.Set("Retry-After", header)
		}
		Expect(retryAfter(resp)).To(Equal(want))
	},
	Entry("missing", "", time.Duration(0)),
	Entry("seconds", "17", 17*time.Second),
	Entry("garbage", "soon", time.Duration(0)),
)

var _ = DescribeTable("extractJSON",
	func(in, want string) {
		Expect(extractJSON(in)).To(Equal(want))
	},
	Entry("bare object", `{"a":1}`, `{"a":1}`),
	Entry("fenced", "```json\n{\"a\":1}\n```", `{"a":1}`),
	Entry("prose around", "Here you go: {\"a\":{\"b\":2}} done", `{"a":{"b":2}}`),
	Entry("no object", "nothing", "nothing"),
)

var _ = Describe("schemaSystemPrompt", func() {
	type sample struct {
		Name string `json:"name"`
	}

	It("appends the schema to the system prompt", func() {
		prompt, err := schemaSystemPrompt(Request{
			SystemPrompt: "Generate things.",
			SchemaName:   "sample",
			Schema:       GenerateSchema[sample](),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(prompt).To(HavePrefix("Generate things."))
		Expect(prompt).To(ContainSubstring(`"name"`))
	})

	It("leaves the prompt alone without a schema", func() {
		prompt, err := schemaSystemPrompt(Request{SystemPrompt: "plain"})
		Expect(err).NotTo(HaveOccurred())
		Expect(prompt).To(Equal("plain"))
	})
})

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := New(Config{Provider: ProviderOpenAI})
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown providers", func() {
		_, err := New(Config{Provider: "mystery", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported")))
	})

	It("builds both providers", func() {
		oa, err := New(Config{APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(oa.Model()).To(Equal("gpt-4o"))

		an, err := New(Config{Provider: ProviderAnthropic, APIKey: "k", Model: "claude-x"})
		Expect(err).NotTo(HaveOccurred())
		Expect(an.Model()).To(Equal("claude-x"))
	})
})
