package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/testgen/internal/http/dto"
	"basegraph.app/testgen/internal/http/handler"
	"basegraph.app/testgen/internal/queue"
)

var _ = Describe("RunHandler", func() {
	var (
		router   *gin.Engine
		producer *mockProducer
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		producer = &mockProducer{}
		h := handler.NewRunHandler(producer, "X-Trace-Id", "QA")
		router.POST("/api/v1/runs", h.Create)
	})

	post := func(body any, headers map[string]string) *httptest.ResponseRecorder {
		payload, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("enqueues a run and answers 202 with the message id", func() {
		w := post(map[string]any{"issue_key": " shop-12 ", "target_project": "QA"}, nil)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		var resp dto.CreateRunResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.MessageID).To(Equal("1700000000000-0"))
		Expect(resp.AnchorKey).To(Equal("SHOP-12"))

		Expect(producer.enqueued).To(HaveLen(1))
		Expect(producer.enqueued[0].AnchorKey).To(Equal("SHOP-12"))
		Expect(producer.enqueued[0].TargetProject).To(Equal("QA"))
		Expect(producer.enqueued[0].TraceID).To(BeNil())
	})

	It("falls back to the default target project", func() {
		w := post(map[string]any{"issue_key": "SHOP-12"}, nil)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(producer.enqueued[0].TargetProject).To(Equal("QA"))
	})

	It("propagates the trace header", func() {
		w := post(map[string]any{"issue_key": "SHOP-12"}, map[string]string{"X-Trace-Id": "4bf92f3577b34da6a3ce929d0e0e4736"})

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(producer.enqueued[0].TraceID).NotTo(BeNil())
		Expect(*producer.enqueued[0].TraceID).To(Equal("4bf92f3577b34da6a3ce929d0e0e4736"))
	})

	It("carries the dry run flag", func() {
		w := post(map[string]any{"issue_key": "SHOP-12", "dry_run": true}, nil)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(producer.enqueued[0].DryRun).To(BeTrue())
	})

	DescribeTable("rejects bad requests without enqueuing",
		func(body map[string]any) {
			w := post(body, nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(producer.enqueued).To(BeEmpty())
		},
		Entry("missing issue key", map[string]any{"target_project": "QA"}),
		Entry("not an issue key", map[string]any{"issue_key": "checkout flow"}),
		Entry("key without number", map[string]any{"issue_key": "SHOP-"}),
	)

	It("answers 500 when the queue is unavailable", func() {
		producer.enqueueFn = func(context.Context, queue.RunMessage) (string, error) {
			return "", errors.New("redis down")
		}

		w := post(map[string]any{"issue_key": "SHOP-12"}, nil)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})
})
