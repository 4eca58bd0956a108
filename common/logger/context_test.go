package logger_test

import (
	"bytes"
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/testgen/common/logger"
)

var _ = Describe("LogFields", func() {
	It("merges newer values over existing ones", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			RunID:     logger.Ptr(int64(7)),
			AnchorKey: logger.Ptr("SHOP-1"),
			Component: "testgen.brain.pipeline",
		})
		ctx = logger.WithLogFields(ctx, logger.LogFields{
			Round:     logger.Ptr(2),
			Component: "testgen.brain.coverage",
		})

		fields := logger.GetLogFields(ctx)
		Expect(*fields.RunID).To(Equal(int64(7)))
		Expect(*fields.AnchorKey).To(Equal("SHOP-1"))
		Expect(*fields.Round).To(Equal(2))
		Expect(fields.Component).To(Equal("testgen.brain.coverage"))
	})

	It("returns empty fields for a bare context", func() {
		Expect(logger.GetLogFields(context.Background())).To(Equal(logger.LogFields{}))
	})

	It("adds context fields to every record", func() {
		var buf bytes.Buffer
		log := slog.New(logger.NewTraceHandler(slog.NewTextHandler(&buf, nil)))

		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			AnchorKey: logger.Ptr("SHOP-9"),
			Round:     logger.Ptr(1),
			Component: "testgen.brain.coverage",
		})
		log.InfoContext(ctx, "round finished")

		Expect(buf.String()).To(ContainSubstring("anchor_key=SHOP-9"))
		Expect(buf.String()).To(ContainSubstring("round=1"))
		Expect(buf.String()).To(ContainSubstring("component=testgen.brain.coverage"))
	})
})

var _ = DescribeTable("Truncate",
	func(in string, max int, want string) {
		Expect(logger.Truncate(in, max)).To(Equal(want))
	},
	Entry("short string unchanged", "abc", 5, "abc"),
	Entry("long string cut", "abcdef", 3, "abc..."),
	Entry("multibyte safe", "ñandú", 2, "ña..."),
)
