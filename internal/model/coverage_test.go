package model_test

import (
	"basegraph.app/testgen/internal/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CoveragePlan", func() {
	var plan *model.CoveragePlan

	inventory := func(n int) []model.InventoryItem {
		items := make([]model.InventoryItem, n)
		for i := range items {
			items[i] = model.InventoryItem{ID: i + 1, Description: "check"}
		}
		return items
	}

	BeforeEach(func() {
		plan = model.NewCoveragePlan()
		Expect(plan.FreezeInventory(inventory(3))).To(Succeed())
	})

	It("freezes the inventory once", func() {
		Expect(plan.FreezeInventory(inventory(4))).To(HaveOccurred())
		Expect(plan.N()).To(Equal(3))
	})

	It("accepts at most one scenario per id", func() {
		Expect(plan.Accept(model.Scenario{InventoryID: 2, Title: "first"})).To(BeTrue())
		Expect(plan.Accept(model.Scenario{InventoryID: 2, Title: "second"})).To(BeFalse())
		Expect(plan.Accept(model.Scenario{InventoryID: 0})).To(BeFalse())
		Expect(plan.Accept(model.Scenario{InventoryID: 4})).To(BeFalse())

		Expect(plan.Missing()).To(Equal([]int{1, 3}))
		Expect(plan.Scenarios()).To(HaveLen(1))
		Expect(plan.Scenarios()[0].Title).To(Equal("first"))
	})

	It("orders scenarios by inventory id", func() {
		plan.Accept(model.Scenario{InventoryID: 3})
		plan.Accept(model.Scenario{InventoryID: 1})
		plan.Accept(model.Scenario{InventoryID: 2})

		ids := []int{}
		for _, s := range plan.Scenarios() {
			ids = append(ids, s.InventoryID)
		}
		Expect(ids).To(Equal([]int{1, 2, 3}))
		Expect(plan.Missing()).To(BeEmpty())
	})

	DescribeTable("transitions",
		func(path []model.CoverageState, ok bool) {
			p := model.NewCoveragePlan()
			var err error
			for _, s := range path {
				if err = p.Transition(s); err != nil {
					break
				}
			}
			if ok {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(err).To(HaveOccurred())
			}
		},
		Entry("straight to full", []model.CoverageState{model.CoverageInventoryGenerated, model.CoverageFull}, true),
		Entry("rounds then full", []model.CoverageState{model.CoverageInventoryGenerated, model.CoveragePartial, model.CoveragePartial, model.CoverageFull}, true),
		Entry("rounds then exhausted", []model.CoverageState{model.CoverageInventoryGenerated, model.CoveragePartial, model.CoverageMaxAttemptsExceeded}, true),
		Entry("skip inventory", []model.CoverageState{model.CoverageFull}, false),
		Entry("leave terminal", []model.CoverageState{model.CoverageInventoryGenerated, model.CoverageFull, model.CoveragePartial}, false),
		Entry("exhausted without a round", []model.CoverageState{model.CoverageInventoryGenerated, model.CoverageMaxAttemptsExceeded}, false),
	)
})
