package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Profile", func() {
	Describe("StandardProfile", func() {
		profile := StandardProfile()

		It("should use the six column header", func() {
			Expect(profile.Header()).To(Equal("Invoice Number,Date,Amount,Currency,Merchant,Transaction Type"))
		})

		It("should ask the model for that exact header", func() {
			Expect(profile.Prompt).To(ContainSubstring(profile.Header()))
		})

		It("should point its columns at the schema", func() {
			Expect(profile.Schema[profile.InvoiceColumn]).To(Equal("Invoice Number"))
			Expect(profile.Schema[profile.MerchantColumn]).To(Equal("Merchant"))
			Expect(profile.FilenameColumn).To(Equal(-1))
		})
	})

	Describe("DetailedProfile", func() {
		profile := DetailedProfile(2026)

		It("should have fourteen columns", func() {
			Expect(profile.Schema).To(HaveLen(14))
			Expect(profile.Prompt).To(ContainSubstring(profile.Header()))
		})

		It("should tell the model which year to assume", func() {
			Expect(profile.Prompt).To(ContainSubstring("assume 2026"))
		})

		It("should point its columns at the schema", func() {
			Expect(profile.Schema[profile.FilenameColumn]).To(Equal("source_filename"))
			Expect(profile.Schema[profile.InvoiceColumn]).To(Equal("receipt_id"))
			Expect(profile.Schema[profile.DateColumn]).To(Equal("date_ISO_8601"))
			Expect(profile.Schema[profile.AmountColumn]).To(Equal("total_amount"))
			Expect(profile.Schema[profile.MerchantColumn]).To(Equal("merchant_name_localized"))
		})
	})

	DescribeTable("ProfileByName",
		func(name string, expected string) {
			profile, err := ProfileByName(name, 2026)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.Name).To(Equal(expected))
		},
		Entry("default", "", "standard"),
		Entry("standard", "standard", "standard"),
		Entry("detailed in caps", " DETAILED ", "detailed"),
	)

	It("should reject unknown profile names", func() {
		_, err := ProfileByName("fancy", 2026)
		Expect(err).To(MatchError(ContainSubstring("unknown profile")))
	})
})
