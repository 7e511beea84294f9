package batch

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-extractor/internal/scanning"
)

const standardHeader = "Invoice Number,Date,Amount,Currency,Merchant,Transaction Type"

var _ = Describe("Reconciler", func() {
	var (
		profile        scanning.Profile
		flagDuplicates bool
		outcomes       []Outcome
		table          *Table
		failures       []FileError
	)

	BeforeEach(func() {
		profile = scanning.StandardProfile()
		flagDuplicates = true
		outcomes = nil
	})

	JustBeforeEach(func() {
		table, failures = NewReconciler(profile, flagDuplicates).Merge(outcomes)
	})

	fields := func(i int) []string {
		return table.Rows[i].Fields
	}

	When("a fragment starts with the schema header", func() {
		var withoutHeader *Table

		BeforeEach(func() {
			body := "INV1,2024-01-01,5.00,USD,Shop,Card\nINV2,2024-01-02,7.00,USD,Cafe,Cash"
			outcomes = []Outcome{Success("a.jpg", standardHeader+"\n"+body)}
			withoutHeader, _ = NewReconciler(profile, true).Merge([]Outcome{Success("a.jpg", body)})
		})

		It("should drop the header and keep the data rows", func() {
			Expect(table.Rows).To(HaveLen(2))
			Expect(fields(0)[0]).To(Equal("INV1"))
		})

		It("should produce the same rows as the fragment without a header", func() {
			Expect(table.Rows).To(Equal(withoutHeader.Rows))
		})
	})

	When("a fragment is a single data line", func() {
		BeforeEach(func() {
			outcomes = []Outcome{Success("a.jpg", "INV9,2024-03-03,12.00,EUR,Bakery,Cash")}
		})

		It("should treat it as one row", func() {
			Expect(table.Rows).To(HaveLen(1))
			Expect(fields(0)).To(Equal([]string{"INV9", "2024-03-03", "12.00", "EUR", "Bakery", "Cash"}))
		})
	})

	When("a fragment is only the header", func() {
		BeforeEach(func() {
			outcomes = []Outcome{Success("a.jpg", standardHeader)}
		})

		It("should contribute no rows", func() {
			Expect(table.Rows).To(BeEmpty())
		})
	})

	When("the first line differs from the header", func() {
		BeforeEach(func() {
			outcomes = []Outcome{Success("a.jpg", "Invoice,Date,Total\nINV1,2024-01-01,5.00,USD,Shop,Card")}
		})

		It("should keep it as data", func() {
			Expect(table.Rows).To(HaveLen(2))
			Expect(fields(0)).To(Equal([]string{"Invoice", "Date", "Total", "", "", ""}))
		})
	})

	When("continuation rows omit the invoice number", func() {
		BeforeEach(func() {
			outcomes = []Outcome{
				Success("a.jpg", "INV1,2024-01-01,5.00,USD,Shop,Card\n,2024-01-01,8.50,USD,Shop,Card"),
				Success("b.jpg", ",2024-02-02,3.00,USD,Kiosk,Cash"),
			}
		})

		It("should fill them from the first row of the same file", func() {
			Expect(fields(1)[0]).To(Equal("INV1"))
		})

		It("should not carry the number across files", func() {
			Expect(fields(2)[0]).To(BeEmpty())
		})
	})

	When("two files contain the same receipt", func() {
		BeforeEach(func() {
			outcomes = []Outcome{
				Success("a.jpg", "INV1,2024-01-01,5.00,USD,Shop,Card"),
				Success("b.jpg", "INV1,2024-01-01,5.00,USD,Shop,Card"),
				Success("c.jpg", "INV1,2024-01-01,5.00,USD,shop,Card"),
			}
		})

		It("should leave the first occurrence untouched", func() {
			Expect(fields(0)[4]).To(Equal("Shop"))
		})

		It("should mark every later occurrence", func() {
			Expect(fields(1)[4]).To(Equal("Shop - " + DuplicateMarker))
			Expect(fields(2)[4]).To(Equal("shop - " + DuplicateMarker))
		})

		It("should keep all rows", func() {
			Expect(table.Rows).To(HaveLen(3))
		})

		When("duplicate marking is disabled", func() {
			BeforeEach(func() {
				flagDuplicates = false
			})

			It("should not mark anything", func() {
				Expect(fields(1)[4]).To(Equal("Shop"))
			})
		})
	})

	When("rows differ in amount", func() {
		BeforeEach(func() {
			outcomes = []Outcome{
				Success("a.jpg", "INV1,2024-01-01,5.00,USD,Shop,Card"),
				Success("b.jpg", "INV2,2024-01-01,6.00,USD,Shop,Card"),
			}
		})

		It("should not mark them", func() {
			Expect(fields(1)[4]).To(Equal("Shop"))
		})
	})

	When("some files failed", func() {
		BeforeEach(func() {
			outcomes = []Outcome{
				Success("a.jpg", "INV1,2024-01-01,5.00,USD,Shop,Card"),
				Failure("b.jpg", &Violation{Reason: ErrFileTooLarge, Message: "File too large. Maximum size is 1MB."}),
				Failure("c.jpg", errors.New("connection reset")),
			}
		})

		It("should take rows only from successes", func() {
			Expect(table.Rows).To(HaveLen(1))
		})

		It("should report each failure with a user-safe message", func() {
			Expect(failures).To(Equal([]FileError{
				{Filename: "b.jpg", Error: "File too large. Maximum size is 1MB."},
				{Filename: "c.jpg", Error: "Failed to process with AI"},
			}))
		})
	})

	When("the model answered in prose", func() {
		BeforeEach(func() {
			outcomes = []Outcome{Success("a.jpg", "I could not find a receipt in this image.\nSorry.")}
		})

		It("should contribute no rows", func() {
			Expect(table.Rows).To(BeEmpty())
			Expect(failures).To(BeEmpty())
		})
	})

	When("the fragment is empty", func() {
		BeforeEach(func() {
			outcomes = []Outcome{Success("blank.jpg", ""), Success("a.jpg", "INV1,2024-01-01,5.00,USD,Shop,Card")}
		})

		It("should contribute nothing and report no failure", func() {
			Expect(table.Rows).To(HaveLen(1))
			Expect(failures).To(BeEmpty())
		})
	})

	When("the fragment is wrapped in code fences and has blank lines", func() {
		BeforeEach(func() {
			outcomes = []Outcome{Success("a.jpg", "```csv\r\n"+standardHeader+"\r\n\r\nINV1,2024-01-01,5.00,USD,Shop,Card\r\n```")}
		})

		It("should parse the row", func() {
			Expect(table.Rows).To(HaveLen(1))
			Expect(fields(0)[5]).To(Equal("Card"))
		})
	})

	When("a row has quoted commas or too many fields", func() {
		BeforeEach(func() {
			outcomes = []Outcome{Success("a.jpg", `INV1,2024-01-01,5.00,USD,"Shop, Inc",Card,extra`)}
		})

		It("should keep the quoted field whole and fit the schema width", func() {
			Expect(fields(0)).To(Equal([]string{"INV1", "2024-01-01", "5.00", "USD", "Shop, Inc", "Card"}))
		})
	})

	When("the detailed profile is used", func() {
		BeforeEach(func() {
			profile = scanning.DetailedProfile(2025)
			outcomes = []Outcome{
				Success("hotel.pdf", profile.Header()+"\n"+`,true,120.00,20.00,EUR,Hotel Central,2025-03-15,true,R-1,Main St,en,"[""120.00""]","[""2025-03-15""]",lodging`),
			}
		})

		It("should fill the source filename", func() {
			Expect(table.Rows).To(HaveLen(1))
			Expect(fields(0)[0]).To(Equal("hotel.pdf"))
			Expect(fields(0)).To(HaveLen(14))
			Expect(fields(0)[11]).To(Equal(`["120.00"]`))
		})
	})

	When("a quoted field spans several lines", func() {
		BeforeEach(func() {
			profile = scanning.DetailedProfile(2025)
			outcomes = []Outcome{
				Success("hotel.pdf", profile.Header()+"\n"+
					`,true,120.00,20.00,EUR,Hotel Central,2025-03-15,true,R-1,"12 Main St`+"\n"+
					`Springfield",en,"[""120.00""]","[""2025-03-15""]",lodging`),
			}
		})

		It("should keep it in a single row", func() {
			Expect(table.Rows).To(HaveLen(1))
			Expect(fields(0)[9]).To(Equal("12 Main St\nSpringfield"))
			Expect(fields(0)[10]).To(Equal("en"))
			Expect(fields(0)[13]).To(Equal("lodging"))
		})

		It("should quote the field when serialized", func() {
			Expect(table.CSV()).To(ContainSubstring(`R-1,"12 Main St` + "\n" + `Springfield",en`))
		})
	})

	Describe("CSV", func() {
		BeforeEach(func() {
			outcomes = []Outcome{
				Success("a.jpg", "INV1,2024-01-01,5.00,USD,Shop,Card"),
				Success("b.jpg", `INV2,2024-01-02,6.00,USD,"Shop, Inc",Card`),
			}
		})

		It("should emit the header exactly once followed by one line per row", func() {
			lines := strings.Split(table.CSV(), "\n")
			Expect(lines).To(Equal([]string{
				standardHeader,
				"INV1,2024-01-01,5.00,USD,Shop,Card",
				`INV2,2024-01-02,6.00,USD,"Shop, Inc",Card`,
			}))
		})

		When("there are no rows", func() {
			BeforeEach(func() {
				outcomes = nil
			})

			It("should emit only the header", func() {
				Expect(table.CSV()).To(Equal(standardHeader))
			})
		})
	})
})
