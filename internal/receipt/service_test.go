package receipt

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zombor/receipt-extractor/internal/batch"
	"github.com/zombor/receipt-extractor/internal/scanning"
)

var _ = Describe("Service", func() {
	var (
		extractor *mockExtractor
		opts      Options
		service   *Service
		files     []batch.FileRecord
		result    *Result
		err       error
	)

	BeforeEach(func() {
		extractor = newMockExtractor()
		extractor.replies["a.jpg"] = "Invoice Number,Date,Amount,Currency,Merchant,Transaction Type\nINV1,2024-01-01,5.00,USD,Shop,Card"
		extractor.replies["b.jpg"] = "INV2,2024-01-02,7.00,EUR,Cafe,Cash"
		opts = testOptions()
		files = []batch.FileRecord{jpeg("a.jpg"), jpeg("b.jpg")}
	})

	JustBeforeEach(func() {
		service = NewService(extractor, scanning.StandardProfile(), opts)
		result, err = service.ExtractBatch(context.Background(), files)
	})

	When("every file succeeds", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should merge the rows in submission order under one header", func() {
			Expect(result.Table.CSV()).To(Equal(
				"Invoice Number,Date,Amount,Currency,Merchant,Transaction Type\n" +
					"INV1,2024-01-01,5.00,USD,Shop,Card\n" +
					"INV2,2024-01-02,7.00,EUR,Cafe,Cash",
			))
		})

		It("should tag the result with a batch ID", func() {
			Expect(result.BatchID).To(Equal("batch-1"))
			Expect(result.Files).To(Equal(2))
			Expect(result.Errors).To(BeEmpty())
		})
	})

	When("one file fails", func() {
		BeforeEach(func() {
			extractor.errs["b.jpg"] = errors.New("model crashed")
		})

		It("should keep the rows of the other files", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Table.Len()).To(Equal(1))
		})

		It("should list the failed file", func() {
			Expect(result.Errors).To(Equal([]batch.FileError{{Filename: "b.jpg", Error: "Failed to process with AI"}}))
		})
	})

	When("every file is rate limited", func() {
		BeforeEach(func() {
			limited := &scanning.TransportError{Backend: "gateway", StatusCode: http.StatusTooManyRequests}
			extractor.errs["a.jpg"] = limited
			extractor.errs["b.jpg"] = limited
		})

		It("should fail the whole batch", func() {
			Expect(err).To(MatchError(ErrRateLimited))
			Expect(result).To(BeNil())
		})
	})

	When("every file hits the credit limit", func() {
		BeforeEach(func() {
			quota := &scanning.TransportError{Backend: "gateway", StatusCode: http.StatusPaymentRequired}
			extractor.errs["a.jpg"] = quota
			extractor.errs["b.jpg"] = quota
		})

		It("should fail the whole batch", func() {
			Expect(err).To(MatchError(ErrQuotaExceeded))
		})
	})

	When("rate limits and credit limits are mixed", func() {
		BeforeEach(func() {
			extractor.errs["a.jpg"] = &scanning.TransportError{Backend: "gateway", StatusCode: http.StatusTooManyRequests}
			extractor.errs["b.jpg"] = &scanning.TransportError{Backend: "gateway", StatusCode: http.StatusPaymentRequired}
		})

		It("should report each file instead", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Errors).To(Equal([]batch.FileError{
				{Filename: "a.jpg", Error: "Rate limit exceeded. Please try again later."},
				{Filename: "b.jpg", Error: "AI credits exhausted. Please add credits to continue."},
			}))
		})
	})

	When("only some files are rate limited", func() {
		BeforeEach(func() {
			extractor.errs["b.jpg"] = &scanning.TransportError{Backend: "gateway", StatusCode: http.StatusTooManyRequests}
		})

		It("should return the partial table", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Table.Len()).To(Equal(1))
			Expect(result.Errors).To(HaveLen(1))
		})
	})

	When("there are too many files", func() {
		BeforeEach(func() {
			opts.Policy.MaxFiles = 1
		})

		It("should reject the batch before calling the backend", func() {
			Expect(err).To(MatchError(batch.ErrTooManyFiles))
			Expect(err.Error()).To(Equal("Too many files. Maximum 1 files allowed per request."))
			Expect(extractor.callCount()).To(BeZero())
		})
	})

	When("no files were uploaded", func() {
		BeforeEach(func() {
			files = nil
		})

		It("should return ErrEmptyBatch", func() {
			Expect(err).To(MatchError(batch.ErrEmptyBatch))
		})
	})

	When("a file is over the per-file limit", func() {
		BeforeEach(func() {
			big := jpeg("big.jpg")
			big.Data = make([]byte, batch.DefaultMaxFileBytes+1)
			files = append(files, big)
		})

		It("should fail only that file", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Table.Len()).To(Equal(2))
			Expect(result.Errors).To(Equal([]batch.FileError{{Filename: "big.jpg", Error: "File too large. Maximum size is 1MB."}}))
			Expect(extractor.callCount()).To(Equal(2))
		})
	})

	When("the batch spans several windows", func() {
		BeforeEach(func() {
			files = nil
			for i := range 7 {
				name := fmt.Sprintf("r%d.jpg", i)
				extractor.replies[name] = fmt.Sprintf("INV%d,2024-01-0%d,1.00,USD,Shop %d,Card", i, i+1, i)
				files = append(files, jpeg(name))
			}
		})

		It("should keep submission order", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Table.Len()).To(Equal(7))
			for i, row := range result.Table.Rows {
				Expect(row.Source).To(Equal(fmt.Sprintf("r%d.jpg", i)))
			}
		})
	})

	When("metrics are enabled", func() {
		var metrics *Metrics

		BeforeEach(func() {
			var metricsErr error
			metrics, metricsErr = NewMetrics(prometheus.NewRegistry())
			Expect(metricsErr).NotTo(HaveOccurred())
			opts.Metrics = metrics
			extractor.errs["b.jpg"] = errors.New("model crashed")
		})

		It("should count files by result", func() {
			Expect(testutil.ToFloat64(metrics.files.WithLabelValues("success"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.files.WithLabelValues("failed"))).To(Equal(1.0))
		})

		It("should count the batch and its rows", func() {
			Expect(testutil.ToFloat64(metrics.batches.WithLabelValues("ok"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.rows)).To(Equal(1.0))
		})
	})
})

var _ = Describe("Service without a backend", func() {
	It("should refuse every batch", func() {
		service := NewService(nil, scanning.StandardProfile(), testOptions())
		Expect(service.Configured()).To(BeFalse())

		_, err := service.ExtractBatch(context.Background(), []batch.FileRecord{jpeg("a.jpg")})
		Expect(err).To(MatchError(ErrNotConfigured))
	})
})
