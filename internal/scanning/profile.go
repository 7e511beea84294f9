package scanning

import (
	"fmt"
	"strings"
)

// Profile pairs the canonical output schema with the prompt that asks the model for it.
// Column indexes are -1 when the schema has no such column.
type Profile struct {
	Name           string
	Schema         []string
	Prompt         string
	InvoiceColumn  int
	DateColumn     int
	AmountColumn   int
	MerchantColumn int
	FilenameColumn int
}

// Header returns the schema joined as a CSV header line
func (p Profile) Header() string {
	return strings.Join(p.Schema, ",")
}

// StandardProfile is the six-column schema. One file may produce several rows.
func StandardProfile() Profile {
	return Profile{
		Name:           "standard",
		Schema:         []string{"Invoice Number", "Date", "Amount", "Currency", "Merchant", "Transaction Type"},
		Prompt:         standardPrompt,
		InvoiceColumn:  0,
		DateColumn:     1,
		AmountColumn:   2,
		MerchantColumn: 4,
		FilenameColumn: -1,
	}
}

// DetailedProfile is the fourteen-column schema. Each file produces at most one row.
// year is assumed by the model for dates printed without one.
func DetailedProfile(year int) Profile {
	return Profile{
		Name: "detailed",
		Schema: []string{
			"source_filename",
			"is_receipt",
			"total_amount",
			"vat_amount",
			"currency_ISO_4217",
			"merchant_name_localized",
			"date_ISO_8601",
			"is_month_explicit",
			"receipt_id",
			"merchant_address",
			"document_language_ISO_639",
			"all_totals",
			"all_dates",
			"spend_category",
		},
		Prompt:         fmt.Sprintf(detailedPrompt, year),
		InvoiceColumn:  8,
		DateColumn:     6,
		AmountColumn:   2,
		MerchantColumn: 5,
		FilenameColumn: 0,
	}
}

// ProfileByName selects a profile from its configuration name
func ProfileByName(name string, year int) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard":
		return StandardProfile(), nil
	case "detailed":
		return DetailedProfile(year), nil
	default:
		return Profile{}, fmt.Errorf("unknown profile %q (valid: standard, detailed)", name)
	}
}

const standardPrompt = `You are a deterministic receipt data extractor. Return only a CSV that matches the exact schema and column order below. Do not include explanations, code fences, JSON, or any extra text. Output the CSV only.

CSV header and order must be exactly:
Invoice Number,Date,Amount,Currency,Merchant,Transaction Type

Field definitions:
- Invoice Number: receipt number, invoice ID, transaction reference or order number. If several rows belong to the same invoice, repeat the same invoice number on every row. Leave blank if not found.
- Date: transaction date as YYYY-MM-DD. If only month and year are present, use the first day of that month. If both order and payment dates appear, use the payment date. Leave blank if unknown.
- Amount: final amount paid as a positive decimal with a period as decimal separator, including tax and tip when they are part of the total. Make the amount negative for refunds or returns.
- Currency: ISO 4217 code in uppercase. Map symbols to the likely code. When several currencies appear, use the currency actually charged. Leave blank if unknown.
- Merchant: merchant or brand name without legal suffixes (Inc, LLC, Ltd, GmbH).
- Transaction Type: exactly one of Card, Cash, Wire, Transfer, Invoice, Refund, Credit, Debit, Other. Card brands or the last 4 digits of a card mean Card. Bank transfer, ACH, SEPA or wire mean Wire. Use Other when unclear.

Extraction rules:
- One row per distinct receipt or transaction. If the file contains several receipts, output one row per receipt.
- Prefer "Total" or "Amount paid". Do not recompute a total from subtotal and tax.
- Strip currency symbols and thousand separators from Amount. Keep two decimal places when present.
- If authorization and settlement differ, use the settled amount.
- Quotes, pro forma invoices and unpaid shopping carts produce no row.
- Leave a truly missing field empty. Do not invent values.
- Do not add, remove or reorder columns. Include the header exactly once.

Output format:
Return only the CSV, comma separated, no trailing commas. Do not wrap values in quotes unless a value contains a comma.`

const detailedPrompt = `Extract data from this receipt or invoice. Handle receipts in any language and any format (retail receipts, hotel invoices, digital receipts).

CSV header (exact order):
source_filename,is_receipt,total_amount,vat_amount,currency_ISO_4217,merchant_name_localized,date_ISO_8601,is_month_explicit,receipt_id,merchant_address,document_language_ISO_639,all_totals,all_dates,spend_category

Field rules:
- source_filename: leave empty
- is_receipt: true if this is a receipt or invoice, false otherwise
- total_amount: numeric with dot as decimal separator
- vat_amount: numeric with dot as decimal separator, empty if not shown
- currency_ISO_4217: ISO 4217 code (USD, EUR, GBP, ILS, ...)
- merchant_name_localized: merchant name in its original script and language
- date_ISO_8601: YYYY-MM-DD or YYYY-MM-DDThh:mm, assume %d when no year is printed
- is_month_explicit: true if the date uses a textual month, false if fully numeric
- receipt_id: receipt or invoice number
- merchant_address: full address as shown
- document_language_ISO_639: ISO 639 language code (en, he, fr, es, ...)
- all_totals: JSON array of every total found, as strings, quoted as one CSV field
- all_dates: JSON array of every ISO 8601 date found, quoted as one CSV field
- spend_category: one of meals, transportation, lodging, fuel, supplies, entertainment, utilities, other

Hotel invoices are lodging. Extract VAT even when shown as a percentage.

Output only the CSV text with the header and exactly one row. No markdown, no code fences, no explanations.`
