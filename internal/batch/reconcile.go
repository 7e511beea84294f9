package batch

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/zombor/receipt-extractor/internal/scanning"
)

// DuplicateMarker is appended to the merchant of a row that repeats an earlier one
const DuplicateMarker = "DUPLICATE RECEIPT UPLOADED"

// Row is one canonical table row. Fields always has one entry per schema column.
type Row struct {
	Source string
	Fields []string
}

// Table is the merged result of a batch
type Table struct {
	Schema []string
	Rows   []Row
}

// Reconciler merges per-file CSV fragments into one Table
type Reconciler struct {
	profile        scanning.Profile
	flagDuplicates bool
}

// NewReconciler creates a Reconciler for profile
func NewReconciler(profile scanning.Profile, flagDuplicates bool) *Reconciler {
	return &Reconciler{profile: profile, flagDuplicates: flagDuplicates}
}

// Merge turns outcomes into a Table in submission order. Failed outcomes add no
// rows and are returned as FileErrors instead.
func (r *Reconciler) Merge(outcomes []Outcome) (*Table, []FileError) {
	table := &Table{Schema: r.profile.Schema, Rows: []Row{}}
	var failures []FileError

	for _, o := range outcomes {
		if !o.OK() {
			failures = append(failures, FileError{Filename: o.Filename, Error: o.Message()})
			continue
		}
		table.Rows = append(table.Rows, r.fileRows(o)...)
	}

	if r.flagDuplicates {
		r.markDuplicates(table.Rows)
	}
	return table, failures
}

// fileRows parses one fragment and repairs the rows that belong to it
func (r *Reconciler) fileRows(o Outcome) []Row {
	width := len(r.profile.Schema)
	var rows []Row
	for _, fields := range fragmentRecords(o.Fragment) {
		// A record without a single delimiter is prose, not a row
		if len(fields) < 2 || r.isHeader(fields) {
			continue
		}
		rows = append(rows, Row{Source: o.Filename, Fields: fitWidth(fields, width)})
	}

	// Models often leave the invoice number off continuation rows
	if col := r.profile.InvoiceColumn; col >= 0 && col < width && len(rows) > 0 {
		shared := rows[0].Fields[col]
		for _, row := range rows[1:] {
			if row.Fields[col] == "" && shared != "" {
				row.Fields[col] = shared
			}
		}
	}

	if col := r.profile.FilenameColumn; col >= 0 && col < width {
		for _, row := range rows {
			if row.Fields[col] == "" {
				row.Fields[col] = o.Filename
			}
		}
	}

	return rows
}

// isHeader reports whether fields spell out the schema header
func (r *Reconciler) isHeader(fields []string) bool {
	if len(fields) != len(r.profile.Schema) {
		return false
	}
	for i, name := range r.profile.Schema {
		if !strings.EqualFold(fields[i], name) {
			return false
		}
	}
	return true
}

// markDuplicates tags every row whose merchant, date and amount repeat an earlier row.
// Rows are kept either way.
func (r *Reconciler) markDuplicates(rows []Row) {
	p := r.profile
	width := len(p.Schema)
	if p.MerchantColumn < 0 || p.DateColumn < 0 || p.AmountColumn < 0 ||
		p.MerchantColumn >= width || p.DateColumn >= width || p.AmountColumn >= width {
		return
	}

	seen := make(map[string]bool)
	for _, row := range rows {
		merchant := row.Fields[p.MerchantColumn]
		amount := row.Fields[p.AmountColumn]
		if merchant == "" || amount == "" {
			continue
		}

		key := strings.ToLower(merchant) + "\x00" + row.Fields[p.DateColumn] + "\x00" + amount
		if seen[key] {
			row.Fields[p.MerchantColumn] = merchant + " - " + DuplicateMarker
			continue
		}
		seen[key] = true
	}
}

// fragmentRecords parses a fragment as CSV. Quoted fields may span lines;
// code fence lines and blank lines are ignored.
func fragmentRecords(fragment string) [][]string {
	fragment = strings.ReplaceAll(fragment, "\r\n", "\n")
	var kept []string
	for _, line := range strings.Split(fragment, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	text := strings.Join(kept, "\n")

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		// Fall back to a plain split so one broken line does not hide the rest
		records = nil
		for _, line := range kept {
			if strings.TrimSpace(line) != "" {
				records = append(records, strings.Split(line, ","))
			}
		}
	}

	for _, record := range records {
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
	}
	return records
}

// fitWidth pads or truncates fields to exactly width entries
func fitWidth(fields []string, width int) []string {
	out := make([]string, width)
	copy(out, fields)
	return out
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Records returns the header followed by every row
func (t *Table) Records() [][]string {
	records := make([][]string, 0, len(t.Rows)+1)
	records = append(records, t.Schema)
	for _, row := range t.Rows {
		records = append(records, row.Fields)
	}
	return records
}

// WriteCSV writes the header once and one line per row. Fields are quoted only
// when they contain a comma, a quote or a line break.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(t.Records()); err != nil {
		return err
	}
	return cw.Error()
}

// CSV returns the table serialized without a trailing newline
func (t *Table) CSV() string {
	var sb strings.Builder
	_ = t.WriteCSV(&sb)
	return strings.TrimSuffix(sb.String(), "\n")
}
