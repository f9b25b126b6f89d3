package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/iago/mileage-reports-back/internal/domain"
)

// ContentType is the MIME type of rendered reports.
const ContentType = "application/pdf"

// Renderer turns a snapshot into document bytes. Implementations must be pure.
type Renderer interface {
	Render(data domain.ReportData) ([]byte, error)
}

// PDFRenderer lays the report out on A4 pages.
type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

type column struct {
	title string
	width float64
	align string
}

var (
	tripColumns = []column{
		{"Date", 22, "L"},
		{"Purpose", 38, "L"},
		{"Vehicle", 30, "L"},
		{"Route", 44, "L"},
		{"Miles", 16, "R"},
		{"Rate", 16, "R"},
		{"Amount", 24, "R"},
	}
	expenseColumns = []column{
		{"Date", 24, "L"},
		{"Category", 40, "L"},
		{"Description", 96, "L"},
		{"Amount", 30, "R"},
	}
)

func (r *PDFRenderer) Render(data domain.ReportData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Mileage report "+data.Period.String(), true)
	pdf.SetCreator("mileage-reports", true)
	pdf.SetCreationDate(data.GeneratedAt)
	pdf.SetModificationDate(data.GeneratedAt)
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 6, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Mileage Reimbursement Report", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	name := data.Employee.FullName
	if name == "" {
		name = data.Employee.UserID
	}
	writeLine(pdf, tr("Employee: "+name))
	if data.Employee.EmployeeNumber != "" {
		writeLine(pdf, tr("Employee number: "+data.Employee.EmployeeNumber))
	}
	if data.Employee.Department != "" {
		writeLine(pdf, tr("Department: "+data.Employee.Department))
	}
	writeLine(pdf, fmt.Sprintf("Period: %s to %s",
		data.Period.Start.Format(domain.DateLayout),
		data.Period.End.Format(domain.DateLayout)))
	writeLine(pdf, "Generated: "+data.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"))
	pdf.Ln(4)

	section(pdf, "Trips")
	header(pdf, tripColumns)
	pdf.SetFont("Helvetica", "", 9)
	for _, trip := range data.Trips {
		cells := tripCells(trip)
		for i := range cells {
			cells[i] = tr(cells[i])
		}
		row(pdf, tripColumns, cells)
	}
	if len(data.Trips) == 0 {
		pdf.CellFormat(0, 6, "No completed trips in this period.", "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	section(pdf, "Expenses")
	header(pdf, expenseColumns)
	pdf.SetFont("Helvetica", "", 9)
	for _, expense := range data.Expenses {
		row(pdf, expenseColumns, []string{
			expense.Date.Format(domain.DateLayout),
			tr(expense.Category),
			tr(expense.Description),
			money(expense.Amount, 2),
		})
	}
	if len(data.Expenses) == 0 {
		pdf.CellFormat(0, 6, "No expenses in this period.", "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	if len(data.CategoryTotals) > 0 {
		section(pdf, "Expenses by category")
		pdf.SetFont("Helvetica", "", 9)
		for _, total := range data.CategoryTotals {
			pdf.CellFormat(160, 6, tr(total.Category), "B", 0, "L", false, 0, "")
			pdf.CellFormat(30, 6, money(total.Amount, 2), "B", 1, "R", false, 0, "")
		}
		pdf.Ln(4)
	}

	section(pdf, "Summary")
	pdf.SetFont("Helvetica", "", 10)
	summary := [][2]string{
		{"Total miles", data.TotalMiles.StringFixed(1)},
		{"Mileage reimbursement", money(data.TotalMileageAmount, 2)},
		{"Expense reimbursement", money(data.TotalExpenseAmount, 2)},
	}
	for _, line := range summary {
		pdf.CellFormat(160, 7, line[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, line[1], "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(160, 8, "Grand total", "T", 0, "L", false, 0, "")
	pdf.CellFormat(30, 8, money(data.GrandTotal, 2), "T", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// tripCells returns the untranslated cell values for one trip, in tripColumns order.
func tripCells(trip domain.TripLine) []string {
	vehicle := trip.Vehicle
	if vehicle == "" {
		vehicle = "-"
	}
	return []string{
		trip.Date.Format(domain.DateLayout),
		trip.Purpose,
		vehicle,
		trip.Route,
		trip.Miles.StringFixed(1),
		money(trip.RatePerMile, 3),
		money(trip.MileageAmount, 2),
	}
}

func writeLine(pdf *fpdf.Fpdf, text string) {
	pdf.CellFormat(0, 6, text, "", 1, "L", false, 0, "")
}

func section(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
}

func header(pdf *fpdf.Fpdf, columns []column) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, col := range columns {
		pdf.CellFormat(col.width, 7, col.title, "1", 0, col.align, true, 0, "")
	}
	pdf.Ln(-1)
}

func row(pdf *fpdf.Fpdf, columns []column, values []string) {
	for i, col := range columns {
		pdf.CellFormat(col.width, 6, truncate(pdf, values[i], col.width-2), "1", 0, col.align, false, 0, "")
	}
	pdf.Ln(-1)
}

// truncate shortens text so it fits in width at the current font.
func truncate(pdf *fpdf.Fpdf, text string, width float64) string {
	if pdf.GetStringWidth(text) <= width {
		return text
	}
	// Text is already translated to a single-byte code page.
	for len(text) > 0 && pdf.GetStringWidth(text+"...") > width {
		text = text[:len(text)-1]
	}
	return text + "..."
}

func money(amount decimal.Decimal, places int32) string {
	return "$" + amount.StringFixed(places)
}
