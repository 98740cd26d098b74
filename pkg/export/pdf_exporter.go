package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"
)

const (
	pdfMarginX    = 10.0
	pdfMarginTop  = 15.0
	pdfRowHeight  = 7.0
	pdfHeadHeight = 8.0
)

// Document is a titled dataset rendered as a PDF report.
type Document struct {
	Title  string
	Header []string
	Data   Dataset
	// Widths are relative column weights; equal widths when empty.
	Widths []float64
}

type bodyRenderer func(pdf *gofpdf.Fpdf, doc Document, tr func(string) string) error

// PDFExporter renders documents as a paginated table, falling back to plain
// lines when the table layout fails.
type PDFExporter struct {
	logger *zap.Logger
	table  bodyRenderer
}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter(logger *zap.Logger) *PDFExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFExporter{logger: logger, table: renderTable}
}

// Render creates the PDF bytes for doc.
func (e *PDFExporter) Render(doc Document) ([]byte, error) {
	if len(doc.Data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	out, err := e.render(doc, e.table)
	if err == nil {
		return out, nil
	}
	e.logger.Warn("pdf table layout failed, using plain layout", zap.Error(err))
	return e.render(doc, renderPlain)
}

func (e *PDFExporter) render(doc Document, body bodyRenderer) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("pdf layout panic: %v", r)
		}
	}()

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMarginX, pdfMarginTop, pdfMarginX)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("{nb}")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("Página %d/{nb}", pdf.PageNo())), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(doc.Title), "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Arial", "", 9)
	for _, line := range doc.Header {
		pdf.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	if err := body(pdf, doc, tr); err != nil {
		return nil, err
	}
	if pdf.Err() {
		return nil, pdf.Error()
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(pdf *gofpdf.Fpdf, doc Document) []float64 {
	pageW, _ := pdf.GetPageSize()
	usable := pageW - 2*pdfMarginX
	n := len(doc.Data.Headers)
	widths := make([]float64, n)
	if len(doc.Widths) != n {
		for i := range widths {
			widths[i] = usable / float64(n)
		}
		return widths
	}
	var total float64
	for _, w := range doc.Widths {
		total += w
	}
	if total <= 0 {
		total = float64(n)
	}
	for i, w := range doc.Widths {
		widths[i] = usable * w / total
	}
	return widths
}

func renderTable(pdf *gofpdf.Fpdf, doc Document, tr func(string) string) error {
	widths := columnWidths(pdf, doc)
	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()

	drawHead := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for i, header := range doc.Data.Headers {
			pdf.CellFormat(widths[i], pdfHeadHeight, tr(header), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}

	drawHead()
	for _, record := range doc.Data.Records() {
		if pdf.GetY()+pdfRowHeight > pageH-bottom-5 {
			pdf.AddPage()
			drawHead()
		}
		for i, value := range record {
			pdf.CellFormat(widths[i], pdfRowHeight, fitText(pdf, tr(value), widths[i]-2), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
	if pdf.Err() {
		return pdf.Error()
	}
	return nil
}

func renderPlain(pdf *gofpdf.Fpdf, doc Document, tr func(string) string) error {
	pdf.SetFont("Arial", "B", 9)
	pdf.MultiCell(0, 5, tr(strings.Join(doc.Data.Headers, " | ")), "B", "L", false)
	pdf.SetFont("Arial", "", 8)
	for _, record := range doc.Data.Records() {
		pdf.MultiCell(0, 5, tr(strings.Join(record, " | ")), "", "L", false)
	}
	return nil
}

func fitText(pdf *gofpdf.Fpdf, text string, width float64) string {
	if width <= 0 || pdf.GetStringWidth(text) <= width {
		return text
	}
	// text is already cp1252, one byte per glyph.
	for len(text) > 0 && pdf.GetStringWidth(text+"...") > width {
		text = text[:len(text)-1]
	}
	return text + "..."
}
