package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/pkg/export"
)

// Sheet names of the workbook export.
const (
	SheetRecords = "Registros"
	SheetSummary = "Resumen"
	SheetByDate  = "Por fecha"
)

// Column headers of the raw records table.
const (
	ColDate      = "Fecha"
	ColTime      = "Hora"
	ColStudent   = "Estudiante"
	ColDocument  = "Documento"
	ColCourse    = "Curso"
	ColKind      = "Tipo"
	ColTimestamp = "Marca de tiempo"
)

// RecordHeaders lists the raw table columns in order.
var RecordHeaders = []string{ColDate, ColTime, ColStudent, ColDocument, ColCourse, ColKind, ColTimestamp}

// Records renders filtered rows for every export format.
func Records(records []models.AttendanceRecord, loc *time.Location) export.Dataset {
	if loc == nil {
		loc = time.UTC
	}
	rows := make([]map[string]string, 0, len(records))
	for _, r := range records {
		at := r.RecordedAt.In(loc)
		rows = append(rows, map[string]string{
			ColDate:      at.Format("02/01/2006"),
			ColTime:      at.Format("15:04:05"),
			ColStudent:   r.Student.FullName(),
			ColDocument:  r.Student.NationalID,
			ColCourse:    r.Student.Course(),
			ColKind:      r.Kind.Label(),
			ColTimestamp: at.Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: RecordHeaders, Rows: rows}
}

// ParseKindLabel maps an exported label back to its kind.
func ParseKindLabel(label string) (models.AttendanceKind, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "entrada":
		return models.AttendanceEntry, true
	case "salida":
		return models.AttendanceExit, true
	}
	return models.ParseAttendanceKind(label)
}

// Summary renders the aggregate as a two-column indicator table.
func Summary(s models.ReportSummary) export.Dataset {
	headers := []string{"Indicador", "Valor"}
	rows := []map[string]string{
		{"Indicador": "Total de registros", "Valor": strconv.Itoa(s.TotalRecords)},
		{"Indicador": "Estudiantes distintos", "Valor": strconv.Itoa(s.DistinctStudents)},
		{"Indicador": "Entradas", "Valor": strconv.Itoa(s.Entries)},
		{"Indicador": "Salidas", "Valor": strconv.Itoa(s.Exits)},
	}
	for _, g := range s.ByGrade {
		rows = append(rows, map[string]string{
			"Indicador": fmt.Sprintf("Asistencia %d°", g.Grade),
			"Valor":     fmt.Sprintf("%.2f%% (%d/%d)", g.Percentage, g.WithEvents, g.RosterSize),
		})
	}
	for i, st := range s.TopStudents {
		rows = append(rows, map[string]string{
			"Indicador": fmt.Sprintf("Top %d: %s (%s)", i+1, st.Name, st.Course),
			"Valor":     strconv.Itoa(st.Count),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

// ByDate renders the per-day breakdown.
func ByDate(s models.ReportSummary) export.Dataset {
	headers := []string{"Fecha", "Entradas", "Salidas", "Estudiantes"}
	rows := make([]map[string]string, 0, len(s.ByDate))
	for _, d := range s.ByDate {
		rows = append(rows, map[string]string{
			"Fecha":       d.Date,
			"Entradas":    strconv.Itoa(d.Entries),
			"Salidas":     strconv.Itoa(d.Exits),
			"Estudiantes": strconv.Itoa(d.Students),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

// Workbook lays out the three worksheets.
func Workbook(records []models.AttendanceRecord, s models.ReportSummary, loc *time.Location) []export.Sheet {
	return []export.Sheet{
		{Name: SheetRecords, Data: Records(records, loc)},
		{Name: SheetSummary, Data: Summary(s)},
		{Name: SheetByDate, Data: ByDate(s)},
	}
}

// Document builds the PDF layout: header block then the records table.
func Document(records []models.AttendanceRecord, s models.ReportSummary, f models.ReportFilter, school string, generatedAt time.Time, loc *time.Location) export.Document {
	if loc == nil {
		loc = time.UTC
	}
	header := []string{}
	if school != "" {
		header = append(header, school)
	}
	header = append(header,
		"Periodo: "+Period(f, loc),
		"Generado: "+generatedAt.In(loc).Format("02/01/2006 15:04"),
		fmt.Sprintf("Registros: %d  Estudiantes: %d  Entradas: %d  Salidas: %d", s.TotalRecords, s.DistinctStudents, s.Entries, s.Exits),
	)
	return export.Document{
		Title:  "Reporte de asistencia",
		Header: header,
		Data:   Records(records, loc),
		Widths: []float64{1.2, 1, 3, 1.6, 1, 1, 2.4},
	}
}

// Period describes the filter's date range for humans.
func Period(f models.ReportFilter, loc *time.Location) string {
	switch {
	case f.From != nil && f.To != nil:
		return f.From.In(loc).Format("02/01/2006") + " - " + f.To.Add(-time.Nanosecond).In(loc).Format("02/01/2006")
	case f.From != nil:
		return "desde " + f.From.In(loc).Format("02/01/2006")
	case f.To != nil:
		return "hasta " + f.To.Add(-time.Nanosecond).In(loc).Format("02/01/2006")
	default:
		return "todo"
	}
}

// Filename returns asistencia_<yyyymmdd_hhmmss>_<suffix>.<ext>.
func Filename(now time.Time, f models.ReportFilter, format models.ReportFormat, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("asistencia_%s_%s.%s", now.In(loc).Format("20060102_150405"), Suffix(f, loc), format)
}

// Suffix encodes the active filters, or "todos" when there are none.
func Suffix(f models.ReportFilter, loc *time.Location) string {
	parts := []string{}
	if f.Grade != nil {
		parts = append(parts, fmt.Sprintf("grado%d", *f.Grade))
	}
	if section := sanitize(f.Section); section != "" {
		parts = append(parts, "seccion"+strings.ToUpper(section))
	}
	if f.Kind != nil {
		switch *f.Kind {
		case models.AttendanceEntry:
			parts = append(parts, "entradas")
		case models.AttendanceExit:
			parts = append(parts, "salidas")
		}
	}
	if f.From != nil || f.To != nil {
		from, to := "inicio", "hoy"
		if f.From != nil {
			from = f.From.In(loc).Format("20060102")
		}
		if f.To != nil {
			to = f.To.Add(-time.Nanosecond).In(loc).Format("20060102")
		}
		parts = append(parts, from+"-"+to)
	}
	if len(parts) == 0 {
		return "todos"
	}
	return strings.Join(parts, "_")
}

func sanitize(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
