package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"possettle/internal/domain"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// ContentType returns the media type served for an export format.
func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

func dailyRows(rep domain.DailyReport) [][]string {
	rows := make([][]string, 0, len(rep.Days)+1)
	rows = append(rows, []string{"date", "transactions", "revenue", "average", "top_product", "top_quantity"})
	for _, day := range rep.Days {
		topID, topQty := "", ""
		if day.TopProduct != nil {
			topID = day.TopProduct.ProductID
			topQty = strconv.Itoa(day.TopProduct.Quantity)
		}
		rows = append(rows, []string{
			day.Date,
			strconv.Itoa(day.TransactionCount),
			day.Revenue.StringFixed(2),
			day.AverageTransaction.StringFixed(2),
			topID,
			topQty,
		})
	}
	return rows
}

func inventoryRows(rep domain.InventoryReport) [][]string {
	rows := make([][]string, 0, len(rep.Rows)+1)
	rows = append(rows, []string{"product_id", "name", "on_hand", "min", "max", "status", "stock_value", "batch_drift"})
	for _, row := range rep.Rows {
		rows = append(rows, []string{
			row.ProductID,
			row.Name,
			strconv.Itoa(row.OnHand),
			strconv.Itoa(row.MinInventory),
			strconv.Itoa(row.MaxInventory),
			row.Status,
			row.StockValue.StringFixed(2),
			strconv.FormatBool(row.BatchDrift),
		})
	}
	return rows
}

func DailyCSV(rep domain.DailyReport) ([]byte, error) {
	return writeCSV(dailyRows(rep))
}

func InventoryCSV(rep domain.InventoryReport) ([]byte, error) {
	return writeCSV(inventoryRows(rep))
}

func writeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DailyXLSX renders the daily report as a workbook with a summary sheet and a
// per-day sheet.
func DailyXLSX(rep domain.DailyReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	summarySheet := "summary"
	daysSheet := "days"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(daysSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Daily Sales Report")
	_ = f.SetCellValue(summarySheet, "A3", "From")
	_ = f.SetCellValue(summarySheet, "B3", rep.From)
	_ = f.SetCellValue(summarySheet, "A4", "To")
	_ = f.SetCellValue(summarySheet, "B4", rep.To)
	_ = f.SetCellValue(summarySheet, "A5", "Timezone")
	_ = f.SetCellValue(summarySheet, "B5", rep.Timezone)
	_ = f.SetCellValue(summarySheet, "A6", "Transactions")
	_ = f.SetCellValue(summarySheet, "B6", rep.TotalCount)
	_ = f.SetCellValue(summarySheet, "A7", "Revenue")
	_ = f.SetCellValue(summarySheet, "B7", rep.TotalRevenue.InexactFloat64())

	writeSheetRows(f, daysSheet, dailyRows(rep))
	return workbookBytes(f)
}

func InventoryXLSX(rep domain.InventoryReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "inventory"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	writeSheetRows(f, sheet, inventoryRows(rep))
	return workbookBytes(f)
}

func writeSheetRows(f *excelize.File, sheet string, rows [][]string) {
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				continue
			}
			_ = f.SetCellValue(sheet, cell, value)
		}
	}
}

func workbookBytes(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DailyPDF renders a one-table printable daily report.
func DailyPDF(rep domain.DailyReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Daily Sales Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s (%s)", rep.From, rep.To, rep.Timezone))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Transactions: %d", rep.TotalCount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Revenue: %s", rep.TotalRevenue.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", rep.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	widths := []float64{30, 28, 32, 32, 40, 20}
	writePDFTable(pdf, widths, dailyRows(rep))
	return pdfBytes(pdf)
}

func InventoryPDF(rep domain.InventoryReport) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Inventory Status")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Good: %d  Low: %d  Critical: %d  Value: %s", rep.Good, rep.Low, rep.Critical, rep.TotalValue.StringFixed(2)))
	pdf.Ln(8)

	widths := []float64{35, 70, 22, 18, 18, 25, 30, 25}
	writePDFTable(pdf, widths, inventoryRows(rep))
	return pdfBytes(pdf)
}

func writePDFTable(pdf *gofpdf.Fpdf, widths []float64, rows [][]string) {
	for i, row := range rows {
		if i == 0 {
			pdf.SetFont("Arial", "B", 10)
		}
		for j, value := range row {
			align := "L"
			if i > 0 && j > 1 {
				align = "R"
			}
			pdf.CellFormat(widths[j], 6, value, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
		if i == 0 {
			pdf.SetFont("Arial", "", 10)
		}
	}
}

func pdfBytes(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
