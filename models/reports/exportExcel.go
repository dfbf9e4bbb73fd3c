package reports

import (
	"fmt"
	"net/http"

	"github.com/xuri/excelize/v2"
)

type ExcelExporter interface {
	GetCellValues() []interface{}
}

func buildExcel(data []ExcelExporter, headings ...string) (*excelize.File, error) {
	f := excelize.NewFile()
	sheetName := "Sheet1"
	if _, err := f.NewSheet(sheetName); err != nil {
		return nil, err
	}

	col := 'A'
	for _, h := range headings {
		f.SetCellValue(sheetName, string(col)+"1", h)
		col++
	}

	rowNo := 2
	for _, d := range data {
		col := 'A'
		for _, value := range d.GetCellValues() {
			f.SetCellValue(sheetName, string(col)+fmt.Sprint(rowNo), value)
			col++
		}
		rowNo++
	}
	return f, nil
}

// WriteExcel streams an xlsx download to the client.
func WriteExcel(w http.ResponseWriter, filename string, data []ExcelExporter, headings ...string) error {
	f, err := buildExcel(data, headings...)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	return f.Write(w)
}

// ExportExcelToFile saves a report to disk, used by the cmd tools.
func ExportExcelToFile(filename string, data []ExcelExporter, headings ...string) error {
	f, err := buildExcel(data, headings...)
	if err != nil {
		return err
	}
	return f.SaveAs(filename)
}
