package interfaces

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	assignments "qhome-metering/internal/assignments/domain"
	cycles "qhome-metering/internal/cycles/domain"
)

// BuildAssignmentSheetPDF renders a printable reading sheet for an
// assignment: one row per unit with a blank value column.
func BuildAssignmentSheetPDF(assignment *assignments.MeterReadingAssignment, cycle *cycles.ReadingCycle, units []assignments.AssignmentUnit) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Meter Reading Sheet")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Assignment: %s", assignment.ID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Cycle: %s", cycle.Name))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s .. %s", cycle.PeriodFrom.Format("2006-01-02"), cycle.PeriodTo.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Assigned to: %s", assignment.AssignedTo))
	pdf.Ln(5)
	building := assignment.Scope.BuildingID
	if building == "" {
		building = "all buildings"
	}
	pdf.Cell(0, 6, fmt.Sprintf("Building: %s", building))
	pdf.Ln(5)
	if assignment.Scope.FloorFrom != nil && assignment.Scope.FloorTo != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Floors: %d .. %d", *assignment.Scope.FloorFrom, *assignment.Scope.FloorTo))
		pdf.Ln(5)
	}
	if assignment.Note != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Note: %s", assignment.Note))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(20, 6, "Floor", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Unit", "1", 0, "C", false, 0, "")
	pdf.CellFormat(55, 6, "Meter", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Signature", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, unit := range units {
		meter := unit.MeterID
		if meter == "" {
			meter = "no meter"
		}
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", unit.Floor), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, unit.UnitCode, "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 6, meter, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
