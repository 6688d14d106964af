package inventory

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const stockSheet = "Stock"

var stockHeaders = []string{
	"Item No", "Material Group", "Description", "Make",
	"Times Square", "I Square", "Sakar", "Pirana", "Other",
	"Total", "Allocated", "Available",
}

// ExportStock writes the stock statement workbook to w.
func (s *Service) ExportStock(ctx context.Context, w io.Writer) error {
	items, err := s.repo.All(ctx)
	if err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", stockSheet); err != nil {
		return fmt.Errorf("inventory export: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("inventory export: %w", err)
	}
	if err := f.SetSheetRow(stockSheet, "A1", &stockHeaders); err != nil {
		return fmt.Errorf("inventory export: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(stockHeaders), 1)
	if err := f.SetCellStyle(stockSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("inventory export: %w", err)
	}

	for i, inv := range items {
		row := []any{
			inv.ItemNo, inv.MaterialGroup, inv.MaterialDescription, inv.Make,
			inv.TimesSqStock.InexactFloat64(), inv.ISqStock.InexactFloat64(), inv.SakarStock.InexactFloat64(),
			inv.PiranaStock.InexactFloat64(), inv.OtherStock.InexactFloat64(),
			inv.TotalStock.InexactFloat64(), inv.AllocatedStock.InexactFloat64(), inv.AvailableStock().InexactFloat64(),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(stockSheet, cell, &row); err != nil {
			return fmt.Errorf("inventory export: %w", err)
		}
	}
	_ = f.SetColWidth(stockSheet, "A", "A", 20)
	_ = f.SetColWidth(stockSheet, "C", "C", 48)
	_ = f.SetColWidth(stockSheet, "E", "L", 12)
	if err := f.SetPanes(stockSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("inventory export: %w", err)
	}
	_, err = f.WriteTo(w)
	return err
}
