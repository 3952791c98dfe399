// Package export writes one instrument-day to an xlsx workbook with a
// Snapshots sheet and a Strikes sheet.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rickgao/oi-gatherer/internal/model"
)

// Sheet names.
const (
	SnapshotsSheet = "Snapshots"
	StrikesSheet   = "Strikes"
)

var (
	snapshotHeader = []any{
		"ID", "Date", "Time", "LTP", "Change LTP",
		"Call OI", "Change Call OI", "Put OI", "Change Put OI",
		"Volume", "Change Volume", "Classification", "Max Pain",
	}
	strikeHeader = []any{
		"Snapshot ID", "Time", "Expiry", "Strike",
		"Call OI", "Call OI Change", "Call Volume",
		"Put OI", "Put OI Change", "Put Volume",
	}
)

// Source reads one instrument-day from storage.
type Source interface {
	InstrumentBySymbol(ctx context.Context, symbol string) (model.Instrument, error)
	SnapshotsForDay(ctx context.Context, instrumentID int64, day time.Time) ([]model.Snapshot, error)
	StrikesForDay(ctx context.Context, instrumentID int64, day time.Time) ([]model.StrikeSnapshot, error)
}

// Result counts the rows written.
type Result struct {
	Symbol    string
	Day       time.Time
	Snapshots int
	Strikes   int
}

// WriteDay loads symbol's data for day and writes the workbook to w.
func WriteDay(ctx context.Context, src Source, symbol string, day time.Time, w io.Writer) (Result, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	in, err := src.InstrumentBySymbol(ctx, symbol)
	if err != nil {
		return Result{}, fmt.Errorf("instrument %s: %w", symbol, err)
	}
	snaps, err := src.SnapshotsForDay(ctx, in.ID, day)
	if err != nil {
		return Result{}, fmt.Errorf("load snapshots: %w", err)
	}
	strikes, err := src.StrikesForDay(ctx, in.ID, day)
	if err != nil {
		return Result{}, fmt.Errorf("load strikes: %w", err)
	}

	f, err := Workbook(snaps, strikes)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return Result{}, fmt.Errorf("write workbook: %w", err)
	}
	return Result{Symbol: symbol, Day: day, Snapshots: len(snaps), Strikes: len(strikes)}, nil
}

// Workbook builds the workbook in memory. The caller closes it.
func Workbook(snaps []model.Snapshot, strikes []model.StrikeSnapshot) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := build(f, snaps, strikes); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func build(f *excelize.File, snaps []model.Snapshot, strikes []model.StrikeSnapshot) error {
	if err := f.SetSheetName("Sheet1", SnapshotsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(StrikesSheet); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(snaps))
	for _, s := range snaps {
		var maxPain any
		if s.MaxPain.Valid {
			maxPain = s.MaxPain.Decimal.InexactFloat64()
		}
		rows = append(rows, []any{
			s.ID,
			s.TradeDate.Format(time.DateOnly),
			s.TimeOfDay(),
			s.LTP.InexactFloat64(),
			s.ChangeInLTP.InexactFloat64(),
			s.CallOI, s.ChangeInCallOI,
			s.PutOI, s.ChangeInPutOI,
			s.Volume, s.ChangeInVolume,
			string(s.Classification),
			maxPain,
		})
	}
	if err := writeSheet(f, SnapshotsSheet, snapshotHeader, rows, bold); err != nil {
		return err
	}

	rows = rows[:0]
	for _, r := range strikes {
		rows = append(rows, []any{
			r.SnapshotID,
			r.CapturedAt.Format("15:04:05"),
			r.Expiry,
			r.Strike.InexactFloat64(),
			r.CallOI, r.CallOIChange, r.CallVolume,
			r.PutOI, r.PutOIChange, r.PutVolume,
		})
	}
	return writeSheet(f, StrikesSheet, strikeHeader, rows, bold)
}

// writeSheet writes a bold, frozen header row followed by rows.
func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+2, err)
		}
	}

	last, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", last, 14); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
