package procurement

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Sheet names of the procurement workbook.
const (
	SheetPO  = "PO"
	SheetGRN = "GRN"
	SheetASN = "ASN"
)

var requiredColumns = map[string][]string{
	SheetPO:  {"po_number", "po_date", "supplier_code", "item_name", "qty"},
	SheetGRN: {"grn_number", "po_number"},
	SheetASN: {"asn_number", "invoice_number"},
}

var dateLayouts = []string{"2006-01-02", "02-01-2006", "02/01/2006", "2006/01/02", "02-Jan-2006", "2-Jan-06"}

// POImport is one PO header with the lines that replace whatever is stored.
type POImport struct {
	Order        PurchaseOrder
	SupplierCode string
	SupplierName string
	Lines        []POLine
}

// Workbook is the parsed content of an import file.
type Workbook struct {
	Orders []POImport
	GRNs   []GRN
	ASNs   []ASN
}

// ImportSummary counts what an import wrote.
type ImportSummary struct {
	Orders     int `json:"orders"`
	Lines      int `json:"lines"`
	GRNs       int `json:"grns"`
	Unresolved int `json:"unresolvedGrns"`
	ASNs       int `json:"asns"`
}

// ParseWorkbook reads the PO, GRN and ASN sheets. Headers are matched exactly after trimming and
// lower-casing; a sheet may be absent but at least one must exist.
func ParseWorkbook(r io.Reader) (Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Workbook{}, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	present := make(map[string]bool)
	for _, name := range f.GetSheetList() {
		present[name] = true
	}
	if !present[SheetPO] && !present[SheetGRN] && !present[SheetASN] {
		return Workbook{}, fmt.Errorf("%w: no PO, GRN or ASN sheet", ErrInvalidWorkbook)
	}

	var wb Workbook
	if present[SheetPO] {
		rows, err := readSheet(f, SheetPO)
		if err != nil {
			return Workbook{}, err
		}
		if wb.Orders, err = parseOrders(rows); err != nil {
			return Workbook{}, err
		}
	}
	if present[SheetGRN] {
		rows, err := readSheet(f, SheetGRN)
		if err != nil {
			return Workbook{}, err
		}
		if wb.GRNs, err = parseGRNs(rows); err != nil {
			return Workbook{}, err
		}
	}
	if present[SheetASN] {
		rows, err := readSheet(f, SheetASN)
		if err != nil {
			return Workbook{}, err
		}
		if wb.ASNs, err = parseASNs(rows); err != nil {
			return Workbook{}, err
		}
	}
	return wb, nil
}

type sheetRow struct {
	num    int
	values map[string]string
}

func (r sheetRow) get(col string) string {
	return strings.TrimSpace(r.values[col])
}

func readSheet(f *excelize.File, sheet string) ([]sheetRow, error) {
	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %s: %v", ErrInvalidWorkbook, sheet, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	header := make([]string, len(raw[0]))
	seen := make(map[string]bool)
	for i, h := range raw[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		seen[header[i]] = true
	}
	for _, col := range requiredColumns[sheet] {
		if !seen[col] {
			return nil, fmt.Errorf("%w: sheet %s missing column %s", ErrInvalidWorkbook, sheet, col)
		}
	}
	rows := make([]sheetRow, 0, len(raw)-1)
	for i, cells := range raw[1:] {
		row := sheetRow{num: i + 2, values: make(map[string]string, len(header))}
		blank := true
		for j, cell := range cells {
			if j >= len(header) || header[j] == "" {
				continue
			}
			row.values[header[j]] = cell
			if strings.TrimSpace(cell) != "" {
				blank = false
			}
		}
		if !blank {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func parseOrders(rows []sheetRow) ([]POImport, error) {
	var orders []POImport
	index := make(map[string]int)
	for _, row := range rows {
		number := row.get("po_number")
		if number == "" {
			return nil, rowError(SheetPO, row, "po_number is empty")
		}
		amd, err := parseInt(row.get("amd_no"))
		if err != nil {
			return nil, rowError(SheetPO, row, "amd_no: "+err.Error())
		}
		key := number + "\x00" + strconv.Itoa(amd)
		pos, ok := index[key]
		if !ok {
			date, err := parseDate(row.get("po_date"))
			if err != nil {
				return nil, rowError(SheetPO, row, "po_date: "+err.Error())
			}
			if date.IsZero() {
				return nil, rowError(SheetPO, row, "po_date is empty")
			}
			code := row.get("supplier_code")
			if code == "" {
				return nil, rowError(SheetPO, row, "supplier_code is empty")
			}
			orders = append(orders, POImport{
				Order:        PurchaseOrder{Number: number, AmdNo: amd, Date: date, PaymentTerms: row.get("payment_terms"), Status: POStatusOpen},
				SupplierCode: code,
				SupplierName: row.get("supplier_name"),
			})
			pos = len(orders) - 1
			index[key] = pos
		}
		qty, err := parseDecimal(row.get("qty"))
		if err != nil || !qty.Valid {
			return nil, rowError(SheetPO, row, "qty is not a number")
		}
		cost, err := parseDecimal(row.get("unit_cost"))
		if err != nil {
			return nil, rowError(SheetPO, row, "unit_cost is not a number")
		}
		lineNo, err := parseInt(row.get("line_no"))
		if err != nil {
			return nil, rowError(SheetPO, row, "line_no: "+err.Error())
		}
		if lineNo <= 0 {
			lineNo = len(orders[pos].Lines) + 1
		}
		orders[pos].Lines = append(orders[pos].Lines, POLine{
			LineNo:   lineNo,
			ItemCode: row.get("item_code"),
			ItemName: row.get("item_name"),
			Qty:      qty.Decimal,
			UnitCost: cost.Decimal,
		})
	}
	return orders, nil
}

func parseGRNs(rows []sheetRow) ([]GRN, error) {
	grns := make([]GRN, 0, len(rows))
	for _, row := range rows {
		grn := GRN{Number: row.get("grn_number"), PONumber: row.get("po_number"), DCNumber: row.get("dc_number"), ItemCode: row.get("item_code")}
		if grn.Number == "" || grn.PONumber == "" {
			return nil, rowError(SheetGRN, row, "grn_number and po_number are required")
		}
		var err error
		if grn.ReceivedAt, err = parseDate(row.get("grn_date")); err != nil {
			return nil, rowError(SheetGRN, row, "grn_date: "+err.Error())
		}
		if grn.GRNQty, err = parseDecimal(row.get("grn_qty")); err != nil {
			return nil, rowError(SheetGRN, row, "grn_qty is not a number")
		}
		if grn.AcceptedQty, err = parseDecimal(row.get("accepted_qty")); err != nil {
			return nil, rowError(SheetGRN, row, "accepted_qty is not a number")
		}
		grns = append(grns, grn)
	}
	return grns, nil
}

func parseASNs(rows []sheetRow) ([]ASN, error) {
	asns := make([]ASN, 0, len(rows))
	for _, row := range rows {
		asn := ASN{Number: row.get("asn_number"), InvoiceNumber: row.get("invoice_number"), DCNumber: row.get("dc_number")}
		if asn.Number == "" || asn.InvoiceNumber == "" {
			return nil, rowError(SheetASN, row, "asn_number and invoice_number are required")
		}
		var err error
		if asn.ShipDate, err = parseDate(row.get("ship_date")); err != nil {
			return nil, rowError(SheetASN, row, "ship_date: "+err.Error())
		}
		asns = append(asns, asn)
	}
	return asns, nil
}

func rowError(sheet string, row sheetRow, msg string) error {
	return fmt.Errorf("%w: sheet %s row %d: %s", ErrInvalidWorkbook, sheet, row.num, msg)
}

func parseInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func parseDecimal(v string) (decimal.NullDecimal, error) {
	v = strings.ReplaceAll(v, ",", "")
	if v == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// parseDate accepts Excel serial numbers as well as the common textual layouts.
func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil {
		return excelize.ExcelDateToTime(serial, false)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", v)
}
