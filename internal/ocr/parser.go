package ocr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// text accepts a JSON string, number or null; models are inconsistent about quoting numbers.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	default:
		*t = text(b)
	}
	return nil
}

func (t text) String() string {
	return strings.TrimSpace(string(t))
}

var amountNoise = strings.NewReplacer(",", "", "₹", "", "Rs.", "", "INR", "", "$", "", " ", "")

// amount strips thousands separators and currency noise; unreadable values are left null.
func (t text) amount() decimal.NullDecimal {
	s := strings.TrimSpace(amountNoise.Replace(t.String()))
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

type rawItem struct {
	ItemName     text `json:"itemName"`
	Quantity     text `json:"quantity"`
	UnitPrice    text `json:"unitPrice"`
	Amount       text `json:"amount"`
	HSNSAC       text `json:"hsnSac"`
	TaxableValue text `json:"taxableValue"`
	CGSTPercent  text `json:"cgstPercent"`
	CGSTAmount   text `json:"cgstAmount"`
	SGSTPercent  text `json:"sgstPercent"`
	SGSTAmount   text `json:"sgstAmount"`
}

type rawInvoice struct {
	InvoiceNumber      text      `json:"invoiceNumber"`
	InvoiceDate        text      `json:"invoiceDate"`
	PONumber           text      `json:"poNumber"`
	SupplierName       text      `json:"supplierName"`
	BillTo             text      `json:"billTo"`
	BillToAddress      text      `json:"billToAddress"`
	BillToGST          text      `json:"billToGst"`
	Items              []rawItem `json:"items"`
	Subtotal           text      `json:"subtotal"`
	CGST               text      `json:"cgst"`
	SGST               text      `json:"sgst"`
	RoundOff           text      `json:"roundOff"`
	TaxAmount          text      `json:"taxAmount"`
	TotalAmount        text      `json:"totalAmount"`
	TotalAmountInWords text      `json:"totalAmountInWords"`
}

// jsonObject cuts the span from the first '{' to the last '}' out of model output,
// which may be wrapped in prose or markdown fences.
func jsonObject(raw string) ([]byte, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, ErrNoJSONObject
	}
	return []byte(raw[start : end+1]), nil
}

// ParseInvoice converts model output into a typed preview.
func ParseInvoice(raw string) (InvoicePreview, error) {
	obj, err := jsonObject(raw)
	if err != nil {
		return InvoicePreview{}, err
	}
	var in rawInvoice
	if err := json.Unmarshal(obj, &in); err != nil {
		return InvoicePreview{}, fmt.Errorf("decode invoice json: %w", err)
	}
	out := InvoicePreview{
		InvoiceNumber:      in.InvoiceNumber.String(),
		InvoiceDate:        in.InvoiceDate.String(),
		PONumber:           in.PONumber.String(),
		SupplierName:       in.SupplierName.String(),
		BillTo:             in.BillTo.String(),
		BillToAddress:      in.BillToAddress.String(),
		BillToGST:          in.BillToGST.String(),
		Subtotal:           in.Subtotal.amount(),
		CGST:               in.CGST.amount(),
		SGST:               in.SGST.amount(),
		RoundOff:           in.RoundOff.amount(),
		TaxAmount:          in.TaxAmount.amount(),
		TotalAmount:        in.TotalAmount.amount(),
		TotalAmountInWords: in.TotalAmountInWords.String(),
		Items:              make([]PreviewItem, 0, len(in.Items)),
	}
	for _, it := range in.Items {
		item := PreviewItem{
			ItemName:     it.ItemName.String(),
			Quantity:     it.Quantity.amount(),
			UnitPrice:    it.UnitPrice.amount(),
			Amount:       it.Amount.amount(),
			HSNSAC:       it.HSNSAC.String(),
			TaxableValue: it.TaxableValue.amount(),
			CGSTPercent:  it.CGSTPercent.amount(),
			CGSTAmount:   it.CGSTAmount.amount(),
			SGSTPercent:  it.SGSTPercent.amount(),
			SGSTAmount:   it.SGSTAmount.amount(),
		}
		// the schema template row comes back blank when the table is unreadable
		if item.ItemName == "" && !item.Quantity.Valid && !item.Amount.Valid {
			continue
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

// ParseWeight reads the "weight" key. String values keep only digits and '.'.
func ParseWeight(raw string) (WeightResult, error) {
	obj, err := jsonObject(raw)
	if err != nil {
		return WeightResult{}, err
	}
	var in struct {
		Weight text `json:"weight"`
	}
	if err := json.Unmarshal(obj, &in); err != nil {
		return WeightResult{}, fmt.Errorf("decode weight json: %w", err)
	}
	digits := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, in.Weight.String())
	if digits == "" {
		return WeightResult{}, nil
	}
	w, err := decimal.NewFromString(digits)
	if err != nil {
		return WeightResult{}, nil
	}
	return WeightResult{Weight: &w}, nil
}
