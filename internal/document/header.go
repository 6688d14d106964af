package document

import (
	"fmt"
	"strings"

	"github.com/cimcon/p2p/internal/procurement"
)

// headerRows lays supplier, billing and order metadata side by side. Address
// lines take one row each; shorter columns are padded with blank cells.
func headerRows(po procurement.PurchaseOrder) []HeaderRow {
	supplier := []string{"Supplier", po.VendorName}
	supplier = append(supplier, addressLines(po.VendorAddress)...)
	supplier = appendLabelled(supplier,
		"GSTIN", po.VendorGSTIN,
		"Contact", strings.TrimSpace(po.VendorContactPerson+" "+po.VendorContact),
		"Email", po.VendorEmail)

	billing := []string{"Invoice To", po.InvoiceName}
	billing = append(billing, addressLines(po.InvoiceAddress)...)
	billing = appendLabelled(billing, "GSTIN", po.InvoiceGSTIN, "State", stateWithCode(po.InvoiceState, po.InvoiceStateCode))
	billing = append(billing, "Ship To", po.ConsigneeName)
	billing = append(billing, addressLines(po.ConsigneeAddress)...)
	billing = appendLabelled(billing, "Contact", strings.TrimSpace(po.ConsigneeContactPerson+" "+po.ConsigneeMobile))

	meta := [][2]string{
		{"PO No.", po.PONumber},
		{"PO Date", po.PODate.Format("02-01-2006")},
		{"Quote Ref.", po.QuoteRefNumber},
		{"Version", po.Version.StringFixed(1)},
		{"Project", po.ProjectCode},
		{"Freight", po.FreightTerms},
		{"Vendor Code", po.VendorCode},
		{"Payment Terms", po.PaymentTerms},
		{"Warranty", po.WarrantyTerms},
		{"Installation", po.InstallationTerms},
		{"Commissioning", po.CommissioningTerms},
		{"TPI", po.TPITerms},
		{"Delivery Schedule", po.DeliverySchedule},
		{"Delivery Address", strings.Join(addressLines(po.ConsigneeAddress), ", ")},
		{"PAN", po.VendorPAN},
		{"State", stateWithCode(po.VendorState, po.VendorStateCode)},
		{"Currency", po.CurrencyCode},
	}

	n := max(len(supplier), len(billing), len(meta))
	rows := make([]HeaderRow, n)
	for i := range rows {
		if i < len(supplier) {
			rows[i].Supplier = supplier[i]
		}
		if i < len(billing) {
			rows[i].Billing = billing[i]
		}
		if i < len(meta) {
			rows[i].Label, rows[i].Value = meta[i][0], meta[i][1]
		}
	}
	return rows
}

func addressLines(address string) []string {
	var lines []string
	for _, line := range strings.Split(address, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// appendLabelled adds "label: value" cells for the non-empty values of
// alternating label, value pairs.
func appendLabelled(cells []string, pairs ...string) []string {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			cells = append(cells, fmt.Sprintf("%s: %s", pairs[i], pairs[i+1]))
		}
	}
	return cells
}

func stateWithCode(state, code string) string {
	if code == "" {
		return state
	}
	return fmt.Sprintf("%s (%s)", state, code)
}
