package document

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimcon/p2p/internal/procurement"
)

func samplePO(description string) procurement.PurchaseOrder {
	line := procurement.LineItem{
		ItemNo:              1,
		CimconPartNumber:    "ELED016SCMCB01",
		MaterialDescription: description,
		HSNCode:             "85414100",
		Quantity:            decimal.NewFromInt(10),
		Unit:                "Nos",
		UnitPrice:           decimal.NewFromInt(100),
		TotalPrice:          decimal.NewFromInt(1000),
		GSTRate:             decimal.NewFromInt(18),
	}
	return procurement.PurchaseOrder{
		PONumber:       "CIMPO-242500001",
		PODate:         time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC),
		Version:        decimal.NewFromInt(1),
		CurrencyCode:   "INR",
		VendorSnapshot: procurement.VendorSnapshot{VendorName: "Meanwell India", VendorAddress: "Plot 12\nGIDC Vatva\nAhmedabad"},
		Items:          []procurement.LineItem{line},
	}
}

func longDescription(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString("Outdoor LED street light fixture with die-cast aluminium housing and surge protection. ")
	}
	return strings.TrimSpace(b.String())
}

func TestComposeFlowsLongDescriptionAcrossPages(t *testing.T) {
	desc := longDescription(4000)
	doc := Compose(samplePO(desc), ParseTerms("1. Pay within 30 days."), A4())

	var (
		rows       []ItemRow
		totalsPage = -1
		lastItem   = -1
	)
	for i, p := range doc.Pages {
		used := 0.0
		if p.TableHeader {
			used += A4().TableHeaderHeight
		}
		for _, r := range p.Items {
			used += r.Height
			rows = append(rows, r)
			lastItem = i
		}
		assert.LessOrEqual(t, used, A4().Frame())
		if p.Totals != nil {
			require.Equal(t, -1, totalsPage, "totals placed twice")
			totalsPage = i
		}
		if len(p.Items) > 0 {
			assert.True(t, p.TableHeader, "page %d lost its table header", p.Number)
		}
	}
	require.GreaterOrEqual(t, lastItem, 1, "description should span at least two pages")
	require.GreaterOrEqual(t, len(rows), 2)

	first := rows[0]
	assert.False(t, first.Continuation)
	assert.Equal(t, "1", first.Serial)
	assert.NotEmpty(t, first.Quantity)
	assert.NotEmpty(t, first.UnitPrice)
	assert.NotEmpty(t, first.Total)

	chunks := []string{first.Description}
	for _, r := range rows[1:] {
		assert.True(t, r.Continuation)
		assert.NotEmpty(t, r.Description)
		assert.Empty(t, r.Serial+r.PartNumber+r.HSN+r.Quantity+r.UnitPrice+r.GST+r.Total)
		chunks = append(chunks, r.Description)
	}
	assert.Equal(t, desc, strings.Join(chunks, " "))

	require.GreaterOrEqual(t, totalsPage, lastItem)
	last := doc.Pages[len(doc.Pages)-1]
	assert.NotEmpty(t, last.Terms)
	assert.Empty(t, last.Items)
	assert.Equal(t, len(doc.Pages), doc.TotalPages)
}

func TestComposeShortOrderFitsFirstPage(t *testing.T) {
	doc := Compose(samplePO("LED driver 16W"), ParseTerms("1. Pay within 30 days."), A4())

	require.Len(t, doc.Pages, 2)
	page := doc.Pages[0]
	assert.True(t, page.Title)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Totals)
	assert.Equal(t, "1,180.00", page.Totals.GrandTotal)
	assert.Equal(t, "Rupees One Thousand One Hundred Eighty Only", page.Totals.AmountInWords)

	assert.Equal(t, "Supplier", page.Header[0].Supplier)
	assert.Equal(t, "Plot 12", page.Header[2].Supplier)
	assert.Equal(t, "GIDC Vatva", page.Header[3].Supplier)
	assert.Equal(t, "PO No.", page.Header[0].Label)
	assert.Equal(t, "CIMPO-242500001", page.Header[0].Value)
}

func TestComposeTotalsMoveToNextPageWhenFull(t *testing.T) {
	g := A4()
	po := samplePO("x")
	// enough rows to overflow page one
	for i := 2; i <= 60; i++ {
		item := po.Items[0]
		item.ItemNo = i
		po.Items = append(po.Items, item)
	}
	doc := Compose(po, nil, g)

	totals := 0
	for i, p := range doc.Pages {
		if p.Totals != nil {
			totals++
			assert.Equal(t, len(doc.Pages)-1, i)
		}
	}
	assert.Equal(t, 1, totals)
	assert.Greater(t, len(doc.Pages), 1)
}

func TestTakeChunk(t *testing.T) {
	chunk, rest := takeChunk("One two. Three four. Five six.", 20)
	assert.Equal(t, "One two. Three four.", chunk)
	assert.Equal(t, "Five six.", rest)

	chunk, rest = takeChunk("alpha beta gamma delta", 12)
	assert.Equal(t, "alpha beta", chunk)
	assert.Equal(t, "gamma delta", rest)

	chunk, rest = takeChunk("supercalifragilistic", 5)
	assert.Equal(t, "super", chunk)
	assert.Equal(t, "califragilistic", rest)

	chunk, rest = takeChunk("short", 40)
	assert.Equal(t, "short", chunk)
	assert.Empty(t, rest)
}

func TestTakeChunkConverges(t *testing.T) {
	text := longDescription(3000) + " " + strings.Repeat("x", 200)
	for _, budget := range []int{1, 7, 38, 500} {
		remaining := text
		for steps := 0; remaining != ""; steps++ {
			require.Less(t, steps, 10000)
			chunk, rest := takeChunk(remaining, budget)
			require.NotEmpty(t, chunk)
			require.LessOrEqual(t, utf8.RuneCountInString(chunk), budget)
			require.Less(t, len(rest), len(remaining))
			remaining = rest
		}
	}
}

func TestAmountInWords(t *testing.T) {
	cases := map[string]string{
		"0":          "Rupees Zero Only",
		"1180":       "Rupees One Thousand One Hundred Eighty Only",
		"123456.50":  "Rupees One Lakh Twenty Three Thousand Four Hundred Fifty Six and Fifty Paise Only",
		"10000000":   "Rupees One Crore Only",
		"2500019.05": "Rupees Twenty Five Lakh Nineteen and Five Paise Only",
	}
	for in, want := range cases {
		assert.Equal(t, want, AmountInWords(decimal.RequireFromString(in)), in)
	}
}

func TestParseTerms(t *testing.T) {
	terms := ParseTerms("TERMS\n\n1. Quote the PO number\non every invoice.\n2) Deliver on time.\n- Computer generated.\n")
	require.Len(t, terms, 4)
	assert.Equal(t, "TERMS", terms[0].Text)
	assert.Equal(t, "1. Quote the PO number on every invoice.", terms[1].Text)
	assert.Equal(t, "2) Deliver on time.", terms[2].Text)
	assert.True(t, terms[3].Bullet)
	assert.Equal(t, "Computer generated.", terms[3].Text)
}

func TestPOFileName(t *testing.T) {
	assert.Equal(t, "purchase_orders/Purchase_Order_CIMPO-242500001_Meanwell_India_Pvt_Ltd.pdf",
		POFileName("CIMPO-242500001", "Meanwell India Pvt Ltd"))
	assert.Equal(t, "purchase_orders/Purchase_Order_CIMPO-242500001_A_B.pdf", POFileName("CIMPO-242500001", "A/B"))
}
