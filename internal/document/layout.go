package document

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/procurement"
)

// Items table columns.
const (
	colSerial = iota
	colPart
	colDescription
	colHSN
	colQuantity
	colUnitPrice
	colGST
	colTotal
)

// ColumnWidthsMM are the item table column widths in millimetres.
var ColumnWidthsMM = [8]float64{12, 28, 55, 20, 16, 20, 14, 22}

const pointsPerMM = 72 / 25.4

// Geometry holds page and table metrics in points.
type Geometry struct {
	PageWidth         float64
	PageHeight        float64
	HeaderBand        float64
	FooterBand        float64
	FontSize          float64
	LineHeight        float64
	RowPadding        float64
	FooterReserve     float64
	TitleHeight       float64
	HeaderRowHeight   float64
	TableHeaderHeight float64
	TotalsRowHeight   float64
	TermsFontSize     float64
	TermsLineHeight   float64
}

// A4 is the purchase order page geometry.
func A4() Geometry {
	return Geometry{
		PageWidth:         595.28,
		PageHeight:        841.89,
		HeaderBand:        72,
		FooterBand:        56,
		FontSize:          8,
		LineHeight:        9.6,
		RowPadding:        4,
		FooterReserve:     18,
		TitleHeight:       28,
		HeaderRowHeight:   11,
		TableHeaderHeight: 20,
		TotalsRowHeight:   13.6,
		TermsFontSize:     9,
		TermsLineHeight:   12,
	}
}

// Frame is the usable height between the header and footer bands.
func (g Geometry) Frame() float64 {
	return g.PageHeight - g.HeaderBand - g.FooterBand
}

// charsPerLine estimates how many glyphs fit on one line of a column.
func (g Geometry) charsPerLine(widthMM float64) int {
	return max(1, int(widthMM*pointsPerMM/(g.FontSize*0.5)))
}

func (g Geometry) termsCharsPerLine() int {
	width := g.PageWidth - 2*10*pointsPerMM
	return max(1, int(width/(g.TermsFontSize*0.5)))
}

// Document is a laid out purchase order.
type Document struct {
	Order      procurement.PurchaseOrder
	Pages      []Page
	TotalPages int
}

// Page is one A4 sheet.
type Page struct {
	Number      int
	Title       bool
	Header      []HeaderRow
	TableHeader bool
	Items       []ItemRow
	Totals      *Totals
	Terms       []Paragraph
}

// HeaderRow is one row of the three column header grid.
type HeaderRow struct {
	Supplier string
	Billing  string
	Label    string
	Value    string
}

// ItemRow is one rendered row of the items table. Continuation rows carry
// only a description.
type ItemRow struct {
	Serial       string
	PartNumber   string
	Description  string
	HSN          string
	Quantity     string
	UnitPrice    string
	GST          string
	Total        string
	Continuation bool
	Height       float64
}

// Totals closes the items table.
type Totals struct {
	Quantity      string
	Taxable       string
	GST           string
	RoundOff      string
	GrandTotal    string
	AmountInWords string
	Height        float64
}

// Paragraph is one terms and conditions entry.
type Paragraph struct {
	Text   string
	Bullet bool
}

type layout struct {
	g       Geometry
	num     *numbers
	pages   []Page
	used    float64
	inItems bool
}

// Compose lays out the order on pages. Descriptions that do not fit the
// remaining space flow into description-only continuation rows; each new
// page re-splits the remaining text against its own space.
func Compose(po procurement.PurchaseOrder, terms []Paragraph, g Geometry) Document {
	l := &layout{g: g, num: newNumbers()}
	l.newPage()
	first := l.current()
	first.Title = true
	first.Header = headerRows(po)
	l.used += g.TitleHeight + float64(len(first.Header))*g.HeaderRowHeight
	l.inItems = true
	first.TableHeader = true
	l.used += g.TableHeaderHeight

	for i, item := range po.Items {
		l.flowItem(i, item)
	}
	l.placeTotals(l.totals(po))
	l.inItems = false
	l.placeTerms(terms)

	return Document{Order: po, Pages: l.pages, TotalPages: len(l.pages)}
}

func (l *layout) current() *Page {
	return &l.pages[len(l.pages)-1]
}

func (l *layout) newPage() {
	l.pages = append(l.pages, Page{Number: len(l.pages) + 1})
	l.used = 0
	if l.inItems {
		l.current().TableHeader = true
		l.used = l.g.TableHeaderHeight
	}
}

// fresh reports whether nothing has been placed in the items area yet.
func (l *layout) fresh() bool {
	p := l.current()
	return len(p.Items) == 0 && p.Totals == nil && len(p.Terms) == 0
}

func (l *layout) remaining(reserve bool) float64 {
	r := l.g.Frame() - l.used
	if reserve {
		r -= l.g.FooterReserve
	}
	return r
}

func (l *layout) flowItem(idx int, item procurement.LineItem) {
	text := normalize(item.MaterialDescription)
	if item.Make != "" {
		text = strings.TrimSpace(text + " Make: " + item.Make)
	}
	cpl := l.g.charsPerLine(ColumnWidthsMM[colDescription])
	quantity := l.num.quantity(item.Quantity) + " " + item.Unit
	fixed := max(1,
		textLines(item.CimconPartNumber, l.g.charsPerLine(ColumnWidthsMM[colPart])),
		textLines(quantity, l.g.charsPerLine(ColumnWidthsMM[colQuantity])))
	// the first item skips the footer reserve so a short row stays on page one
	reserve := idx > 0

	main := true
	for main || text != "" {
		maxLines := int((l.remaining(reserve) - l.g.RowPadding) / l.g.LineHeight)
		if maxLines < 1 || (main && maxLines < fixed) {
			if !l.fresh() {
				l.newPage()
				continue
			}
			maxLines = max(maxLines, fixed, 1)
		}
		var chunk string
		chunk, text = takeChunk(text, cpl*maxLines)
		row := ItemRow{Description: chunk, Continuation: !main}
		lines := textLines(chunk, cpl)
		if main {
			row.Serial = strconv.Itoa(item.ItemNo)
			row.PartNumber = item.CimconPartNumber
			row.HSN = item.HSNCode
			row.Quantity = quantity
			row.UnitPrice = l.num.amount(item.UnitPrice)
			row.GST = item.GSTRate.String() + "%"
			row.Total = l.num.amount(item.TotalPrice)
			lines = max(lines, fixed)
		}
		row.Height = float64(lines)*l.g.LineHeight + l.g.RowPadding
		p := l.current()
		p.Items = append(p.Items, row)
		l.used += row.Height
		main = false
		if text != "" {
			l.newPage()
		}
	}
}

func (l *layout) totals(po procurement.PurchaseOrder) Totals {
	quantity, taxable, gst := decimal.Zero, decimal.Zero, decimal.Zero
	for _, item := range po.Items {
		quantity = quantity.Add(item.Quantity)
		taxable = taxable.Add(item.TotalPrice)
		gst = gst.Add(item.Tax())
	}
	exact := taxable.Add(gst).Round(2)
	grand := exact.Round(0)
	t := Totals{
		Quantity:      l.num.quantity(quantity),
		Taxable:       l.num.amount(taxable),
		GST:           l.num.amount(gst),
		RoundOff:      l.num.amount(grand.Sub(exact)),
		GrandTotal:    l.num.amount(grand),
		AmountInWords: AmountInWords(grand),
	}
	words := textLines(t.AmountInWords, l.g.charsPerLine(ColumnWidthsMM[colDescription]))
	t.Height = 5*l.g.TotalsRowHeight + float64(words)*l.g.LineHeight + l.g.RowPadding
	return t
}

func (l *layout) placeTotals(t Totals) {
	if l.remaining(true) < t.Height && !l.fresh() {
		l.newPage()
	}
	l.current().Totals = &t
	l.used += t.Height
}

// placeTerms always starts on a new page.
func (l *layout) placeTerms(terms []Paragraph) {
	if len(terms) == 0 {
		return
	}
	l.newPage()
	cpl := l.g.termsCharsPerLine()
	for _, para := range terms {
		h := float64(textLines(para.Text, cpl))*l.g.TermsLineHeight + l.g.RowPadding
		if l.remaining(false) < h && !l.fresh() {
			l.newPage()
		}
		p := l.current()
		p.Terms = append(p.Terms, para)
		l.used += h
	}
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// textLines estimates wrapped line count for s at cpl characters per line.
func textLines(s string, cpl int) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 1
	}
	return (n + cpl - 1) / cpl
}

// takeChunk returns the longest leading piece of text within budget
// characters, cutting at sentence ends, then words, then characters. rest is
// strictly shorter than text whenever text is non-empty and budget > 0.
func takeChunk(text string, budget int) (chunk, rest string) {
	budget = max(1, budget)
	if utf8.RuneCountInString(text) <= budget {
		return text, ""
	}
	if n := pack(text, ". ", budget); n > 0 {
		return split(text, n)
	}
	if n := pack(text, " ", budget); n > 0 {
		return split(text, n)
	}
	n, count := 0, 0
	for i := range text {
		if count == budget {
			n = i
			break
		}
		count++
	}
	return split(text, n)
}

// pack returns the byte length of the longest run of leading pieces, cut
// after sep, whose text fits budget characters.
func pack(text, sep string, budget int) int {
	n, runes := 0, 0
	for _, piece := range strings.SplitAfter(text, sep) {
		if runes+utf8.RuneCountInString(strings.TrimRight(piece, " ")) > budget {
			break
		}
		n += len(piece)
		runes += utf8.RuneCountInString(piece)
	}
	return n
}

func split(text string, n int) (string, string) {
	return strings.TrimRight(text[:n], " "), strings.TrimLeft(text[n:], " ")
}
