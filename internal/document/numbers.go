package document

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// numbers formats figures with Indian digit grouping.
type numbers struct {
	p *message.Printer
}

func newNumbers() *numbers {
	return &numbers{p: message.NewPrinter(language.MustParse("en-IN"))}
}

func (n *numbers) amount(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return n.p.Sprint(number.Decimal(f, number.Scale(2)))
}

func (n *numbers) quantity(d decimal.Decimal) string {
	f, _ := d.Float64()
	return n.p.Sprint(number.Decimal(f, number.MaxFractionDigits(3)))
}

var (
	ones = []string{"", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine",
		"Ten", "Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen", "Sixteen", "Seventeen", "Eighteen", "Nineteen"}
	tens = []string{"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety"}
)

// AmountInWords spells a rupee amount using crore, lakh and thousand,
// e.g. 123456.50 -> "Rupees One Lakh Twenty Three Thousand Four Hundred Fifty Six and Fifty Paise Only".
func AmountInWords(d decimal.Decimal) string {
	d = d.Abs().Round(2)
	rupees := d.Truncate(0).IntPart()
	paise := d.Sub(d.Truncate(0)).Mul(decimal.NewFromInt(100)).IntPart()

	words := "Zero"
	if rupees > 0 {
		words = spell(rupees)
	}
	out := "Rupees " + words
	if paise > 0 {
		out += " and " + spell(paise) + " Paise"
	}
	return out + " Only"
}

func spell(n int64) string {
	var parts []string
	for _, unit := range []struct {
		value int64
		name  string
	}{{10000000, "Crore"}, {100000, "Lakh"}, {1000, "Thousand"}, {100, "Hundred"}} {
		if n >= unit.value {
			parts = append(parts, spell(n/unit.value), unit.name)
			n %= unit.value
		}
	}
	switch {
	case n >= 20:
		parts = append(parts, tens[n/10])
		if n%10 > 0 {
			parts = append(parts, ones[n%10])
		}
	case n > 0:
		parts = append(parts, ones[n])
	}
	return strings.Join(parts, " ")
}
