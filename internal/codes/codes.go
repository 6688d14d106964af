// Package codes reads and builds CIMCON composite part numbers.
//
// A part number is the concatenation of fixed-width segments:
//
//	MMM S RRR KK DDD VV [XXX]
//	main category, sub category, rating, make, model, two-digit variant
//	and an optional remarks code
//
// giving 14 to 17 upper-case alphanumeric characters.
package codes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cimcon/p2p/internal/shared"
)

const (
	mainWidth    = 3
	subWidth     = 1
	ratingWidth  = 3
	makeWidth    = 2
	modelWidth   = 3
	variantWidth = 2
	remarksWidth = 3

	// MinLength and MaxLength bound a valid part number.
	MinLength = mainWidth + subWidth + ratingWidth + makeWidth + modelWidth + variantWidth
	MaxLength = MinLength + remarksWidth
)

var (
	// ErrInvalidPartNumber is returned for codes outside the length or charset bounds.
	ErrInvalidPartNumber = shared.NewError(shared.KindValidation, "invalid_part_number", "codes: invalid cimcon part number")
	// ErrUnknownReference is returned when a segment name is not in the reference tables.
	ErrUnknownReference = shared.NewError(shared.KindValidation, "invalid_part_number", "codes: unknown reference value")
	// ErrHSNNotFound is returned when no HSN code exists for a material group.
	ErrHSNNotFound = shared.NewError(shared.KindValidation, "hsn_not_found", "codes: hsn not found for material group")
)

// Segment is one decoded position of a part number.
type Segment struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// PartNumber is a decoded CIMCON code.
type PartNumber struct {
	Code         string  `json:"code"`
	MainCategory Segment `json:"main_category"`
	SubCategory  Segment `json:"sub_category"`
	Rating       Segment `json:"rating"`
	Make         Segment `json:"make"`
	Model        Segment `json:"model"`
	Variant      int     `json:"variant"`
	Remarks      Segment `json:"remarks"`
}

// Parts names the reference values used to build a code.
type Parts struct {
	MainCategory string `json:"main_category" validate:"required"`
	SubCategory  string `json:"sub_category" validate:"required"`
	Rating       string `json:"rating" validate:"required"`
	Make         string `json:"make" validate:"required"`
	Model        string `json:"model" validate:"required"`
	Variant      int    `json:"variant" validate:"gte=0,lte=99"`
	Remarks      string `json:"remarks"`
}

// Valid reports whether code satisfies the length and charset bounds.
func Valid(code string) bool {
	return Validate(code) == nil
}

// Normalize trims and upper-cases a part number as entered by a user.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidInput is the check behind the cimcon validation tag: blank is allowed
// and any other value is normalized before Valid.
func ValidInput(code string) bool {
	return code == "" || Valid(Normalize(code))
}

// Validate checks length bounds and that code is upper-case alphanumeric.
func Validate(code string) error {
	if len(code) < MinLength || len(code) > MaxLength {
		return fmt.Errorf("%w: %q must be %d-%d characters", ErrInvalidPartNumber, code, MinLength, MaxLength)
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidPartNumber, code, r)
		}
	}
	return nil
}

// Parse splits code into its positional segments and resolves their names.
// Codes absent from the tables keep an empty name.
func (t *Tables) Parse(code string) (PartNumber, error) {
	code = Normalize(code)
	if err := Validate(code); err != nil {
		return PartNumber{}, err
	}
	pos := 0
	take := func(width int) string {
		s := code[pos : pos+width]
		pos += width
		return s
	}
	pn := PartNumber{Code: code}
	pn.MainCategory = segment(t.main, take(mainWidth))
	pn.SubCategory = segment(t.sub, take(subWidth))
	pn.Rating = segment(t.rating, take(ratingWidth))
	pn.Make = segment(t.make, take(makeWidth))
	pn.Model = segment(t.model, take(modelWidth))
	variant, err := strconv.Atoi(take(variantWidth))
	if err != nil {
		return PartNumber{}, fmt.Errorf("%w: variant of %q is not numeric", ErrInvalidPartNumber, code)
	}
	pn.Variant = variant
	if rest := code[pos:]; rest != "" {
		if len(rest) != remarksWidth {
			return PartNumber{}, fmt.Errorf("%w: remarks of %q must be %d characters", ErrInvalidPartNumber, code, remarksWidth)
		}
		pn.Remarks = segment(t.remarks, rest)
	}
	return pn, nil
}

// Generate builds a part number from reference names.
func (t *Tables) Generate(p Parts) (string, error) {
	if p.Variant < 0 || p.Variant > 99 {
		return "", fmt.Errorf("%w: variant %d out of range", ErrInvalidPartNumber, p.Variant)
	}
	var b strings.Builder
	lookups := []struct {
		segment string
		tbl     table
		name    string
	}{
		{"main category", t.main, p.MainCategory},
		{"sub category", t.sub, p.SubCategory},
		{"rating", t.rating, p.Rating},
		{"make", t.make, p.Make},
		{"model", t.model, p.Model},
	}
	for _, l := range lookups {
		c, ok := l.tbl.code(l.name)
		if !ok {
			return "", fmt.Errorf("%w: %s %q", ErrUnknownReference, l.segment, l.name)
		}
		b.WriteString(c)
	}
	fmt.Fprintf(&b, "%02d", p.Variant)
	if strings.TrimSpace(p.Remarks) != "" {
		c, ok := t.remarks.code(p.Remarks)
		if !ok {
			return "", fmt.Errorf("%w: remarks %q", ErrUnknownReference, p.Remarks)
		}
		b.WriteString(c)
	}
	return b.String(), nil
}

func segment(t table, code string) Segment {
	return Segment{Code: code, Name: t.name(code)}
}
