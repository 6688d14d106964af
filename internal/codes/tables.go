package codes

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed reference.yaml
var referenceYAML []byte

// Entry maps a short code to its display name.
type Entry struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type hsnEntry struct {
	MaterialGroup string `yaml:"material_group"`
	HSN           string `yaml:"hsn"`
}

type tablesFile struct {
	MainCategories []Entry    `yaml:"main_categories"`
	SubCategories  []Entry    `yaml:"sub_categories"`
	Ratings        []Entry    `yaml:"ratings"`
	Makes          []Entry    `yaml:"makes"`
	Models         []Entry    `yaml:"models"`
	Remarks        []Entry    `yaml:"remarks"`
	HSN            []hsnEntry `yaml:"hsn"`
}

// table is a bidirectional code/name lookup for one segment.
type table struct {
	width  int
	byCode map[string]string
	byName map[string]string
}

func newTable(segment string, width int, entries []Entry) (table, error) {
	t := table{width: width, byCode: make(map[string]string, len(entries)), byName: make(map[string]string, len(entries))}
	for _, e := range entries {
		code := strings.ToUpper(strings.TrimSpace(e.Code))
		if len(code) != width {
			return table{}, fmt.Errorf("codes: %s code %q must be %d characters", segment, e.Code, width)
		}
		if _, dup := t.byCode[code]; dup {
			return table{}, fmt.Errorf("codes: duplicate %s code %q", segment, code)
		}
		t.byCode[code] = e.Name
		t.byName[normaliseName(e.Name)] = code
	}
	return t, nil
}

func (t table) code(name string) (string, bool) {
	c, ok := t.byName[normaliseName(name)]
	return c, ok
}

func (t table) name(code string) string {
	return t.byCode[strings.ToUpper(code)]
}

// Tables holds the reference data used to build and read part numbers.
type Tables struct {
	main    table
	sub     table
	rating  table
	make    table
	model   table
	remarks table
	hsn     map[string]string
}

// LoadTables parses reference tables from YAML.
func LoadTables(data []byte) (*Tables, error) {
	var f tablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("codes: parse tables: %w", err)
	}
	var (
		t   Tables
		err error
	)
	if t.main, err = newTable("main category", mainWidth, f.MainCategories); err != nil {
		return nil, err
	}
	if t.sub, err = newTable("sub category", subWidth, f.SubCategories); err != nil {
		return nil, err
	}
	if t.rating, err = newTable("rating", ratingWidth, f.Ratings); err != nil {
		return nil, err
	}
	if t.make, err = newTable("make", makeWidth, f.Makes); err != nil {
		return nil, err
	}
	if t.model, err = newTable("model", modelWidth, f.Models); err != nil {
		return nil, err
	}
	if t.remarks, err = newTable("remarks", remarksWidth, f.Remarks); err != nil {
		return nil, err
	}
	t.hsn = make(map[string]string, len(f.HSN))
	for _, h := range f.HSN {
		t.hsn[normaliseName(h.MaterialGroup)] = strings.TrimSpace(h.HSN)
	}
	return &t, nil
}

var (
	defaultOnce   sync.Once
	defaultTables *Tables
	defaultErr    error
)

// Default returns the embedded reference tables.
func Default() *Tables {
	defaultOnce.Do(func() {
		defaultTables, defaultErr = LoadTables(referenceYAML)
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultTables
}

// LookupHSN returns the HSN code for a material group.
func (t *Tables) LookupHSN(materialGroup string) (string, error) {
	hsn, ok := t.hsn[normaliseName(materialGroup)]
	if !ok || hsn == "" {
		return "", fmt.Errorf("%w: %q", ErrHSNNotFound, materialGroup)
	}
	return hsn, nil
}

func normaliseName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
