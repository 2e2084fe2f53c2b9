package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// A Symbol is a named guest address range.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64

	// Source is the file the symbol comes from.
	Source string
}

// Contains tells whether addr falls in the symbol, end inclusive.
func (s Symbol) Contains(addr uint64) bool {
	return addr >= s.Addr && addr <= s.Addr+s.Size
}

// A SymbolTable maps guest symbols to addresses. The first definition of a
// name wins a lookup by name.
type SymbolTable struct {
	symbols []Symbol
	byName  map[string]int
}

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byName: make(map[string]int)}
}

// Add adds a symbol.
func (t *SymbolTable) Add(s Symbol) {
	if _, ok := t.byName[s.Name]; !ok {
		t.byName[s.Name] = len(t.symbols)
	}

	t.symbols = append(t.symbols, s)
}

// Len returns the number of symbols.
func (t *SymbolTable) Len() int {
	return len(t.symbols)
}

// Symbols returns the symbols ordered by address.
func (t *SymbolTable) Symbols() []Symbol {
	list := append([]Symbol(nil), t.symbols...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Addr < list[j].Addr })

	return list
}

// Lookup returns the address of a symbol.
func (t *SymbolTable) Lookup(name string) (uint64, bool) {
	i, ok := t.byName[name]
	if !ok {
		return 0, false
	}

	return t.symbols[i].Addr, true
}

// NameOf returns the name of the first symbol that contains addr.
func (t *SymbolTable) NameOf(addr uint64) (string, bool) {
	for _, s := range t.symbols {
		if s.Contains(addr) {
			return s.Name, true
		}
	}

	return "", false
}

// LoadCSV adds the symbols of a CSV file with rows of name, first address,
// last address.
func (t *SymbolTable) LoadCSV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'

	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		s, err := csvSymbol(row)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}

		s.Source = path
		t.Add(s)
	}
}

func csvSymbol(row []string) (Symbol, error) {
	if len(row) < 2 {
		return Symbol{}, fmt.Errorf("want name, first address, last address")
	}

	first, err := strconv.ParseUint(strings.TrimSpace(row[1]), 0, 64)
	if err != nil {
		return Symbol{}, err
	}

	last := first
	if len(row) > 2 {
		last, err = strconv.ParseUint(strings.TrimSpace(row[2]), 0, 64)
		if err != nil {
			return Symbol{}, err
		}
	}

	if last < first {
		return Symbol{}, fmt.Errorf("last address %#x before first %#x", last, first)
	}

	return Symbol{
		Name: strings.TrimSpace(row[0]),
		Addr: first,
		Size: last - first,
	}, nil
}
