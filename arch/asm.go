package arch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// A form is one instruction shape the assembler understands. The text
// template has at most one immediate operand, written as N.
type form struct {
	text string
	size int

	// thumb32 marks a 32-bit Thumb instruction, stored as two halfwords.
	thumb32 bool

	match, mask uint32
	encode      func(n int64) (uint32, error)
	decode      func(w uint32) int64
}

func fixed(text string, w uint32) form {
	return form{
		text:  text,
		size:  4,
		match: w,
		mask:  0xFFFFFFFF,
		encode: func(int64) (uint32, error) {
			return w, nil
		},
	}
}

func fixed16(text string, w uint16) form {
	f := fixed(text, uint32(w))
	f.size = 2
	f.mask = 0xFFFF

	return f
}

func (f form) hasOperand() bool {
	return strings.Contains(f.text, "N")
}

func (f form) render(w uint32) string {
	if !f.hasOperand() {
		return f.text
	}

	return strings.Replace(f.text, "N", strconv.FormatInt(f.decode(w), 10), 1)
}

var (
	spaces    = regexp.MustCompile(`\s+`)
	commas    = regexp.MustCompile(`\s*,\s*`)
	immediate = regexp.MustCompile(`(^|[^a-z0-9_.])(-?(?:0x[0-9a-f]+|[0-9]+))\b`)
)

// normalize lower-cases the instruction and pulls out its immediate operand.
func normalize(text string) (string, int64, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	s = spaces.ReplaceAllString(s, " ")
	s = commas.ReplaceAllString(s, ", ")

	loc := immediate.FindStringSubmatchIndex(s)
	if loc == nil {
		return s, 0, nil
	}

	lit := s[loc[4]:loc[5]]
	n, err := strconv.ParseInt(lit, 0, 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad immediate %q: %w", lit, err)
	}

	return s[:loc[4]] + "N" + s[loc[5]:], n, nil
}

// Assemble encodes a single instruction. Only the instruction shapes used by
// call stubs are supported.
func (a *Arch) Assemble(text string) ([]byte, error) {
	shape, n, err := normalize(text)
	if err != nil {
		return nil, err
	}

	for _, f := range a.isa.forms() {
		if f.text != shape {
			continue
		}

		w, err := f.encode(n)
		if err != nil {
			return nil, fmt.Errorf("%s: cannot assemble %q: %w",
				a.Name, text, err)
		}

		return a.emit(f, w), nil
	}

	return nil, fmt.Errorf("%s: unsupported instruction %q", a.Name, text)
}

func (a *Arch) emit(f form, w uint32) []byte {
	switch {
	case f.thumb32:
		buf := make([]byte, 4)
		a.ByteOrder.PutUint16(buf, uint16(w>>16))
		a.ByteOrder.PutUint16(buf[2:], uint16(w))

		return buf
	case f.size == 2:
		buf := make([]byte, 2)
		a.ByteOrder.PutUint16(buf, uint16(w))

		return buf
	default:
		buf := make([]byte, 4)
		a.ByteOrder.PutUint32(buf, w)

		return buf
	}
}

// An Instruction is one decoded instruction.
type Instruction struct {
	Addr uint64
	Raw  []byte
	Text string
}

// Disassemble decodes code that was produced by Assemble. Words that are not
// one of the supported shapes are shown as data.
func (a *Arch) Disassemble(code []byte, base uint64) []Instruction {
	var insts []Instruction

	for off := 0; off < len(code); {
		text, size := a.decodeAt(code[off:])
		insts = append(insts, Instruction{
			Addr: base + uint64(off),
			Raw:  code[off : off+size],
			Text: text,
		})
		off += size
	}

	return insts
}

func (a *Arch) decodeAt(code []byte) (string, int) {
	if a.Thumb {
		return a.decodeThumb(code)
	}

	if len(code) < 4 {
		return fmt.Sprintf(".byte 0x%02x", code[0]), 1
	}

	w := a.ByteOrder.Uint32(code)
	for _, f := range a.isa.forms() {
		if f.size == 4 && w&f.mask == f.match {
			return f.render(w), 4
		}
	}

	return fmt.Sprintf(".word 0x%08x", w), 4
}

func (a *Arch) decodeThumb(code []byte) (string, int) {
	if len(code) < 2 {
		return fmt.Sprintf(".byte 0x%02x", code[0]), 1
	}

	hw1 := a.ByteOrder.Uint16(code)
	if hw1>>11 >= 0x1D && len(code) >= 4 {
		w := uint32(hw1)<<16 | uint32(a.ByteOrder.Uint16(code[2:]))
		for _, f := range a.isa.forms() {
			if f.thumb32 && w&f.mask == f.match {
				return f.render(w), 4
			}
		}

		return fmt.Sprintf(".word 0x%08x", a.ByteOrder.Uint32(code)), 4
	}

	for _, f := range a.isa.forms() {
		if !f.thumb32 && f.size == 2 && uint32(hw1)&f.mask == f.match {
			return f.render(uint32(hw1)), 2
		}
	}

	return fmt.Sprintf(".hword 0x%04x", hw1), 2
}

func signExtend(v uint32, bits uint) int64 {
	shift := 64 - bits
	return int64(uint64(v)<<shift) >> shift
}

func inRange(n, lo, hi int64) error {
	if n < lo || n > hi {
		return fmt.Errorf("immediate %d out of range [%d, %d]", n, lo, hi)
	}

	return nil
}

func multipleOf(n, m int64) error {
	if n%m != 0 {
		return fmt.Errorf("immediate %d is not a multiple of %d", n, m)
	}

	return nil
}
