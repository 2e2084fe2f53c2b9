package config

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/firmhook/trap"
)

// Uint is an address or a size. It is written as a YAML integer or as a
// string with a base prefix.
type Uint uint64

// UnmarshalYAML parses decimal, hex, octal and binary spellings.
func (u *Uint) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: want an integer", node.Line)
	}

	v, err := strconv.ParseUint(node.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*u = Uint(v)

	return nil
}

// Watch is the watchpoint field of an intercept: false for a breakpoint,
// r, w, rw, or true for rw.
type Watch trap.WatchKind

// UnmarshalYAML accepts booleans and watch kind spellings.
func (w *Watch) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: want a watchpoint kind", node.Line)
	}

	if b, err := strconv.ParseBool(node.Value); err == nil && node.Tag == "!!bool" {
		*w = Watch(trap.WatchNone)
		if b {
			*w = Watch(trap.WatchReadWrite)
		}

		return nil
	}

	k, err := trap.ParseWatchKind(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*w = Watch(k)

	return nil
}

// symbolMap is the symbols section, address to name.
type symbolMap []Symbol

func (m *symbolMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: symbols must be a mapping", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		var addr Uint
		if err := addr.UnmarshalYAML(node.Content[i]); err != nil {
			return err
		}

		*m = append(*m, Symbol{
			Name: node.Content[i+1].Value,
			Addr: uint64(addr),
		})
	}

	return nil
}
