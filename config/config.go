// Package config reads the YAML files that describe a firmware, its memory
// map, its symbols and its intercepts.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/trap"
)

// ScratchMemory names the memory region the scratch heap lives in.
// "halucinator" is accepted too.
const ScratchMemory = "scratch"

// DefaultArch is the architecture of a machine without one.
const DefaultArch = "cortex-m3"

// Machine describes the emulated CPU.
type Machine struct {
	Arch       string `yaml:"arch"`
	CPUModel   string `yaml:"cpu_model"`
	EntryAddr  *Uint  `yaml:"entry_addr"`
	InitSP     *Uint  `yaml:"init_sp"`
	VectorBase *Uint  `yaml:"vector_base"`

	// GDB is the host:port of the emulator's GDB stub.
	GDB string `yaml:"gdb"`

	// GDBMaxTransfer bounds the bytes of one GDB memory packet. Zero keeps
	// the default.
	GDBMaxTransfer int `yaml:"gdb_max_transfer"`

	Source string `yaml:"-"`
}

// Memory is a region of the guest memory map.
type Memory struct {
	Name        string `yaml:"-"`
	BaseAddr    Uint   `yaml:"base_addr"`
	Size        Uint   `yaml:"size"`
	Permissions string `yaml:"permissions"`
	File        string `yaml:"file"`
	Emulate     string `yaml:"emulate"`

	Source string `yaml:"-"`
}

// Contains tells whether addr is in the region.
func (m Memory) Contains(addr uint64) bool {
	return addr >= uint64(m.BaseAddr) && addr < uint64(m.BaseAddr+m.Size)
}

// Intercept is an intercepts entry.
type Intercept struct {
	Class            string         `yaml:"class"`
	Function         string         `yaml:"function"`
	Addr             *Uint          `yaml:"addr"`
	Symbol           string         `yaml:"symbol"`
	ClassArgs        map[string]any `yaml:"class_args"`
	RegistrationArgs map[string]any `yaml:"registration_args"`
	RunOnce          bool           `yaml:"run_once"`
	Watchpoint       Watch          `yaml:"watchpoint"`

	Source string `yaml:"-"`
}

// Bus configures the peripheral bus.
type Bus struct {
	RxPort       int           `yaml:"rx_port"`
	TxPort       int           `yaml:"tx_port"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Monitor configures the HTTP monitor.
type Monitor struct {
	Enabled     bool `yaml:"enabled"`
	Port        int  `yaml:"port"`
	OpenBrowser bool `yaml:"open_browser"`
}

// Record configures the run database.
type Record struct {
	Path  string `yaml:"path"`
	Trace bool   `yaml:"trace"`
}

// Config is the merged configuration.
type Config struct {
	Machine    Machine
	Memories   map[string]Memory
	Intercepts []Intercept
	Symbols    *SymbolTable
	Bus        Bus
	Monitor    Monitor
	Record     Record
	LogLevel   string
	Options    map[string]any

	Files []string
}

// file is the layout of one YAML file.
type file struct {
	Machine     *Machine          `yaml:"machine"`
	Memories    map[string]Memory `yaml:"memories"`
	Peripherals map[string]Memory `yaml:"peripherals"`
	Intercepts  []Intercept       `yaml:"intercepts"`
	Symbols     symbolMap         `yaml:"symbols"`
	SymbolFiles []string          `yaml:"symbol_files"`
	Bus         *Bus              `yaml:"bus"`
	Monitor     *Monitor          `yaml:"monitor"`
	Record      *Record           `yaml:"record"`
	LogLevel    string            `yaml:"log_level"`
	Options     map[string]any    `yaml:"options"`
}

// New returns a configuration holding the defaults only.
func New() *Config {
	return &Config{
		Machine:  Machine{Arch: DefaultArch},
		Memories: make(map[string]Memory),
		Symbols:  NewSymbolTable(),
		Bus: Bus{
			RxPort:       bus.DefaultRxPort,
			TxPort:       bus.DefaultTxPort,
			PollInterval: bus.DefaultPollInterval,
		},
		LogLevel: "info",
		Options:  make(map[string]any),
	}
}

// Load reads files in order. Later files replace the machine and the
// memories of the same name, and add intercepts and symbols.
func Load(logger *slog.Logger, paths ...string) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := New()
	for _, p := range paths {
		if err := c.AddFile(logger, p); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// AddFile merges one YAML file.
func (c *Config) AddFile(logger *slog.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f file

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", path, err)
	}

	c.Files = append(c.Files, path)

	if f.Machine != nil {
		if c.Machine.Source != "" {
			logger.Warn("machine replaced",
				"old", c.Machine.Source, "new", path)
		}

		c.Machine = *f.Machine
		c.Machine.Source = path
		if c.Machine.Arch == "" {
			c.Machine.Arch = DefaultArch
		}
	}

	c.addMemories(logger, path, f.Memories)
	c.addMemories(logger, path, f.Peripherals)

	for _, i := range f.Intercepts {
		i.Source = path
		c.Intercepts = append(c.Intercepts, i)
	}

	for _, s := range f.Symbols {
		s.Source = path
		c.Symbols.Add(s)
	}

	for _, sf := range f.SymbolFiles {
		if !filepath.IsAbs(sf) {
			sf = filepath.Join(filepath.Dir(path), sf)
		}

		if err := c.Symbols.LoadCSV(sf); err != nil {
			return err
		}
	}

	c.mergeSettings(f)

	return nil
}

func (c *Config) addMemories(
	logger *slog.Logger,
	path string,
	mems map[string]Memory,
) {
	for name, m := range mems {
		if old, ok := c.Memories[name]; ok {
			logger.Warn("memory replaced",
				"name", name, "old", old.Source, "new", path)
		}

		m.Name = name
		m.Source = path
		c.Memories[name] = m
	}
}

func (c *Config) mergeSettings(f file) {
	if f.Bus != nil {
		if f.Bus.RxPort != 0 {
			c.Bus.RxPort = f.Bus.RxPort
		}

		if f.Bus.TxPort != 0 {
			c.Bus.TxPort = f.Bus.TxPort
		}

		if f.Bus.PollInterval != 0 {
			c.Bus.PollInterval = f.Bus.PollInterval
		}
	}

	if f.Monitor != nil {
		c.Monitor = *f.Monitor
	}

	if f.Record != nil {
		c.Record = *f.Record
	}

	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}

	for k, v := range f.Options {
		c.Options[k] = v
	}
}

// Arch returns the architecture of the machine.
func (c *Config) Arch() (*arch.Arch, error) {
	return arch.Lookup(c.Machine.Arch)
}

// Scratch returns the memory region of the scratch heap.
func (c *Config) Scratch() (Memory, bool) {
	if m, ok := c.Memories[ScratchMemory]; ok {
		return m, true
	}

	m, ok := c.Memories["halucinator"]

	return m, ok
}

// MemoryNames returns the names of the memories, sorted.
func (c *Config) MemoryNames() []string {
	names := make([]string, 0, len(c.Memories))
	for n := range c.Memories {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Validate checks what the engine needs before it starts.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Arch(); err != nil {
		errs = append(errs, err)
	}

	for _, name := range c.MemoryNames() {
		m := c.Memories[name]
		if m.Size == 0 || m.Size%4096 != 0 {
			errs = append(errs, fmt.Errorf(
				"%s: memory %s: size %#x is not a nonzero multiple of 4kB",
				m.Source, name, uint64(m.Size)))
		}
	}

	if _, ok := c.Scratch(); !ok {
		errs = append(errs, fmt.Errorf(
			"a memory region named %s is required", ScratchMemory))
	}

	for _, i := range c.Intercepts {
		if i.Class == "" || i.Function == "" {
			errs = append(errs, fmt.Errorf(
				"%s: intercept needs a class and a function", i.Source))
		}
	}

	if c.Bus.RxPort == c.Bus.TxPort {
		errs = append(errs, fmt.Errorf("bus ports must differ"))
	}

	return errors.Join(errs...)
}

// ClassName strips a dotted module path from a class, so that
// halucinator.bp_handlers.generic.counter.Counter names Counter.
func ClassName(class string) string {
	if i := strings.LastIndex(class, "."); i >= 0 {
		return class[i+1:]
	}

	return class
}

// Descriptors resolves the intercepts. An intercept without an address is
// looked up by symbol, or by function name when it has no symbol, and is
// left unresolved when the lookup fails. Breakpoint addresses lose the
// Thumb bit on Thumb machines.
func (c *Config) Descriptors(logger *slog.Logger) ([]intercept.Descriptor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a, err := c.Arch()
	if err != nil {
		return nil, err
	}

	descs := make([]intercept.Descriptor, 0, len(c.Intercepts))
	for _, i := range c.Intercepts {
		d := intercept.Descriptor{
			Class:            ClassName(i.Class),
			Function:         i.Function,
			Symbol:           i.Symbol,
			ClassArgs:        intercept.Args(i.ClassArgs),
			RegistrationArgs: intercept.Args(i.RegistrationArgs),
			RunOnce:          i.RunOnce,
			Watch:            trap.WatchKind(i.Watchpoint),
			Source:           i.Source,
		}

		switch {
		case i.Addr != nil:
			d.Addr = uint64(*i.Addr)
			d.Resolved = true
		default:
			name := i.Symbol
			if name == "" {
				name = i.Function
			}

			d.Addr, d.Resolved = c.Symbols.Lookup(name)
			if !d.Resolved {
				logger.Warn("unresolved symbol",
					"symbol", name, "source", i.Source)
			}
		}

		if d.Resolved && d.Watch == trap.WatchNone {
			d.Addr = a.CodeAddr(d.Addr)
		}

		descs = append(descs, d)
	}

	return descs, nil
}
