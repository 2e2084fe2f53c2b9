package handlers

import (
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/periph"
	"github.com/sarchlab/firmhook/trap"
)

// BasicIOClass serves GPIO style accessors with the digital IO model.
//
//	int read_digital(uint32_t channel, uint8_t *value)
//	int write_digital(uint32_t channel, uint8_t value)
var BasicIOClass = intercept.Class{
	Name: "BasicIO",
	New: func(env *intercept.Env, _ intercept.Args) (intercept.Handler, error) {
		m, err := model[*periph.DigitalIO](env, periph.DigitalIOName)
		if err != nil {
			return nil, err
		}

		return &BasicIO{model: m}, nil
	},
}

// BasicIO serves BasicIOClass.
type BasicIO struct {
	model *periph.DigitalIO
}

// Entries declares read_digital and write_digital.
func (h *BasicIO) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{
		intercept.MethodEntry("read_digital", h.readDigital),
		intercept.MethodEntry("write_digital", h.writeDigital),
	}
}

func channelName(id uint64) string {
	return fmt.Sprintf("%d", id)
}

func (h *BasicIO) readDigital(t *intercept.Trap) (intercept.Result, error) {
	args, err := t.Args(2)
	if err != nil {
		return intercept.Result{}, err
	}

	v := h.model.Value(channelName(args[0]))
	if err := t.WriteBytes(args[1], []byte{byte(v)}); err != nil {
		return intercept.Result{}, err
	}

	return intercept.Return(0), nil
}

func (h *BasicIO) writeDigital(t *intercept.Trap) (intercept.Result, error) {
	args, err := t.Args(2)
	if err != nil {
		return intercept.Result{}, err
	}

	if err := h.model.SetValue(channelName(args[0]), int64(args[1]&0xFF)); err != nil {
		return intercept.Result{}, err
	}

	return intercept.Return(0), nil
}

// SysClockClass drives a system clock interrupt with the timer model. The
// firmware functions still run.
//
//	class_args: {irq: <line>, name: <timer>, scale: <n>, rate: <seconds>}
var SysClockClass = intercept.Class{
	Name:   "SysClock",
	Params: []string{"irq", "name", "scale", "rate"},
	New: func(env *intercept.Env, args intercept.Args) (intercept.Handler, error) {
		m, err := model[*periph.Timer](env, periph.TimerName)
		if err != nil {
			return nil, err
		}

		return newSysClock(m, args)
	},
}

// SysClock serves SysClockClass.
type SysClock struct {
	model *periph.Timer
	irq   int
	name  string
	scale float64

	lock sync.Mutex
	rate time.Duration
}

func newSysClock(m *periph.Timer, args intercept.Args) (*SysClock, error) {
	if !args.Has("irq") {
		return nil, fmt.Errorf("SysClock needs an irq")
	}

	irq, err := args.Int("irq", 0)
	if err != nil {
		return nil, err
	}

	name, err := args.String("name", "sysClk")
	if err != nil {
		return nil, err
	}

	scale, err := args.Float("scale", 10)
	if err != nil {
		return nil, err
	}

	rate, err := args.Float("rate", 1)
	if err != nil {
		return nil, err
	}

	if rate <= 0 || scale <= 0 {
		return nil, fmt.Errorf("SysClock rate and scale must be positive")
	}

	return &SysClock{
		model: m,
		irq:   int(irq),
		name:  name,
		scale: scale,
		rate:  seconds(rate),
	}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Rate returns the current tick period.
func (h *SysClock) Rate() time.Duration {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.rate
}

// Entries declares the clock control functions.
func (h *SysClock) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{
		intercept.MethodEntry("sys_clk_enable", h.enable, "sysClkEnable"),
		intercept.MethodEntry("sys_clk_disable", h.disable, "sysClkDisable"),
		intercept.MethodEntry("sys_clk_rate_set", h.rateSet, "sysClkRateSet"),
		intercept.MethodEntry("sys_clk_ack", h.ack, "sysClkInt"),
	}
}

func (h *SysClock) enable(*intercept.Trap) (intercept.Result, error) {
	h.model.Start(h.name, h.irq, h.Rate())
	return intercept.PassThrough(), nil
}

func (h *SysClock) disable(*intercept.Trap) (intercept.Result, error) {
	h.model.Stop(h.name)
	return intercept.PassThrough(), nil
}

func (h *SysClock) rateSet(t *intercept.Trap) (intercept.Result, error) {
	ticks, err := t.Arg(0)
	if err != nil {
		return intercept.Result{}, err
	}

	if ticks == 0 {
		return intercept.Result{}, fmt.Errorf("clock rate of 0 ticks per second")
	}

	h.lock.Lock()
	h.rate = seconds(h.scale / float64(ticks))
	h.lock.Unlock()

	return intercept.PassThrough(), nil
}

func (h *SysClock) ack(*intercept.Trap) (intercept.Result, error) {
	h.model.Clear(h.irq)
	return intercept.PassThrough(), nil
}

// InterruptsClass keeps the interrupt model in step with the firmware's
// interrupt controller calls. The firmware functions still run.
var InterruptsClass = intercept.Class{
	Name: "Interrupts",
	New: func(env *intercept.Env, _ intercept.Args) (intercept.Handler, error) {
		m, err := model[*periph.Interrupts](env, periph.InterruptsName)
		if err != nil {
			return nil, err
		}

		return &interruptsHandler{model: m}, nil
	},
}

type interruptsHandler struct {
	model *periph.Interrupts
}

func (h *interruptsHandler) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{
		intercept.MethodEntry("int_enable", h.line(h.model.Enable), "intEnable"),
		intercept.MethodEntry("int_disable", h.line(h.model.Disable), "intDisable"),
		intercept.MethodEntry("int_ack", h.line(h.model.ClearActive), "intAck"),
		intercept.MethodEntry("int_level_vector_check", h.vectorCheck,
			"intLvlVecChk"),
	}
}

func (h *interruptsHandler) line(f func(int)) intercept.Method {
	return func(t *intercept.Trap) (intercept.Result, error) {
		num, err := t.Arg(0)
		if err != nil {
			return intercept.Result{}, err
		}

		f(int(num))

		return intercept.PassThrough(), nil
	}
}

// vectorCheck serves intLvlVecChk(int *level, int *vector): it hands the
// lowest raised line to the firmware and lowers it.
func (h *interruptsHandler) vectorCheck(t *intercept.Trap) (intercept.Result, error) {
	active := h.model.Active()
	if len(active) == 0 {
		return intercept.Return(0), nil
	}

	args, err := t.Args(2)
	if err != nil {
		return intercept.Result{}, err
	}

	num := active[0]
	width := t.Env.Arch.PointerSize
	if err := trap.WriteWord(t.Target(), args[0], width, 0); err != nil {
		return intercept.Result{}, err
	}

	if err := trap.WriteWord(t.Target(), args[1], width, uint64(num)); err != nil {
		return intercept.Result{}, err
	}

	h.model.ClearActive(num)

	return intercept.Return(0), nil
}

// EthernetClass serves a raw frame driver with the Ethernet model.
//
//	registration_args: {interface_id: <id>, irq: <line>}
var EthernetClass = intercept.Class{
	Name: "EthernetSmartConnect",
	New: func(env *intercept.Env, _ intercept.Args) (intercept.Handler, error) {
		m, err := model[*periph.Ethernet](env, periph.EthernetName)
		if err != nil {
			return nil, err
		}

		return &EthernetSmartConnect{model: m}, nil
	},
}

// EthernetSmartConnect serves EthernetClass.
type EthernetSmartConnect struct {
	model *periph.Ethernet
}

// Entries declares init, input and output.
func (h *EthernetSmartConnect) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{
		h.entry("init", h.init, "ksz8851snl_init"),
		h.entry("input", h.input, "ksz8851snl_read"),
		h.entry("output", h.output, "ksz8851snl_send"),
	}
}

type ethMethod func(t *intercept.Trap, id uint64, irq int) (intercept.Result, error)

func (h *EthernetSmartConnect) entry(
	name string,
	f ethMethod,
	aliases ...string,
) intercept.HandlerEntry {
	return intercept.HandlerEntry{
		Name:    intercept.EntryPoint(name),
		Aliases: aliases,
		Register: func(r intercept.Registration) (intercept.Method, error) {
			id, err := r.Args.Uint("interface_id", 0)
			if err != nil {
				return nil, err
			}

			irq, err := r.Args.Int("irq", -1)
			if err != nil {
				return nil, err
			}

			return func(t *intercept.Trap) (intercept.Result, error) {
				return f(t, id, int(irq))
			}, nil
		},
	}
}

func (h *EthernetSmartConnect) init(
	_ *intercept.Trap,
	id uint64,
	irq int,
) (intercept.Result, error) {
	for _, known := range h.model.Interfaces() {
		if known == id {
			return intercept.Return(0), nil
		}
	}

	h.model.AddInterface(id, irq)

	return intercept.Return(0), nil
}

// input serves int read(uint8_t *buf, uint32_t max). It returns the length
// of the frame copied, or 0 when no frame fits.
func (h *EthernetSmartConnect) input(
	t *intercept.Trap,
	id uint64,
	_ int,
) (intercept.Result, error) {
	count, first, err := h.model.FrameInfo(id)
	if err != nil {
		return intercept.Result{}, err
	}

	args, err := t.Args(2)
	if err != nil {
		return intercept.Result{}, err
	}

	if count == 0 || uint64(first) > args[1] {
		return intercept.Return(0), nil
	}

	frame, _, err := h.model.RxFrame(id)
	if err != nil {
		return intercept.Result{}, err
	}

	if err := t.WriteBytes(args[0], frame.Data); err != nil {
		return intercept.Result{}, err
	}

	return intercept.Return(uint64(len(frame.Data))), nil
}

// output serves int send(const uint8_t *buf, uint32_t len).
func (h *EthernetSmartConnect) output(
	t *intercept.Trap,
	id uint64,
	_ int,
) (intercept.Result, error) {
	args, err := t.Args(2)
	if err != nil {
		return intercept.Result{}, err
	}

	frame, err := t.ReadBytes(args[0], int(args[1]))
	if err != nil {
		return intercept.Result{}, err
	}

	if err := h.model.TxFrame(id, frame); err != nil {
		return intercept.Result{}, err
	}

	return intercept.Return(args[1]), nil
}
