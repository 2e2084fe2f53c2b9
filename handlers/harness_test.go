package handlers

import (
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/guestcall"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/periph"
	"github.com/sarchlab/firmhook/scratch"
	"github.com/sarchlab/firmhook/trap"
	"github.com/sarchlab/firmhook/trap/memtarget"
)

const (
	stackTop    = 0x2000_0800
	scratchBase = 0x3000_0000
	memcpyAddr  = 0x6000
)

type symbols map[string]uint64

func (s symbols) Lookup(name string) (uint64, bool) {
	addr, ok := s[name]
	return addr, ok
}

func (s symbols) NameOf(addr uint64) (string, bool) {
	for name, a := range s {
		if a == addr {
			return name, true
		}
	}

	return "", false
}

// harness wires handlers to an in-memory ARM target.
type harness struct {
	arch       *arch.Arch
	target     *memtarget.Target
	env        *intercept.Env
	registry   *intercept.Registry
	dispatcher *intercept.Dispatcher
	injector   *guestcall.Injector
	models     *periph.Set
	device     *bus.MemTransport
	exitCodes  []int
}

func newHarness() *harness {
	h := &harness{arch: arch.MustLookup("arm")}

	h.target = memtarget.New(h.arch)
	h.target.Map(0x2000_0000, 0x1000)
	h.target.Map(scratchBase, 0x1000)

	logger := slog.New(slog.NewTextHandler(GinkgoWriter, nil))

	emuSide, devSide := bus.NewMemPair()
	Expect(devSide.Subscribe("")).To(Succeed())
	h.device = devSide

	b, err := bus.MakeBuilder().
		WithTransport(emuSide).
		WithLogger(logger).
		Build()
	Expect(err).NotTo(HaveOccurred())

	h.models, err = periph.NewSet(b, h.target, logger)
	Expect(err).NotTo(HaveOccurred())

	h.env = &intercept.Env{
		Target:  h.target,
		Arch:    h.arch,
		Logger:  logger,
		Symbols: symbols{"memcpy": memcpyAddr, "HardFault_Handler": 0x900},
		Models:  b,
		Shutdown: func(code int) {
			h.exitCodes = append(h.exitCodes, code)
		},
	}

	h.registry = intercept.NewRegistry(h.env)
	RegisterAll(h.registry)
	h.dispatcher = intercept.NewDispatcher(h.env, h.registry)

	h.injector = guestcall.MakeBuilder().
		WithTarget(h.target).
		WithArch(h.arch).
		WithHeap(scratch.NewHeap(scratchBase, 0x1000, h.arch.PointerSize)).
		WithBinder(h.dispatcher).
		WithSymbols(h.env.Symbols).
		WithLogger(logger).
		Build()
	h.env.Calls = h.injector

	Expect(h.target.WriteRegister("sp", stackTop)).To(Succeed())

	DeferCleanup(h.models.Shutdown)

	return h
}

func (h *harness) register(
	class, function string,
	addr uint64,
	args intercept.Args,
) {
	_, err := h.dispatcher.Register(intercept.Descriptor{
		Addr:             addr,
		Resolved:         true,
		Class:            class,
		Function:         function,
		RegistrationArgs: args,
		Source:           "test.yaml",
	})
	Expect(err).NotTo(HaveOccurred())
}

// call makes the guest call addr from return address lr.
func (h *harness) call(addr, lr uint64) {
	Expect(h.target.WriteRegister("lr", lr)).To(Succeed())
	Expect(h.target.Fire(addr)).To(Succeed())
}

func (h *harness) reg(name string) uint64 {
	v, err := h.target.ReadRegister(name)
	Expect(err).NotTo(HaveOccurred())
	return v
}

func (h *harness) word(addr uint64) uint64 {
	v, err := trap.ReadWord(h.target, addr, 4)
	Expect(err).NotTo(HaveOccurred())
	return v
}

// runMemcpy plays the guest side of an injected memcpy call: the callee
// copies, then the stub restores the link register and reaches its return
// instruction.
func (h *harness) runMemcpy() {
	pc := h.reg("pc")

	var stub *guestcall.StubInfo
	for _, s := range h.injector.Stubs() {
		if s.Base == pc {
			s := s
			stub = &s
		}
	}
	Expect(stub).NotTo(BeNil())
	Expect(stub.Target).To(Equal(uint64(memcpyAddr)))

	dst, src, n := h.reg("r0"), h.reg("r1"), h.reg("r2")
	data, err := trap.ReadBytes(h.target, src, int(n))
	Expect(err).NotTo(HaveOccurred())
	Expect(trap.WriteBytes(h.target, dst, data)).To(Succeed())
	Expect(h.target.WriteRegister("r0", dst)).To(Succeed())

	sp := h.reg("sp")
	Expect(h.target.WriteRegister("lr", h.word(sp))).To(Succeed())
	Expect(h.target.WriteRegister("sp", sp+4)).To(Succeed())

	Expect(h.target.Fire(stub.TrapAddr)).To(Succeed())
}
