package handlers

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/trap"
)

var _ = Describe("Counter", func() {
	It("should count from zero on clock_seconds and return to the caller", func() {
		h := newHarness()
		h.register("Counter", "clock_seconds", 0x1000, nil)

		for i := 0; i < 5; i++ {
			lr := uint64(0x8000 + 0x10*i)
			h.call(0x1000, lr)

			Expect(h.reg("r0")).To(Equal(uint64(i)))
			Expect(h.reg("pc")).To(Equal(lr))
		}
	})

	It("should count each location on its own", func() {
		h := newHarness()
		h.register("Counter", "clock_seconds", 0x1000, nil)
		h.register("Counter", "HAL_GetTick", 0x1100, intercept.Args{"increment": 10})

		h.call(0x1000, 0x8000)
		h.call(0x1100, 0x8000)
		h.call(0x1100, 0x8000)
		Expect(h.reg("r0")).To(Equal(uint64(10)))

		h.call(0x1000, 0x8000)
		Expect(h.reg("r0")).To(Equal(uint64(1)))
	})
})

var _ = Describe("Timer", func() {
	It("should return scaled milliseconds since registration", func() {
		h := newHarness()

		now := time.Unix(1000, 0)
		timer := NewTimer(func() time.Time { return now })
		h.registry.RegisterClass(intercept.Class{
			Name: "FakeTimer",
			New: func(*intercept.Env, intercept.Args) (intercept.Handler, error) {
				return timer, nil
			},
		})

		h.register("FakeTimer", "HAL_GetTick", 0x1000, intercept.Args{"scale": 2})

		now = now.Add(3 * time.Second)
		h.call(0x1000, 0x8000)

		Expect(h.reg("r0")).To(Equal(uint64(1500)))
	})

	It("should reject a zero scale", func() {
		h := newHarness()

		_, err := h.dispatcher.Register(intercept.Descriptor{
			Addr: 0x1000, Resolved: true, Class: "Timer", Function: "t",
			RegistrationArgs: intercept.Args{"scale": 0},
		})

		var cfgErr *intercept.ConfigError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
	})
})

var _ = Describe("Simple handlers", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	It("should return zero", func() {
		h.register("ReturnZero", "HAL_Init", 0x1000, nil)
		Expect(h.target.WriteRegister("r0", 7)).To(Succeed())

		h.call(0x1000, 0x8000)

		Expect(h.reg("r0")).To(BeZero())
		Expect(h.reg("pc")).To(Equal(uint64(0x8000)))
	})

	It("should return constants", func() {
		h.register("ReturnConstant", "HAL_RCC_GetSysClockFreq", 0x1000,
			intercept.Args{"ret_value": "0x044AA200"})

		h.call(0x1000, 0x8000)

		Expect(h.reg("r0")).To(Equal(uint64(72_000_000)))
	})

	It("should require a constant", func() {
		_, err := h.dispatcher.Register(intercept.Descriptor{
			Addr: 0x1000, Resolved: true, Class: "ReturnConstant", Function: "f",
		})
		Expect(err).To(HaveOccurred())
	})

	It("should skip functions", func() {
		h.register("SkipFunc", "HAL_Delay", 0x1000, nil)
		Expect(h.target.WriteRegister("r0", 7)).To(Succeed())

		h.call(0x1000, 0x8000)

		Expect(h.reg("r0")).To(Equal(uint64(7)))
		Expect(h.reg("pc")).To(Equal(uint64(0x8000)))
	})

	It("should move the program counter", func() {
		h.register("MovePC", "wait_loop", 0x1000, intercept.Args{"move_by": 8})

		h.call(0x1000, 0x8000)

		Expect(h.reg("pc")).To(Equal(uint64(0x1008)))
	})

	It("should print characters and optionally run the function", func() {
		h.register("PrintChar", "putchar", 0x1000, nil)
		h.register("PrintChar", "__io_putchar", 0x1100,
			intercept.Args{"intercept": false})
		Expect(h.target.WriteRegister("r0", 'A')).To(Succeed())

		h.call(0x1000, 0x8000)
		Expect(h.reg("pc")).To(Equal(uint64(0x8000)))

		h.call(0x1100, 0x8000)
		Expect(h.reg("pc")).To(Equal(uint64(0x1100)))
	})

	It("should print strings", func() {
		Expect(trap.WriteBytes(h.target, 0x2000_0100, []byte("boot ok\x00"))).
			To(Succeed())
		Expect(h.target.WriteRegister("r1", 0x2000_0100)).To(Succeed())

		h.register("PrintString", "puts", 0x1000, intercept.Args{"arg_num": 1})
		h.call(0x1000, 0x8000)

		Expect(h.reg("pc")).To(Equal(uint64(0x8000)))
	})

	It("should log arguments and let the function run", func() {
		h.register("ArgumentLogger", "HAL_UART_Init", 0x1000,
			intercept.Args{"num_args": 5})
		Expect(trap.WriteWord(h.target, stackTop, 4, 5)).To(Succeed())

		h.call(0x1000, 0x8000)

		Expect(h.reg("pc")).To(Equal(uint64(0x1000)))
	})

	It("should shut down with the exit code", func() {
		h.register("KillExit", "exit", 0x1000, intercept.Args{"exit_code": 3})

		h.call(0x1000, 0x8000)

		Expect(h.exitCodes).To(Equal([]int{3}))
	})

	It("should set registers", func() {
		h.register("SetRegisters", "skip_check", 0x1000, intercept.Args{
			"registers": map[string]any{"r3": 0x55, "r4": "0x66"},
		})

		h.call(0x1000, 0x8000)

		Expect(h.reg("r3")).To(Equal(uint64(0x55)))
		Expect(h.reg("r4")).To(Equal(uint64(0x66)))
		Expect(h.reg("pc")).To(Equal(uint64(0x1000)))
	})

	It("should refuse unknown registers", func() {
		_, err := h.dispatcher.Register(intercept.Descriptor{
			Addr: 0x1000, Resolved: true, Class: "SetRegisters", Function: "f",
			RegistrationArgs: intercept.Args{
				"registers": map[string]any{"x99": 1},
			},
		})

		var cfgErr *intercept.ConfigError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
	})

	It("should set memory", func() {
		h.register("SetMemory", "patch", 0x1000, intercept.Args{
			"addresses": map[any]any{0x2000_0010: 0xCAFE},
		})

		h.call(0x1000, 0x8000)

		Expect(h.word(0x2000_0010)).To(Equal(uint64(0xCAFE)))
	})
})

var _ = Describe("Peripheral handlers", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	It("should report canaries to the model", func() {
		h.register("Canary", "HardFault_Handler", 0x900,
			intercept.Args{"canary_type": "fault", "msg": "hard fault"})

		h.call(0x900, 0x8000)

		Expect(h.reg("r0")).To(BeZero())

		frame, err := h.device.Recv(time.Second)
		Expect(err).NotTo(HaveOccurred())

		msg, err := bus.Decode(frame)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Topic).To(Equal(bus.Topic("Peripheral.CanaryModel.canary")))
		Expect(msg.Payload.String("Symbol")).To(Equal("HardFault_Handler"))
	})

	It("should write characters to the UART model", func() {
		h.register("MbedUART", "_ZN4mbed6Serial5_putcEi", 0x1000, nil)
		Expect(h.target.WriteRegister("r0", 0x2000_0400)).To(Succeed())
		Expect(h.target.WriteRegister("r1", 'k')).To(Succeed())

		h.call(0x1000, 0x8000)

		Expect(h.reg("r0")).To(Equal(uint64(1)))

		frame, err := h.device.Recv(time.Second)
		Expect(err).NotTo(HaveOccurred())

		msg, err := bus.Decode(frame)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Payload.String("chars")).To(Equal("k"))
	})

	It("should read characters from the UART model", func() {
		h.register("MbedUART", "_ZN4mbed6Stream4getcEv", 0x1000, nil)
		Expect(h.models.UART.Receivers()["rx_data"](bus.Message{
			Payload: bus.Payload{"id": 0x2000_0400, "chars": "q"},
		})).To(Succeed())
		Expect(h.target.WriteRegister("r0", 0x2000_0400)).To(Succeed())

		h.call(0x1000, 0x8000)

		Expect(h.reg("r0")).To(Equal(uint64('q')))
	})

	It("should fail without the model", func() {
		h.env.Models = nil
		registry := intercept.NewRegistry(h.env)
		RegisterAll(registry)

		_, err := registry.GetOrCreate("MbedUART", nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("CallTest", func() {
	It("should chain two guest calls and pass", func() {
		h := newHarness()
		h.register("CallTest", "run_test", 0x1000,
			intercept.Args{"test_str": "chained copies"})

		h.call(0x1000, 0x8000)
		h.runMemcpy()
		h.runMemcpy()

		Expect(h.exitCodes).To(Equal([]int{0}))
		Expect(h.reg("lr")).To(Equal(uint64(0x8000)))
		Expect(h.reg("sp")).To(Equal(uint64(stackTop)))

		Expect(h.injector.Stubs()).To(HaveLen(2))
		Expect(h.injector.Heap().AllocatedBlocks()).To(HaveLen(2))

		ct, ok := h.registry.Instance("CallTest")
		Expect(ok).To(BeTrue())
		Expect(ct.(*CallTest).Passed).To(Equal(1))
	})

	It("should fail when a copy is wrong", func() {
		h := newHarness()
		h.register("CallTest", "run_test", 0x1000, nil)

		h.call(0x1000, 0x8000)
		h.runMemcpy()

		// Corrupt the second copy before it is made.
		Expect(h.target.WriteRegister("r2", 1)).To(Succeed())
		h.runMemcpy()

		Expect(h.exitCodes).To(Equal([]int{1}))
	})
})

var _ = Describe("Device handlers", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	recv := func() bus.Message {
		frame, err := h.device.Recv(time.Second)
		Expect(err).NotTo(HaveOccurred())

		msg, err := bus.Decode(frame)
		Expect(err).NotTo(HaveOccurred())

		return msg
	}

	It("should write digital outputs", func() {
		h.register("BasicIO", "write_digital", 0x1000, nil)
		Expect(h.target.WriteRegister("r0", 2)).To(Succeed())
		Expect(h.target.WriteRegister("r1", 1)).To(Succeed())

		h.call(0x1000, 0x8000)

		Expect(h.reg("r0")).To(BeZero())
		Expect(h.models.DigitalIO.Value("2")).To(Equal(int64(1)))

		msg := recv()
		Expect(msg.Topic).To(Equal(bus.Topic("Peripheral.DigitalIOModel.internal_update")))
		Expect(msg.Payload.String("id")).To(Equal("2"))
	})

	It("should read digital inputs", func() {
		h.register("BasicIO", "read_digital", 0x1000, nil)
		Expect(h.models.DigitalIO.Receivers()["external_update"](bus.Message{
			Payload: bus.Payload{"id": "4", "value": 1},
		})).To(Succeed())
		Expect(h.target.WriteRegister("r0", 4)).To(Succeed())
		Expect(h.target.WriteRegister("r1", 0x2000_0200)).To(Succeed())

		h.call(0x1000, 0x8000)

		value, err := trap.ReadBytes(h.target, 0x2000_0200, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(Equal([]byte{1}))
		Expect(h.reg("pc")).To(Equal(uint64(0x8000)))
	})

	It("should drive the clock interrupt from the timer model", func() {
		_, err := h.dispatcher.Register(intercept.Descriptor{
			Addr:      0x1000,
			Resolved:  true,
			Class:     "SysClock",
			Function:  "sysClkEnable",
			ClassArgs: intercept.Args{"irq": 5, "rate": 0.005},
		})
		Expect(err).NotTo(HaveOccurred())
		h.register("SysClock", "sysClkDisable", 0x1010, nil)

		h.call(0x1000, 0x8000)

		Expect(h.reg("pc")).To(Equal(uint64(0x1000)))
		Expect(h.models.Timer.Running()).To(Equal([]string{"sysClk"}))
		Eventually(h.target.Interrupts).Should(ContainElement(5))

		h.call(0x1010, 0x8000)

		Expect(h.models.Timer.Running()).To(BeEmpty())
	})

	It("should follow clock rate changes", func() {
		_, err := h.dispatcher.Register(intercept.Descriptor{
			Addr:      0x1000,
			Resolved:  true,
			Class:     "SysClock",
			Function:  "sysClkRateSet",
			ClassArgs: intercept.Args{"irq": 5},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(h.target.WriteRegister("r0", 100)).To(Succeed())

		h.call(0x1000, 0x8000)

		clock, ok := h.registry.Instance("SysClock")
		Expect(ok).To(BeTrue())
		Expect(clock.(*SysClock).Rate()).To(Equal(100 * time.Millisecond))
	})

	It("should require a clock interrupt line", func() {
		_, err := h.registry.GetOrCreate("SysClock", intercept.Args{"rate": 1})
		Expect(err).To(HaveOccurred())
	})

	It("should track the interrupt controller", func() {
		h.register("Interrupts", "intEnable", 0x1000, nil)
		h.register("Interrupts", "intLvlVecChk", 0x1010, nil)

		Expect(h.target.WriteRegister("r0", 7)).To(Succeed())
		h.call(0x1000, 0x8000)
		Expect(h.models.Interrupts.IsEnabled(7)).To(BeTrue())

		Expect(h.models.Interrupts.SetActive(7)).To(Succeed())
		Expect(h.target.WriteRegister("r0", 0x2000_0100)).To(Succeed())
		Expect(h.target.WriteRegister("r1", 0x2000_0104)).To(Succeed())

		h.call(0x1010, 0x8000)

		Expect(h.word(0x2000_0104)).To(Equal(uint64(7)))
		Expect(h.models.Interrupts.IsActive(7)).To(BeFalse())
		Expect(h.reg("r0")).To(BeZero())
	})

	It("should exchange frames with the Ethernet model", func() {
		where := intercept.Args{"interface_id": 1}
		h.register("EthernetSmartConnect", "ksz8851snl_init", 0x1000, where)
		h.register("EthernetSmartConnect", "ksz8851snl_read", 0x1010, where)
		h.register("EthernetSmartConnect", "ksz8851snl_send", 0x1020, where)

		h.call(0x1000, 0x8000)
		Expect(h.models.Ethernet.Interfaces()).To(Equal([]uint64{1}))

		Expect(h.models.Ethernet.Receivers()["rx_frame"](bus.Message{
			Payload: bus.Payload{"interface_id": 1, "frame": "\x01\x02\x03"},
		})).To(Succeed())

		Expect(h.target.WriteRegister("r0", 0x2000_0300)).To(Succeed())
		Expect(h.target.WriteRegister("r1", 2)).To(Succeed())
		h.call(0x1010, 0x8000)
		Expect(h.reg("r0")).To(BeZero())

		Expect(h.target.WriteRegister("r0", 0x2000_0300)).To(Succeed())
		Expect(h.target.WriteRegister("r1", 64)).To(Succeed())
		h.call(0x1010, 0x8000)
		Expect(h.reg("r0")).To(Equal(uint64(3)))

		data, err := trap.ReadBytes(h.target, 0x2000_0300, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{1, 2, 3}))

		Expect(h.target.WriteRegister("r0", 0x2000_0300)).To(Succeed())
		Expect(h.target.WriteRegister("r1", 3)).To(Succeed())
		h.call(0x1020, 0x8000)
		Expect(h.reg("r0")).To(Equal(uint64(3)))

		msg := recv()
		Expect(msg.Topic).To(Equal(bus.Topic("Peripheral.EthernetModel.tx_frame")))
		Expect(msg.Payload.Bytes("frame")).To(Equal([]byte{1, 2, 3}))
	})
})
