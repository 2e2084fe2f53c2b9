package intercept

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type valueHandler struct {
	value uint64
}

func (h *valueHandler) Entries() []HandlerEntry {
	return []HandlerEntry{
		MethodEntry("value", func(*Trap) (Result, error) {
			return Return(h.value), nil
		}, "get_value", "read_value"),
	}
}

func valueClass(constructed *int) Class {
	return Class{
		Name:   "Value",
		Params: []string{"value"},
		New: func(_ *Env, args Args) (Handler, error) {
			*constructed++

			v, err := args.Uint("value", 0)
			if err != nil {
				return nil, err
			}

			return &valueHandler{value: v}, nil
		},
	}
}

type clashingHandler struct{}

func (clashingHandler) Entries() []HandlerEntry {
	m := func(*Trap) (Result, error) { return PassThrough(), nil }
	return []HandlerEntry{
		MethodEntry("a", m, "shared"),
		MethodEntry("b", m, "shared"),
	}
}

var _ = Describe("Registry", func() {
	var (
		r           *Registry
		constructed int
	)

	BeforeEach(func() {
		constructed = 0
		r = NewRegistry(&Env{})
		r.RegisterClass(valueClass(&constructed))
	})

	It("should create one instance per class", func() {
		h1, err := r.GetOrCreate("Value", Args{"value": 3})
		Expect(err).NotTo(HaveOccurred())

		h2, err := r.GetOrCreate("Value", Args{"value": 9})
		Expect(err).NotTo(HaveOccurred())

		Expect(h2).To(BeIdenticalTo(h1))
		Expect(h1.(*valueHandler).value).To(Equal(uint64(3)))
		Expect(constructed).To(Equal(1))

		inst, ok := r.Instance("Value")
		Expect(ok).To(BeTrue())
		Expect(inst).To(BeIdenticalTo(h1))
	})

	It("should reject unknown classes", func() {
		_, err := r.GetOrCreate("Nope", nil)

		var cfgErr *ConfigError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(cfgErr.Class).To(Equal("Nope"))
	})

	It("should reject arguments the class does not accept", func() {
		_, err := r.GetOrCreate("Value", Args{"colour": "red"})

		var cfgErr *ConfigError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(constructed).To(Equal(0))
	})

	It("should wrap constructor failures", func() {
		_, err := r.GetOrCreate("Value", Args{"value": "lots"})

		var cfgErr *ConfigError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(cfgErr.Err).To(HaveOccurred())
	})

	It("should reject classes with clashing aliases", func() {
		r.RegisterClass(Class{
			Name: "Clash",
			New: func(*Env, Args) (Handler, error) {
				return clashingHandler{}, nil
			},
		})

		_, err := r.GetOrCreate("Clash", nil)
		Expect(err).To(MatchError(ContainSubstring("shared")))
	})

	It("should panic on duplicate classes", func() {
		Expect(func() { r.RegisterClass(valueClass(&constructed)) }).To(Panic())
	})

	It("should list classes", func() {
		Expect(r.Classes()).To(Equal([]string{"Value"}))
	})

	It("should find entries by alias", func() {
		h := &valueHandler{}

		e, ok := findEntry(h, "read_value")
		Expect(ok).To(BeTrue())
		Expect(e.Name).To(Equal(EntryPoint("value")))

		_, ok = findEntry(h, "value")
		Expect(ok).To(BeTrue())

		_, ok = findEntry(h, "other")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Args", func() {
	It("should convert configuration values", func() {
		a := Args{
			"hex":   "0x20",
			"int":   7,
			"float": 2.5,
			"flag":  "true",
			"name":  "uart",
		}

		u, err := a.Uint("hex", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(u).To(Equal(uint64(0x20)))

		i, err := a.Int("int", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(i).To(Equal(int64(7)))

		f, err := a.Float("float", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(f).To(Equal(2.5))

		b, err := a.Bool("flag", false)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(BeTrue())

		s, err := a.String("name", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(Equal("uart"))

		d, err := a.Uint("missing", 42)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(uint64(42)))
	})

	It("should reject values of the wrong type", func() {
		a := Args{"n": -1, "s": 3}

		_, err := a.Uint("n", 0)
		Expect(err).To(HaveOccurred())

		_, err = a.String("s", "")
		Expect(err).To(HaveOccurred())

		_, err = a.Float("float", 0)
		Expect(err).NotTo(HaveOccurred())
	})
})

type catchAllHandler struct{}

func (catchAllHandler) Entries() []HandlerEntry {
	return []HandlerEntry{
		MethodEntry("get_value", func(*Trap) (Result, error) {
			return Return(1), nil
		}, AnyFunction),
		MethodEntry("reset", func(*Trap) (Result, error) {
			return ReturnVoid(), nil
		}),
	}
}

var _ = Describe("Catch-all entries", func() {
	It("should answer to any function not claimed by name", func() {
		e, ok := findEntry(catchAllHandler{}, "HAL_GetTick")
		Expect(ok).To(BeTrue())
		Expect(e.Name).To(Equal(EntryPoint("get_value")))

		e, ok = findEntry(catchAllHandler{}, "reset")
		Expect(ok).To(BeTrue())
		Expect(e.Name).To(Equal(EntryPoint("reset")))
	})

	It("should read nested mappings", func() {
		args := Args{
			"registers": map[string]any{"r0": 1},
			"addresses": map[any]any{0x2000_0000: 5},
		}

		regs, err := args.Sub("registers")
		Expect(err).NotTo(HaveOccurred())
		Expect(regs.Uint("r0", 0)).To(Equal(uint64(1)))

		addrs, err := args.Sub("addresses")
		Expect(err).NotTo(HaveOccurred())
		Expect(addrs.Keys()).To(Equal([]string{"536870912"}))

		missing, err := args.Sub("nothing")
		Expect(err).NotTo(HaveOccurred())
		Expect(missing).To(BeNil())
	})
})
