package handlers

import (
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/periph"
)

// CanaryClass reports functions the firmware should never reach, such as
// fault handlers, to the canary model, and returns 0.
//
//	registration_args: {canary_type: <type>, msg: <text>}
var CanaryClass = intercept.Class{
	Name: "Canary",
	New: func(env *intercept.Env, _ intercept.Args) (intercept.Handler, error) {
		m, err := model[*periph.Canary](env, periph.CanaryName)
		if err != nil {
			return nil, err
		}

		return &canaryHandler{env: env, model: m}, nil
	},
}

type canaryHandler struct {
	env   *intercept.Env
	model *periph.Canary
}

func (h *canaryHandler) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{{
		Name:    "handle_canary",
		Aliases: []string{intercept.AnyFunction},
		Register: func(r intercept.Registration) (intercept.Method, error) {
			kind, err := r.Args.String("canary_type", "")
			if err != nil {
				return nil, err
			}

			msg, err := r.Args.String("msg", "")
			if err != nil {
				return nil, err
			}

			return func(t *intercept.Trap) (intercept.Result, error) {
				symbol := r.Function
				if h.env.Symbols != nil {
					if name, ok := h.env.Symbols.NameOf(t.Addr); ok {
						symbol = name
					}
				}

				if err := h.model.Trip(t.Addr, symbol, kind, msg); err != nil {
					return intercept.Result{}, err
				}

				return intercept.Return(0), nil
			}, nil
		},
	}}
}

// MbedUARTClass serves the mbed serial stream functions with the UART
// model. The stream object pointer identifies the port.
var MbedUARTClass = intercept.Class{
	Name: "MbedUART",
	New: func(env *intercept.Env, _ intercept.Args) (intercept.Handler, error) {
		m, err := model[*periph.UART](env, periph.UARTName)
		if err != nil {
			return nil, err
		}

		return &MbedUART{env: env, model: m}, nil
	},
}

// MbedUART serves MbedUARTClass.
type MbedUART struct {
	env   *intercept.Env
	model *periph.UART
}

// Entries declares getc, putc and puts.
func (h *MbedUART) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{
		intercept.MethodEntry("getc", h.getc, "_ZN4mbed6Stream4getcEv"),
		intercept.MethodEntry("putc", h.putc,
			"_ZN4mbed6Stream4putcEv", "_ZN4mbed6Serial5_putcEi"),
		intercept.MethodEntry("puts", h.puts, "_ZN4mbed6Stream4putsEPKc"),
	}
}

func (h *MbedUART) getc(t *intercept.Trap) (intercept.Result, error) {
	id, err := t.Arg(0)
	if err != nil {
		return intercept.Result{}, err
	}

	data, err := h.model.ReadBlocking(h.env.Ctx(), id, 1)
	if err != nil {
		return intercept.Result{}, err
	}

	return intercept.Return(uint64(data[0])), nil
}

func (h *MbedUART) putc(t *intercept.Trap) (intercept.Result, error) {
	args, err := t.Args(2)
	if err != nil {
		return intercept.Result{}, err
	}

	if err := h.model.Write(args[0], []byte{byte(args[1])}); err != nil {
		return intercept.Result{}, err
	}

	return intercept.Return(1), nil
}

func (h *MbedUART) puts(t *intercept.Trap) (intercept.Result, error) {
	args, err := t.Args(2)
	if err != nil {
		return intercept.Result{}, err
	}

	s, err := t.ReadString(args[1], 4096)
	if err != nil {
		return intercept.Result{}, err
	}

	if err := h.model.Write(args[0], []byte(s)); err != nil {
		return intercept.Result{}, err
	}

	return intercept.Return(uint64(len(s))), nil
}
