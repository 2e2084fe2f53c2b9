package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/trap"
)

func errNonPositive(arg string) error {
	return fmt.Errorf("%s must be positive", arg)
}

type simpleHandler struct {
	entry intercept.HandlerEntry
}

func (h *simpleHandler) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{h.entry}
}

func simpleClass(
	name string,
	entry intercept.EntryPoint,
	register func(r intercept.Registration) (intercept.Method, error),
) intercept.Class {
	return intercept.Class{
		Name: name,
		New: func(*intercept.Env, intercept.Args) (intercept.Handler, error) {
			return &simpleHandler{entry: intercept.HandlerEntry{
				Name:     entry,
				Aliases:  []string{intercept.AnyFunction},
				Register: register,
			}}, nil
		},
	}
}

// ReturnZeroClass returns 0 from the intercepted function.
//
//	registration_args: {silent: false}
var ReturnZeroClass = simpleClass("ReturnZero", "return_zero",
	func(r intercept.Registration) (intercept.Method, error) {
		loc, err := newLocation(r, false)
		if err != nil {
			return nil, err
		}

		return func(t *intercept.Trap) (intercept.Result, error) {
			loc.info(t, "ReturnZero")
			return intercept.Return(0), nil
		}, nil
	})

// ReturnConstantClass returns a configured value from the intercepted
// function.
//
//	registration_args: {ret_value: <value>, silent: false}
var ReturnConstantClass = simpleClass("ReturnConstant", "return_constant",
	func(r intercept.Registration) (intercept.Method, error) {
		loc, err := newLocation(r, false)
		if err != nil {
			return nil, err
		}

		if !r.Args.Has("ret_value") {
			return nil, errors.New("ret_value is required")
		}

		v, err := r.Args.Int("ret_value", 0)
		if err != nil {
			return nil, err
		}

		return func(t *intercept.Trap) (intercept.Result, error) {
			loc.info(t, "ReturnConstant", hex(uint64(v)))
			return intercept.Return(uint64(v)), nil
		}, nil
	})

// SkipFuncClass returns from the intercepted function without a value.
//
//	registration_args: {silent: false}
var SkipFuncClass = simpleClass("SkipFunc", "skip",
	func(r intercept.Registration) (intercept.Method, error) {
		loc, err := newLocation(r, false)
		if err != nil {
			return nil, err
		}

		return func(t *intercept.Trap) (intercept.Result, error) {
			loc.info(t, "SkipFunc")
			return intercept.ReturnVoid(), nil
		}, nil
	})

// MovePCClass skips instructions by moving the program counter.
//
//	registration_args: {move_by: 4, silent: true}
var MovePCClass = simpleClass("MovePC", "move_pc",
	func(r intercept.Registration) (intercept.Method, error) {
		loc, err := newLocation(r, true)
		if err != nil {
			return nil, err
		}

		moveBy, err := r.Args.Uint("move_by", 4)
		if err != nil {
			return nil, err
		}

		return func(t *intercept.Trap) (intercept.Result, error) {
			pcReg := t.Env.Arch.PCReg

			pc, err := t.Target().ReadRegister(pcReg)
			if err != nil {
				return intercept.Result{}, err
			}

			loc.info(t, "MovePC",
				"from", fmt.Sprintf("%#x", pc),
				"to", fmt.Sprintf("%#x", pc+moveBy))

			return intercept.PassThrough(), t.Target().WriteRegister(pcReg, pc+moveBy)
		}, nil
	})

// PrintCharClass logs the character passed as the first argument.
//
//	registration_args: {silent: false, intercept: true}
var PrintCharClass = simpleClass("PrintChar", "put_char",
	func(r intercept.Registration) (intercept.Method, error) {
		loc, err := newLocation(r, false)
		if err != nil {
			return nil, err
		}

		skip, err := r.Args.Bool("intercept", true)
		if err != nil {
			return nil, err
		}

		return func(t *intercept.Trap) (intercept.Result, error) {
			c, err := t.Arg(0)
			if err != nil {
				return intercept.Result{}, err
			}

			lr, err := t.ReturnAddr()
			if err != nil {
				return intercept.Result{}, err
			}

			loc.info(t, "PrintChar",
				"lr", fmt.Sprintf("%#08x", lr),
				"char", string(rune(byte(c))))

			if skip {
				return intercept.ReturnVoid(), nil
			}

			return intercept.PassThrough(), nil
		}, nil
	})

// PrintStringClass logs the string pointed to by an argument.
//
//	registration_args: {arg_num: 0, max_len: 256, silent: false, intercept: true}
var PrintStringClass = simpleClass("PrintString", "print_string",
	func(r intercept.Registration) (intercept.Method, error) {
		loc, err := newLocation(r, false)
		if err != nil {
			return nil, err
		}

		argNum, err := r.Args.Uint("arg_num", 0)
		if err != nil {
			return nil, err
		}

		maxLen, err := r.Args.Uint("max_len", 256)
		if err != nil {
			return nil, err
		}

		skip, err := r.Args.Bool("intercept", true)
		if err != nil {
			return nil, err
		}

		return func(t *intercept.Trap) (intercept.Result, error) {
			ptr, err := t.Arg(int(argNum))
			if err != nil {
				return intercept.Result{}, err
			}

			s, err := t.ReadString(ptr, int(maxLen))
			if err != nil {
				return intercept.Result{}, err
			}

			loc.info(t, "PrintString", "string", s)

			if skip {
				return intercept.ReturnVoid(), nil
			}

			return intercept.PassThrough(), nil
		}, nil
	})

// ArgumentLoggerClass logs the arguments of the intercepted function and
// lets it run.
//
//	registration_args: {num_args: 4}
var ArgumentLoggerClass = simpleClass("ArgumentLogger", "log_args",
	func(r intercept.Registration) (intercept.Method, error) {
		n, err := r.Args.Uint("num_args", 4)
		if err != nil {
			return nil, err
		}

		return func(t *intercept.Trap) (intercept.Result, error) {
			args, err := t.Args(int(n))
			if err != nil {
				return intercept.Result{}, err
			}

			attrs := make([]any, 0, len(args))
			for i, a := range args {
				attrs = append(attrs, "arg"+strconv.Itoa(i), fmt.Sprintf("%#x", a))
			}

			t.Logger().Info("arguments", attrs...)

			return intercept.PassThrough(), nil
		}, nil
	})

// KillExitClass shuts the emulation down.
//
//	registration_args: {exit_code: 0, silent: false}
var KillExitClass = intercept.Class{
	Name: "KillExit",
	New: func(env *intercept.Env, _ intercept.Args) (intercept.Handler, error) {
		return &simpleHandler{entry: intercept.HandlerEntry{
			Name:    "kill_and_exit",
			Aliases: []string{intercept.AnyFunction},
			Register: func(r intercept.Registration) (intercept.Method, error) {
				loc, err := newLocation(r, false)
				if err != nil {
					return nil, err
				}

				code, err := r.Args.Int("exit_code", 0)
				if err != nil {
					return nil, err
				}

				return func(t *intercept.Trap) (intercept.Result, error) {
					loc.info(t, "Killing", "exit_code", code)

					if env.Shutdown == nil {
						return intercept.Result{}, errors.New("emulation cannot be shut down")
					}

					env.Shutdown(int(code))

					return intercept.PassThrough(), nil
				}, nil
			},
		}}, nil
	},
}

// SetRegistersClass writes registers and lets the code run.
//
//	registration_args: {registers: {r0: 1}}
var SetRegistersClass = intercept.Class{
	Name: "SetRegisters",
	New: func(env *intercept.Env, _ intercept.Args) (intercept.Handler, error) {
		return &simpleHandler{entry: intercept.HandlerEntry{
			Name:    "set_registers",
			Aliases: []string{intercept.AnyFunction},
			Register: func(r intercept.Registration) (intercept.Method, error) {
				regs, err := r.Args.Sub("registers")
				if err != nil {
					return nil, err
				}

				values := make(map[string]uint64, len(regs))
				for _, name := range regs.Keys() {
					if _, ok := env.Arch.RegisterNumber(name); !ok {
						return nil, fmt.Errorf("%s has no register %q",
							env.Arch.Name, name)
					}

					v, err := regs.Uint(name, 0)
					if err != nil {
						return nil, err
					}

					values[name] = v
				}

				return func(t *intercept.Trap) (intercept.Result, error) {
					for _, name := range regs.Keys() {
						if err := t.Target().WriteRegister(name, values[name]); err != nil {
							return intercept.Result{}, err
						}

						t.Logger().Debug("set register", "reg", name, hex(values[name]))
					}

					return intercept.PassThrough(), nil
				}, nil
			},
		}}, nil
	},
}

// SetMemoryClass writes 32-bit words and lets the code run.
//
//	registration_args: {addresses: {0x20000000: 1}}
var SetMemoryClass = simpleClass("SetMemory", "set_memory",
	func(r intercept.Registration) (intercept.Method, error) {
		addrs, err := r.Args.Sub("addresses")
		if err != nil {
			return nil, err
		}

		type write struct{ addr, value uint64 }

		var writes []write
		for _, k := range addrs.Keys() {
			addr, err := strconv.ParseUint(k, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("bad address %q: %w", k, err)
			}

			v, err := addrs.Uint(k, 0)
			if err != nil {
				return nil, err
			}

			writes = append(writes, write{addr, v})
		}

		return func(t *intercept.Trap) (intercept.Result, error) {
			for _, w := range writes {
				if err := trap.WriteWord(t.Target(), w.addr, 4, w.value); err != nil {
					return intercept.Result{}, err
				}

				t.Logger().Debug("set memory",
					"addr", fmt.Sprintf("%#x", w.addr), hex(w.value))
			}

			return intercept.PassThrough(), nil
		}, nil
	})
