// Package handlers provides the built-in handler classes.
//
// Most classes serve a single catch-all entry point, so the function name in
// the configuration only labels the intercept. Registration arguments are
// read per location, and every location keeps its own state.
package handlers

import (
	"fmt"
	"log/slog"

	"github.com/sarchlab/firmhook/intercept"
)

// Classes returns every built-in class.
func Classes() []intercept.Class {
	return []intercept.Class{
		CounterClass,
		TimerClass,
		ReturnZeroClass,
		ReturnConstantClass,
		SkipFuncClass,
		MovePCClass,
		PrintCharClass,
		PrintStringClass,
		ArgumentLoggerClass,
		KillExitClass,
		SetRegistersClass,
		SetMemoryClass,
		CanaryClass,
		MbedUARTClass,
		BasicIOClass,
		SysClockClass,
		InterruptsClass,
		EthernetClass,
		CallTestClass,
	}
}

// RegisterAll adds every built-in class to a registry.
func RegisterAll(r *intercept.Registry) {
	for _, c := range Classes() {
		r.RegisterClass(c)
	}
}

// location is what most entry points remember about the place they are
// bound to.
type location struct {
	addr     uint64
	function string
	silent   bool
}

func newLocation(r intercept.Registration, silentByDefault bool) (location, error) {
	silent, err := r.Args.Bool("silent", silentByDefault)
	if err != nil {
		return location{}, err
	}

	return location{addr: r.Addr, function: r.Function, silent: silent}, nil
}

func (l location) info(t *intercept.Trap, msg string, args ...any) {
	if l.silent {
		return
	}

	t.Logger().Info(msg, args...)
}

func model[T any](env *intercept.Env, name string) (T, error) {
	var zero T

	if env.Models == nil {
		return zero, fmt.Errorf("no peripheral models")
	}

	m, ok := env.Models.FindModel(name)
	if !ok {
		return zero, fmt.Errorf("no peripheral model %s", name)
	}

	typed, ok := m.(T)
	if !ok {
		return zero, fmt.Errorf("peripheral model %s is %T", name, m)
	}

	return typed, nil
}

func hex(v uint64) slog.Attr {
	return slog.String("value", fmt.Sprintf("%#x", v))
}
