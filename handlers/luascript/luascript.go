// Package luascript provides a handler class whose entry points are Lua
// functions.
//
// Each intercept calls the global Lua function named by the registration
// argument "lua_function", or by the intercepted function name. The function
// receives a trap table and returns nil to let the guest function run, true
// to return from it without a value, or a number to return that value.
//
//	function HAL_GetTick(t)
//	  return t.arg(0) + 1
//	end
package luascript

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/trap"
)

// ClassName is the name the class is registered under.
const ClassName = "LuaScript"

// Class loads the script given by the class argument "script" (a file) or
// "source" (inline code).
//
//	class_args: {script: handlers.lua}
//	registration_args: {lua_function: <name>}
var Class = intercept.Class{
	Name:   ClassName,
	Params: []string{"script", "source"},
	New: func(env *intercept.Env, args intercept.Args) (intercept.Handler, error) {
		path, err := args.String("script", "")
		if err != nil {
			return nil, err
		}

		src, err := args.String("source", "")
		if err != nil {
			return nil, err
		}

		switch {
		case path != "" && src != "":
			return nil, fmt.Errorf("script and source are exclusive")
		case path != "":
			return LoadFile(env, path)
		case src != "":
			return LoadString(env, src)
		}

		return nil, fmt.Errorf("script or source is required")
	},
}

// A Script serves intercepts with the functions of one Lua state.
type Script struct {
	lock  sync.Mutex
	state *lua.LState
	env   *intercept.Env
}

// LoadFile runs a Lua file and returns a script over its globals.
func LoadFile(env *intercept.Env, path string) (*Script, error) {
	s := newScript(env)

	if err := s.state.DoFile(path); err != nil {
		s.state.Close()
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	return s, nil
}

// LoadString runs Lua source and returns a script over its globals.
func LoadString(env *intercept.Env, src string) (*Script, error) {
	s := newScript(env)

	if err := s.state.DoString(src); err != nil {
		s.state.Close()
		return nil, fmt.Errorf("loading script: %w", err)
	}

	return s, nil
}

func newScript(env *intercept.Env) *Script {
	s := &Script{
		state: lua.NewState(),
		env:   env,
	}

	s.state.SetGlobal("log", s.state.NewFunction(s.luaLog))

	return s
}

// Close releases the Lua state.
func (s *Script) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.state.Close()

	return nil
}

// Entries declares a catch-all entry point served by Lua functions.
func (s *Script) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{{
		Name:    "call_lua",
		Aliases: []string{intercept.AnyFunction},
		Register: func(r intercept.Registration) (intercept.Method, error) {
			name, err := r.Args.String("lua_function", r.Function)
			if err != nil {
				return nil, err
			}

			s.lock.Lock()
			fn := s.state.GetGlobal(name)
			s.lock.Unlock()

			if fn.Type() != lua.LTFunction {
				return nil, fmt.Errorf("script has no function %s", name)
			}

			return func(t *intercept.Trap) (intercept.Result, error) {
				return s.call(t, fn)
			}, nil
		},
	}}
}

func (s *Script) call(t *intercept.Trap, fn lua.LValue) (intercept.Result, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	L := s.state

	err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, s.trapTable(t))
	if err != nil {
		return intercept.Result{}, err
	}

	ret := L.Get(-1)
	L.Pop(1)

	switch v := ret.(type) {
	case *lua.LNilType:
		return intercept.PassThrough(), nil
	case lua.LBool:
		if v {
			return intercept.ReturnVoid(), nil
		}

		return intercept.PassThrough(), nil
	case lua.LNumber:
		return intercept.Return(uint64(int64(v))), nil
	}

	return intercept.Result{}, fmt.Errorf("lua function returned %s", ret.Type())
}

// trapTable exposes the trap to Lua.
func (s *Script) trapTable(t *intercept.Trap) *lua.LTable {
	L := s.state
	tbl := L.NewTable()

	tbl.RawSetString("addr", lua.LNumber(t.Addr))
	tbl.RawSetString("function", lua.LString(t.Binding.Function))

	L.SetFuncs(tbl, map[string]lua.LGFunction{
		"arg": func(L *lua.LState) int {
			v, err := t.Arg(L.CheckInt(1))
			if err != nil {
				L.RaiseError("%s", err.Error())
			}

			L.Push(lua.LNumber(v))

			return 1
		},
		"reg": func(L *lua.LState) int {
			v, err := t.Target().ReadRegister(L.CheckString(1))
			if err != nil {
				L.RaiseError("%s", err.Error())
			}

			L.Push(lua.LNumber(v))

			return 1
		},
		"set_reg": func(L *lua.LState) int {
			err := t.Target().WriteRegister(L.CheckString(1), uint64(L.CheckInt64(2)))
			if err != nil {
				L.RaiseError("%s", err.Error())
			}

			return 0
		},
		"read": func(L *lua.LState) int {
			addr := uint64(L.CheckInt64(1))
			width := L.OptInt(2, 4)

			v, err := trap.ReadWord(t.Target(), addr, width)
			if err != nil {
				L.RaiseError("%s", err.Error())
			}

			L.Push(lua.LNumber(v))

			return 1
		},
		"write": func(L *lua.LState) int {
			addr := uint64(L.CheckInt64(1))
			v := uint64(L.CheckInt64(2))
			width := L.OptInt(3, 4)

			if err := trap.WriteWord(t.Target(), addr, width, v); err != nil {
				L.RaiseError("%s", err.Error())
			}

			return 0
		},
		"string": func(L *lua.LState) int {
			str, err := t.ReadString(uint64(L.CheckInt64(1)), L.OptInt(2, 256))
			if err != nil {
				L.RaiseError("%s", err.Error())
			}

			L.Push(lua.LString(str))

			return 1
		},
	})

	return tbl
}

func (s *Script) luaLog(L *lua.LState) int {
	args := make([]any, 0, 2*(L.GetTop()-1))
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, fmt.Sprintf("v%d", i-1), L.Get(i).String())
	}

	logger := s.env.Logger
	if logger == nil {
		return 0
	}

	logger.Info(L.CheckString(1), args...)

	return 0
}
