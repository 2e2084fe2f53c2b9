package handlers

import (
	"bytes"
	"errors"

	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/scratch"
)

const defaultTestString = "THIS IS THE TEST STRING"

// CallTestClass checks guest calls end to end. run_test copies a string
// with the guest's memcpy, next_call copies the copy, and end_test compares
// the three buffers and shuts down with 0 when they match.
//
//	registration_args: {test_str: <text>}
var CallTestClass = intercept.Class{
	Name: "CallTest",
	New: func(env *intercept.Env, _ intercept.Args) (intercept.Handler, error) {
		return &CallTest{env: env, testStr: []byte(defaultTestString)}, nil
	},
}

// CallTest serves CallTestClass.
type CallTest struct {
	Passed int
	Failed int

	env     *intercept.Env
	testStr []byte

	// Runs in flight, innermost last.
	runs []*callTestRun
}

type callTestRun struct {
	data   []byte
	blocks []*scratch.Block
}

// Entries declares run_test, next_call and end_test.
func (h *CallTest) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{
		{
			Name: "run_test",
			Register: func(r intercept.Registration) (intercept.Method, error) {
				s, err := r.Args.String("test_str", defaultTestString)
				if err != nil {
					return nil, err
				}

				h.testStr = []byte(s)

				return h.runTest, nil
			},
		},
		intercept.MethodEntry("next_call", h.nextCall),
		intercept.MethodEntry("end_test", h.endTest),
	}
}

func (h *CallTest) memcpy(
	t *intercept.Trap,
	run *callTestRun,
	src uint64,
	next intercept.EntryPoint,
) (intercept.Result, error) {
	dst, err := t.Env.Calls.WriteBuffer(make([]byte, len(run.data)))
	if err != nil {
		return intercept.Result{}, err
	}

	run.blocks = append(run.blocks, dst)

	return t.Env.Calls.Invoke(
		intercept.CallSymbol("memcpy"),
		[]uint64{dst.Base, src, uint64(len(run.data))},
		intercept.Continuation{Handler: h, Entry: next},
	)
}

func (h *CallTest) runTest(t *intercept.Trap) (intercept.Result, error) {
	run := &callTestRun{data: append([]byte(nil), h.testStr...)}

	src, err := t.Env.Calls.WriteBuffer(run.data)
	if err != nil {
		return intercept.Result{}, err
	}

	run.blocks = append(run.blocks, src)
	h.runs = append(h.runs, run)

	t.Logger().Info("running call test", "string", string(run.data))

	return h.memcpy(t, run, src.Base, "next_call")
}

func (h *CallTest) current() (*callTestRun, error) {
	if len(h.runs) == 0 {
		return nil, errors.New("no call test in progress")
	}

	return h.runs[len(h.runs)-1], nil
}

func (h *CallTest) nextCall(t *intercept.Trap) (intercept.Result, error) {
	run, err := h.current()
	if err != nil {
		return intercept.Result{}, err
	}

	return h.memcpy(t, run, run.blocks[1].Base, "end_test")
}

func (h *CallTest) endTest(t *intercept.Trap) (intercept.Result, error) {
	run, err := h.current()
	if err != nil {
		return intercept.Result{}, err
	}

	h.runs = h.runs[:len(h.runs)-1]

	passed := true
	for i, b := range run.blocks {
		data, err := t.ReadBytes(b.Base, len(run.data))
		if err != nil {
			return intercept.Result{}, err
		}

		if !bytes.Equal(data, run.data) {
			t.Logger().Error("copy differs", "buffer", i, "got", string(data))
			passed = false
		}

		if err := t.Env.Calls.Free(b); err != nil {
			return intercept.Result{}, err
		}
	}

	code := 0
	if passed {
		h.Passed++
		t.Logger().Info("RESULT: PASSED")
	} else {
		h.Failed++
		code = 1
		t.Logger().Error("RESULT: FAILED")
	}

	if h.env.Shutdown != nil {
		h.env.Shutdown(code)
	}

	return intercept.PassThrough(), nil
}
