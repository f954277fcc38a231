// Package script hosts the goja engine that scripts run in and exposes the
// timer bindings createTimer, deleteTimer and millis as globals.
//
// A Runtime is bound to the cooperative loop: every method, and every timer
// callback it registers, must run there.
package script

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/danmuck/devctl/internal/timers"
	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

//go:embed prelude.js
var prelude string

const preludeName = "/builtin/timers.js"

var ErrPrelude = errors.New("script: builtin prelude failed")

type Runtime struct {
	vm     *goja.Runtime
	bridge *timers.Bridge
}

func New(bridge *timers.Bridge) (*Runtime, error) {
	r := &Runtime{vm: goja.New(), bridge: bridge}
	bindings := map[string]func(goja.FunctionCall) goja.Value{
		"createTimer": r.createTimer,
		"deleteTimer": r.deleteTimer,
		"millis":      r.millis,
	}
	for name, fn := range bindings {
		if err := r.vm.Set(name, fn); err != nil {
			return nil, fmt.Errorf("script: bind %s: %w", name, err)
		}
	}
	if _, err := r.vm.RunScript(preludeName, prelude); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrelude, err)
	}
	return r, nil
}

// Eval runs src as a script named name.
func (r *Runtime) Eval(name, src string) (goja.Value, error) {
	return r.vm.RunScript(name, src)
}

// RunFile evaluates the script at path on the host filesystem.
func (r *Runtime) RunFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := r.Eval(path, string(src)); err != nil {
		return err
	}
	log.Info().Str("script", path).Msg("script evaluated")
	return nil
}

// createTimer(periodMs, oneShot, callback) -> id
func (r *Runtime) createTimer(call goja.FunctionCall) goja.Value {
	period := r.requireNumber(call.Argument(0), "period")
	oneShot := call.Argument(1).ToBoolean()
	fn, ok := goja.AssertFunction(call.Argument(2))
	if !ok {
		panic(r.vm.NewTypeError("createTimer: callback must be a function"))
	}

	id, err := r.bridge.CreateTimer(period, oneShot, func() error {
		_, err := fn(goja.Undefined())
		return err
	})
	if err != nil {
		panic(r.vm.NewGoError(err))
	}
	return r.vm.ToValue(id)
}

// deleteTimer(id)
func (r *Runtime) deleteTimer(call goja.FunctionCall) goja.Value {
	id := r.requireNumber(call.Argument(0), "timer id")
	r.bridge.DeleteTimer(int(id))
	return goja.Undefined()
}

// millis() -> milliseconds since the runtime started
func (r *Runtime) millis(goja.FunctionCall) goja.Value {
	return r.vm.ToValue(r.bridge.Millis())
}

func (r *Runtime) requireNumber(v goja.Value, what string) int64 {
	switch n := v.Export().(type) {
	case int64:
		return n
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n >= math.MaxInt64 || n <= math.MinInt64 {
			panic(r.vm.NewTypeError(fmt.Sprintf("%s out of range", what)))
		}
		return int64(n)
	default:
		panic(r.vm.NewTypeError(fmt.Sprintf("%s must be a number", what)))
	}
}
