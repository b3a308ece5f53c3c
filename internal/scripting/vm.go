package scripting

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// LogEntry is a single line captured from a script's print output.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// ErrBudgetExceeded marks a script call that ran past its wall-clock
// budget. It counts as a script error; it never hangs the scheduler.
type ErrBudgetExceeded struct {
	Budget time.Duration
}

func (e *ErrBudgetExceeded) Error() string {
	return fmt.Sprintf("script exceeded %s budget", e.Budget)
}

// VM wraps a goja runtime with sandbox restrictions and the print/log
// capture buffer. Scripts get no network, filesystem, or wall clock;
// those globals are removed before any script source runs.
type VM struct {
	runtime *goja.Runtime

	// entered is set while a budgeted execution is in progress. Nested
	// script re-entry (a synchronous signal fired from inside a script
	// call) runs inline under the outer budget instead of racing a
	// second budget goroutine against the same runtime.
	entered bool

	logs    []LogEntry
	logsMu  sync.Mutex
	maxLogs int
}

// NewVM creates a sandboxed runtime.
func NewVM() *VM {
	vm := &VM{
		runtime: goja.New(),
		maxLogs: 500,
	}
	vm.lockdown()
	return vm
}

// lockdown removes escape hatches and installs print.
func (vm *VM) lockdown() {
	vm.runtime.Set("print", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		vm.appendLog(strings.Join(parts, " "))
		return goja.Undefined()
	})

	console := vm.runtime.NewObject()
	_ = console.Set("log", vm.runtime.Get("print"))
	vm.runtime.Set("console", console)

	// No module loading, network, dynamic code, or wall clock.
	vm.runtime.Set("require", goja.Undefined())
	vm.runtime.Set("fetch", goja.Undefined())
	vm.runtime.Set("XMLHttpRequest", goja.Undefined())
	vm.runtime.Set("eval", goja.Undefined())
	vm.runtime.Set("Function", goja.Undefined())
	vm.runtime.Set("Date", goja.Undefined())
	vm.runtime.Set("setTimeout", goja.Undefined())
	vm.runtime.Set("setInterval", goja.Undefined())
}

func (vm *VM) appendLog(msg string) {
	vm.logsMu.Lock()
	if len(vm.logs) >= vm.maxLogs {
		vm.logs = vm.logs[1:]
	}
	vm.logs = append(vm.logs, LogEntry{Time: time.Now(), Message: msg})
	vm.logsMu.Unlock()
}

// Runtime exposes the underlying goja runtime to the binding layer.
func (vm *VM) Runtime() *goja.Runtime { return vm.runtime }

// RunModule executes a script module's top-level body under the given
// wall-clock budget.
func (vm *VM) RunModule(name, source string, budget time.Duration) error {
	return vm.withBudget(budget, func() error {
		if _, err := vm.runtime.RunScript(name, source); err != nil {
			return fmt.Errorf("module %s: %w", name, err)
		}
		return nil
	})
}

// Call invokes a script callback under the given budget. Re-entrant
// calls (made while another budgeted execution is on the stack) run
// inline under the outer budget.
func (vm *VM) Call(fn goja.Callable, budget time.Duration, args ...goja.Value) error {
	if vm.entered {
		_, err := fn(goja.Undefined(), args...)
		return err
	}
	return vm.withBudget(budget, func() error {
		_, err := fn(goja.Undefined(), args...)
		return err
	})
}

// withBudget runs fn, interrupting the runtime if the wall-clock budget
// elapses. The interpreter is cooperative, so the budget is wall time,
// not CPU cycles.
func (vm *VM) withBudget(budget time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		vm.entered = true
		err := fn()
		vm.entered = false
		done <- err
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		vm.runtime.Interrupt("execution budget exceeded")
		// Give the interrupt a moment to land so the runtime is reusable.
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
		}
		vm.runtime.ClearInterrupt()
		return &ErrBudgetExceeded{Budget: budget}
	}
}

// Logs returns a copy of the captured print output.
func (vm *VM) Logs() []LogEntry {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	out := make([]LogEntry, len(vm.logs))
	copy(out, vm.logs)
	return out
}
