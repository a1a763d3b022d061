// Package lua adapts gopher-lua as the default Evaluator. Namespaces are
// modeled as named environment tables falling back to the shared globals,
// and cancellation rides the interpreter's context support, which aborts at
// instruction boundaries (cooperative, as the interrupt protocol assumes).
package lua

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
	lua "github.com/yuin/gopher-lua"
)

// Evaluator executes Lua forms for one session. The session queue serializes
// task access; the mutex only guards against overlap between the engine's
// split/eval/drain calls and introspection.
type Evaluator struct {
	mu         sync.Mutex
	state      *lua.LState
	namespaces map[string]*lua.LTable
	current    string
	history    []lua.LValue
	stdout     strings.Builder
	stderr     strings.Builder
}

var _ ports.Evaluator = (*Evaluator)(nil)

// New creates an evaluator with opened standard libraries and the default
// "user" namespace.
func New() (ports.Evaluator, error) {
	e := &Evaluator{
		state:      lua.NewState(),
		namespaces: make(map[string]*lua.LTable),
		current:    domain.DefaultNamespace,
	}
	e.ensureNamespace(domain.DefaultNamespace)
	e.installBuiltins()
	return e, nil
}

// ensureNamespace returns the environment table for name, creating it with
// an __index fallback to the globals when absent.
func (e *Evaluator) ensureNamespace(name string) *lua.LTable {
	if tbl, ok := e.namespaces[name]; ok {
		return tbl
	}
	L := e.state
	tbl := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", L.GetGlobal("_G"))
	L.SetMetatable(tbl, mt)
	e.namespaces[name] = tbl
	return tbl
}

// installBuiltins rebinds print/io.write to the output buffers and exposes
// the namespace builtin for creating and switching namespaces.
func (e *Evaluator) installBuiltins() {
	L := e.state

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, lua.LVAsString(L.ToStringMeta(L.Get(i))))
		}
		e.stdout.WriteString(strings.Join(parts, "\t"))
		e.stdout.WriteString("\n")
		return 0
	}))

	if io, ok := L.GetGlobal("io").(*lua.LTable); ok {
		io.RawSetString("write", L.NewFunction(func(L *lua.LState) int {
			top := L.GetTop()
			for i := 1; i <= top; i++ {
				e.stdout.WriteString(lua.LVAsString(L.ToStringMeta(L.Get(i))))
			}
			return 0
		}))
	}

	L.SetGlobal("eprint", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, lua.LVAsString(L.ToStringMeta(L.Get(i))))
		}
		e.stderr.WriteString(strings.Join(parts, "\t"))
		e.stderr.WriteString("\n")
		return 0
	}))

	L.SetGlobal("namespace", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		tbl := e.ensureNamespace(name)
		e.current = name
		L.Push(tbl)
		return 1
	}))
}

// SplitForms splits code into top-level forms using incremental compilation:
// lines accumulate until the buffer compiles as an expression or a
// statement. A trailing buffer that never compiles is kept as a final form
// so its parse error surfaces as an evaluation error.
func (e *Evaluator) SplitForms(code, file string, line int) ([]domain.Form, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var forms []domain.Form
	var buf []string
	start := 0

	lines := strings.Split(code, "\n")
	for i, l := range lines {
		if len(buf) == 0 {
			if strings.TrimSpace(l) == "" {
				continue
			}
			start = i
		}
		buf = append(buf, l)
		chunk := strings.Join(buf, "\n")
		if e.compiles(chunk) {
			forms = append(forms, domain.Form{Text: chunk, File: file, Line: line + start})
			buf = nil
		}
	}
	if len(buf) > 0 {
		forms = append(forms, domain.Form{Text: strings.Join(buf, "\n"), File: file, Line: line + start})
	}
	return forms, nil
}

// compiles reports whether chunk parses as an expression or a statement.
func (e *Evaluator) compiles(chunk string) bool {
	if _, err := e.state.Load(strings.NewReader("return "+chunk), "split"); err == nil {
		return true
	}
	_, err := e.state.Load(strings.NewReader(chunk), "split")
	return err == nil
}

// HasNamespace reports whether ns resolves to a known environment table.
func (e *Evaluator) HasNamespace(ns string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.namespaces[ns]
	return ok
}

// EvalForm evaluates one form in the given namespace. A "return"-wrapped
// compile is attempted first so bare expressions yield values; statements
// fall back to a plain chunk. The context carries the task's cancellation
// signal.
func (e *Evaluator) EvalForm(ctx context.Context, ns string, form domain.Form) (ports.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	env, ok := e.namespaces[ns]
	if !ok {
		return ports.Result{}, domain.ErrNamespaceNotFound
	}
	e.current = ns

	L := e.state
	name := chunkName(form)

	fn, err := L.Load(strings.NewReader("return "+form.Text), name)
	if err != nil {
		fn, err = L.Load(strings.NewReader(form.Text), name)
		if err != nil {
			return ports.Result{}, err
		}
	}
	L.SetFEnv(fn, env)

	L.SetContext(ctx)
	defer L.RemoveContext()

	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.SetTop(base)
		L.SetGlobal("_err", lua.LString(err.Error()))
		return ports.Result{}, err
	}

	top := L.GetTop()
	var parts []string
	var first lua.LValue = lua.LNil
	for i := base + 1; i <= top; i++ {
		v := L.Get(i)
		if i == base+1 {
			first = v
		}
		parts = append(parts, lua.LVAsString(L.ToStringMeta(v)))
	}
	L.SetTop(base)

	value := "nil"
	if len(parts) > 0 {
		value = strings.Join(parts, "\t")
	}
	e.pushHistory(first)

	return ports.Result{Value: value, NS: e.current}, nil
}

// pushHistory shifts the rolling _1/_2/_3 bindings.
func (e *Evaluator) pushHistory(v lua.LValue) {
	e.history = append([]lua.LValue{v}, e.history...)
	if len(e.history) > domain.HistoryDepth {
		e.history = e.history[:domain.HistoryDepth]
	}
	for i, h := range e.history {
		e.state.SetGlobal(fmt.Sprintf("_%d", i+1), h)
	}
}

// BindHistory seeds _1/_2/_3 from a snapshot's printed results. Values cross
// as strings; a fresh evaluator cannot recover the originals.
func (e *Evaluator) BindHistory(results []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) > 0 {
		// Live bindings beat snapshot strings.
		return
	}
	for i, r := range results {
		if i >= domain.HistoryDepth {
			break
		}
		e.state.SetGlobal(fmt.Sprintf("_%d", i+1), lua.LString(r))
	}
}

// DrainOutput returns and clears buffered print/io.write output.
func (e *Evaluator) DrainOutput() (string, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out, errOut := e.stdout.String(), e.stderr.String()
	e.stdout.Reset()
	e.stderr.Reset()
	return out, errOut
}

// Close releases the interpreter.
func (e *Evaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Close()
	return nil
}

func chunkName(form domain.Form) string {
	if form.File == "" {
		return "(eval)"
	}
	if form.Line > 0 {
		return fmt.Sprintf("%s:%d", form.File, form.Line)
	}
	return form.File
}
