package script

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	glua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/bilal/dashline-agent/internal/formatter"
	"github.com/bilal/dashline-agent/internal/telemetry"
)

var (
	// ErrNotString is returned when a script does not return a string.
	ErrNotString = errors.New("script must return a string")
	// ErrTimeout is returned when a script runs past its time budget.
	ErrTimeout = errors.New("script timed out")
)

// DefaultTimeout bounds a single Format call.
const DefaultTimeout = 50 * time.Millisecond

// DefaultScript renders the same line as the built-in formatter.
const DefaultScript = `return "S"
	.. ",RPM="  .. round(prop("Rpms") or 0)
	.. ",SPD="  .. round(prop("SpeedKmh") or 0)
	.. ",GEAR=" .. round(prop("Gear") or 0)
	.. ",FUEL=" .. round((prop("FuelPercent") or 0) * 10)
	.. ",OIL="  .. round(prop("OilTemperature") or 0)
	.. ",IGN="  .. (flag("EngineIgnitionOn") and 1 or 0)
	.. "\n"
`

// compiled chunks shared by every Formatter, keyed by content digest
var protoCache, _ = lru.New[string, *glua.FunctionProto](32)

// Formatter renders dash lines with a Lua chunk. The chunk can call
// prop(name), flag(name) and round(x) and must return the line.
type Formatter struct {
	name    string
	proto   *glua.FunctionProto
	timeout time.Duration

	mu  sync.Mutex
	L   *glua.LState
	src telemetry.PropertySource
	// metatable that resolves per-call globals against the shared ones
	envMeta *glua.LTable
}

var _ formatter.LineFormatter = (*Formatter)(nil)

// Load compiles the script at path.
func Load(path string) (*Formatter, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return New(path, string(code))
}

// New compiles code. name is used in Lua stack traces.
func New(name, code string) (*Formatter, error) {
	proto, err := compile(name, code)
	if err != nil {
		return nil, err
	}

	f := &Formatter{name: name, proto: proto, timeout: DefaultTimeout}
	f.L = glua.NewState(glua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   glua.LGFunction
	}{
		{glua.BaseLibName, glua.OpenBase},
		{glua.StringLibName, glua.OpenString},
		{glua.MathLibName, glua.OpenMath},
		{glua.TabLibName, glua.OpenTable},
	} {
		f.L.Push(f.L.NewFunction(lib.fn))
		f.L.Push(glua.LString(lib.name))
		f.L.Call(1, 0)
	}
	f.L.SetGlobal("prop", f.L.NewFunction(f.luaProp))
	f.L.SetGlobal("flag", f.L.NewFunction(f.luaFlag))
	f.L.SetGlobal("round", f.L.NewFunction(luaRound))

	f.envMeta = f.L.NewTable()
	f.L.SetField(f.envMeta, "__index", f.L.G.Global)
	return f, nil
}

// SetTimeout changes the per-call time budget. Zero or negative disables it.
func (f *Formatter) SetTimeout(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = d
}

func compile(name, code string) (*glua.FunctionProto, error) {
	sum := sha256.Sum256([]byte(code))
	key := hex.EncodeToString(sum[:])
	if proto, ok := protoCache.Get(key); ok {
		return proto, nil
	}

	chunk, err := parse.Parse(strings.NewReader(code), name)
	if err != nil {
		return nil, fmt.Errorf("parse script %s: %w", name, err)
	}
	proto, err := glua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile script %s: %w", name, err)
	}
	protoCache.Add(key, proto)
	return proto, nil
}

// Format runs the chunk against src. Safe for concurrent use.
func (f *Formatter) Format(src telemetry.PropertySource) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.L == nil {
		return "", fmt.Errorf("script %s: closed", f.name)
	}

	f.src = src
	defer func() { f.src = nil }()

	top := f.L.GetTop()
	defer f.L.SetTop(top)

	// Globals assigned by the chunk land in env and are gone next call.
	env := f.L.NewTable()
	f.L.SetMetatable(env, f.envMeta)
	fn := f.L.NewFunctionFromProto(f.proto)
	fn.Env = env

	if f.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		f.L.SetContext(ctx)
		defer f.L.RemoveContext()
	}

	f.L.Push(fn)
	if err := f.L.PCall(0, 1, nil); err != nil {
		if ctx := f.L.Context(); ctx != nil && ctx.Err() != nil {
			return "", fmt.Errorf("script %s: %w after %s", f.name, ErrTimeout, f.timeout)
		}
		return "", fmt.Errorf("script %s: %w", f.name, err)
	}

	ret := f.L.Get(-1)
	s, ok := ret.(glua.LString)
	if !ok {
		return "", fmt.Errorf("script %s: %w (got %s)", f.name, ErrNotString, ret.Type())
	}
	line := string(s)
	if !strings.HasSuffix(line, "\n") {
		return "", fmt.Errorf("script %s: line must end with a newline", f.name)
	}
	return line, nil
}

// Close releases the Lua state.
func (f *Formatter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.L != nil {
		f.L.Close()
		f.L = nil
	}
}

func (f *Formatter) luaProp(L *glua.LState) int {
	name := L.CheckString(1)
	if f.src == nil {
		L.Push(glua.LNil)
		return 1
	}
	v := f.src.Number(name)
	if !v.Present() {
		L.Push(glua.LNil)
		return 1
	}
	L.Push(glua.LNumber(v.Or(0)))
	return 1
}

func (f *Formatter) luaFlag(L *glua.LState) int {
	name := L.CheckString(1)
	L.Push(glua.LBool(f.src != nil && f.src.Bool(name)))
	return 1
}

func luaRound(L *glua.LState) int {
	x := L.CheckNumber(1)
	L.Push(glua.LNumber(formatter.Round(float64(x))))
	return 1
}
