package mutate

import (
	"fmt"
	"math/rand"

	lua "github.com/yuin/gopher-lua"
)

// LuaStrategy wraps a loaded Lua function of the form
//
//	function mutate_<name>(byte, offset, rand_byte)
//	    -- return a new value for the byte at offset
//	end
//
// as a ScriptStrategy, letting a target supply custom byte-transforms
// beyond the four built-ins without recompiling Coffeepot.
type LuaStrategy struct {
	state *lua.LState
	fn    *lua.LFunction
	name  string
}

// LoadLuaStrategies reads path as a Lua script and returns one
// ScriptStrategy per top-level function matching the `mutate_<name>`
// naming convention. The returned strategies share a single Lua VM; Mutate
// calls them sequentially, never concurrently, so no locking is needed.
func LoadLuaStrategies(path string) ([]ScriptStrategy, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("mutate: load script %q: %w", path, err)
	}

	var out []ScriptStrategy
	globals := L.G.Global
	globals.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok || len(name) < len("mutate_") || string(name)[:7] != "mutate_" {
			return
		}
		fn, ok := v.(*lua.LFunction)
		if !ok {
			return
		}
		out = append(out, &LuaStrategy{state: L, fn: fn, name: string(name)})
	})
	return out, nil
}

// Apply calls the wrapped Lua function with the current byte, offset, and a
// fresh random byte, writing back whatever integer in [0,255] it returns.
func (s *LuaStrategy) Apply(buf []byte, offset int, rng *rand.Rand) {
	if err := s.state.CallByParam(lua.P{
		Fn:      s.fn,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(buf[offset]), lua.LNumber(offset), lua.LNumber(rng.Intn(256))); err != nil {
		return
	}
	ret := s.state.Get(-1)
	s.state.Pop(1)
	if n, ok := ret.(lua.LNumber); ok {
		buf[offset] = byte(int(n) & 0xff)
	}
}

// Close releases the underlying Lua VM. Call once all strategies loaded
// from the same script are no longer needed.
func (s *LuaStrategy) Close() {
	s.state.Close()
}
