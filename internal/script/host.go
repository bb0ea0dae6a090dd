package script

import (
	lua "github.com/yuin/gopher-lua"
)

// registerHostFunctions installs the full host primitive surface
// (spec.md §4.6) as globals on r's root Lua state.
func registerHostFunctions(r *LuaRuntime) {
	L := r.root

	L.SetGlobal("depend_on", L.NewFunction(func(l *lua.LState) int {
		name := l.CheckString(1)
		return l.Yield(lua.LString(yieldTagDependOn), lua.LString(name))
	}))

	L.SetGlobal("depend_on_all", L.NewFunction(func(l *lua.LState) int {
		namesTbl := l.CheckTable(1)
		return l.Yield(lua.LString(yieldTagDependOnAll), namesTbl)
	}))

	L.SetGlobal("sys", L.NewFunction(func(l *lua.LState) int {
		argvTbl := l.CheckTable(1)
		req := &lua.LTable{}
		req.RawSetString("argv", argvTbl)
		if l.GetTop() >= 2 {
			opts := l.CheckTable(2)
			if cwd := opts.RawGetString("cwd"); cwd != lua.LNil {
				req.RawSetString("cwd", cwd)
			}
			if env := opts.RawGetString("env"); env != lua.LNil {
				req.RawSetString("env", env)
			}
		}
		return l.Yield(lua.LString(yieldTagSys), req)
	}))

	L.SetGlobal("register_dep", L.NewFunction(func(l *lua.LState) int {
		path := l.CheckString(1)
		ctx := r.contextFor(l)
		if err := ctx.Host.RegisterDep(ctx, path); err != nil {
			l.RaiseError("register_dep: %v", err)
		}
		return 0
	}))

	L.SetGlobal("glob", L.NewFunction(func(l *lua.LState) int {
		pattern := l.CheckString(1)
		ctx := r.contextFor(l)
		matches, err := ctx.Host.Glob(ctx, pattern)
		if err != nil {
			l.RaiseError("glob: %v", err)
		}
		tbl := &lua.LTable{}
		for _, m := range matches {
			tbl.Append(lua.LString(m))
		}
		l.Push(tbl)
		return 1
	}))

	L.SetGlobal("hash_file", L.NewFunction(func(l *lua.LState) int {
		path := l.CheckString(1)
		ctx := r.contextFor(l)
		hexHash, err := ctx.Host.HashFile(ctx, path)
		if err != nil {
			l.RaiseError("hash_file: %v", err)
		}
		l.Push(lua.LString(hexHash))
		return 1
	}))

	L.SetGlobal("deptool", L.NewFunction(func(l *lua.LState) int {
		name := l.CheckString(1)
		ctx := r.contextFor(l)
		tool, err := ctx.Host.DepTool(ctx, name)
		if err != nil {
			l.RaiseError("deptool: %v", err)
		}
		tbl := &lua.LTable{}
		tbl.RawSetString("name", lua.LString(tool.Name))
		tbl.RawSetString("binary_path", lua.LString(tool.BinaryPath))
		l.Push(tbl)
		return 1
	}))

	L.SetGlobal("register_target", L.NewFunction(func(l *lua.LState) int {
		name := l.CheckString(1)
		functionName := l.CheckString(2)
		ctx := r.contextFor(l)
		if err := ctx.Host.RegisterTarget(ctx, name, functionName); err != nil {
			l.RaiseError("register_target: %v", err)
		}
		return 0
	}))

	L.SetGlobal("log_info", L.NewFunction(func(l *lua.LState) int {
		ctx := r.contextFor(l)
		ctx.Host.LogInfo(ctx, l.CheckString(1))
		return 0
	}))

	L.SetGlobal("log_debug", L.NewFunction(func(l *lua.LState) int {
		ctx := r.contextFor(l)
		ctx.Host.LogDebug(ctx, l.CheckString(1))
		return 0
	}))
}
