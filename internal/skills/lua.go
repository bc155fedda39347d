package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/ShayCichocki/crew/internal/agent"
	"github.com/ShayCichocki/crew/pkg/models"
)

const defaultCacheSize = 64

// luaRunner executes Lua skills. Compiled chunks are cached by skill ID and
// script hash; every call gets a fresh interpreter state.
type luaRunner struct {
	protos  *lru.Cache[string, *lua.FunctionProto]
	prompts agent.PromptExecutor
}

func newLuaRunner(cacheSize int, prompts agent.PromptExecutor) (*luaRunner, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *lua.FunctionProto](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create lua cache: %w", err)
	}
	return &luaRunner{protos: cache, prompts: prompts}, nil
}

// compile returns the cached proto for a script, compiling it on a miss.
func (r *luaRunner) compile(m *Manifest) (*lua.FunctionProto, error) {
	sum := sha256.Sum256([]byte(m.Script))
	key := m.ID + ":" + hex.EncodeToString(sum[:8])
	if proto, ok := r.protos.Get(key); ok {
		return proto, nil
	}

	chunk, err := parse.Parse(strings.NewReader(m.Script), m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	proto, err := lua.Compile(chunk, m.ID)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	r.protos.Add(key, proto)
	return proto, nil
}

// luaCall carries the per-invocation state shared with host functions.
type luaCall struct {
	ctx       context.Context
	skillID   string
	sc        agent.SkillContext
	opts      agent.SkillOptions
	prompts   agent.PromptExecutor
	artifacts []models.Artifact
	usage     models.Usage
}

// run executes the skill's run(input, ctx) function.
func (r *luaRunner) run(ctx context.Context, m *Manifest, input map[string]any, sc agent.SkillContext, opts agent.SkillOptions) (*agent.SkillResponse, error) {
	proto, err := r.compile(m)
	if err != nil {
		return nil, err
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	defer L.Close()
	L.SetContext(ctx)

	openSafeLibs(L)
	call := &luaCall{ctx: ctx, skillID: m.ID, sc: sc, opts: opts, prompts: r.prompts}
	call.register(L)

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return call.response(nil), fmt.Errorf("load script: %w", err)
	}

	entry := L.GetGlobal("run")
	if entry.Type() != lua.LTFunction {
		return call.response(nil), fmt.Errorf("skill %s: script must define a 'run' function", m.ID)
	}

	L.Push(entry)
	L.Push(goToLua(L, input))
	L.Push(call.contextTable(L))
	if err := L.PCall(2, 1, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return call.response(nil), ctxErr
		}
		return call.response(nil), fmt.Errorf("run: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return call.response(outputFromLua(ret)), nil
}

func (c *luaCall) response(output map[string]any) *agent.SkillResponse {
	if output == nil {
		output = map[string]any{}
	}
	return &agent.SkillResponse{Output: output, Artifacts: c.artifacts, Usage: c.usage}
}

// openSafeLibs loads only the safe standard libraries.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove functions that reach the filesystem or load code.
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

// register installs the host API.
func (c *luaCall) register(L *lua.LState) {
	L.SetGlobal("log", L.NewFunction(c.luaLog))
	L.SetGlobal("artifact", L.NewFunction(c.luaArtifact))
	L.SetGlobal("prompt", L.NewFunction(c.luaPrompt))
}

// contextTable exposes the skill context to the script.
func (c *luaCall) contextTable(L *lua.LState) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "skill", lua.LString(c.skillID))
	L.SetField(tbl, "project_path", lua.LString(c.sc.ProjectPath))
	L.SetField(tbl, "additional_context", lua.LString(c.sc.AdditionalContext))
	L.SetField(tbl, "auto_approve", lua.LBool(c.opts.AutoApprove))

	project := L.NewTable()
	L.SetField(project, "id", lua.LString(c.sc.ProjectInfo.ID))
	L.SetField(project, "name", lua.LString(c.sc.ProjectInfo.Name))
	L.SetField(project, "language", lua.LString(c.sc.ProjectInfo.Language))
	L.SetField(project, "framework", lua.LString(c.sc.ProjectInfo.Framework))
	L.SetField(project, "working_directory", lua.LString(c.sc.ProjectInfo.WorkingDirectory))
	L.SetField(tbl, "project", project)
	return tbl
}

// luaLog implements the log(message) API.
func (c *luaCall) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	log.Printf("[skills] %s: %s", c.skillID, message)
	return 0
}

// luaArtifact implements the artifact{name=..., kind=..., path=..., action=..., content=...} API.
func (c *luaCall) luaArtifact(L *lua.LState) int {
	tbl := L.CheckTable(1)
	a := models.Artifact{
		Name:    lua.LVAsString(tbl.RawGetString("name")),
		Kind:    lua.LVAsString(tbl.RawGetString("kind")),
		Path:    lua.LVAsString(tbl.RawGetString("path")),
		Action:  lua.LVAsString(tbl.RawGetString("action")),
		Content: lua.LVAsString(tbl.RawGetString("content")),
	}
	if a.Name == "" {
		a.Name = a.Path
	}
	if a.Name == "" {
		L.ArgError(1, "artifact needs a name or path")
		return 0
	}
	c.artifacts = append(c.artifacts, a)
	return 0
}

// luaPrompt implements the prompt(text, system?) API and returns the reply text.
func (c *luaCall) luaPrompt(L *lua.LState) int {
	text := L.CheckString(1)
	system := L.OptString(2, "")
	if c.prompts == nil {
		L.RaiseError("prompt: %v", agent.ErrNoPromptExecutor)
		return 0
	}

	workDir := c.sc.ProjectInfo.WorkingDirectory
	if workDir == "" {
		workDir = c.sc.ProjectPath
	}
	resp, err := c.prompts.Execute(c.ctx, agent.PromptRequest{
		Prompt:           text,
		SystemPrompt:     system,
		Capability:       agent.CapabilityFor(c.opts.AutoApprove),
		WorkingDirectory: workDir,
	})
	if resp != nil {
		c.usage = c.usage.Add(resp.Usage)
	}
	if err != nil {
		L.RaiseError("prompt: %v", err)
		return 0
	}
	if resp == nil {
		L.RaiseError("prompt: empty response")
		return 0
	}
	L.Push(lua.LString(resp.Text))
	return 1
}

// outputFromLua converts the value returned by run() into the skill output.
// A string becomes {text = ...}; nil becomes an empty output.
func outputFromLua(v lua.LValue) map[string]any {
	switch val := luaToGo(v).(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return val
	case string:
		return map[string]any{"text": val}
	default:
		return map[string]any{"value": val}
	}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), lua.LString(item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to plain Go data. Tables with a non-empty
// array part become slices; other tables become maps with string keys.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		return out
	default:
		return v.String()
	}
}
