package scripting

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"scriptworld/internal/graph"
	"scriptworld/internal/services"
)

// serviceWrapper resolves a service by name and builds its JS-facing
// object once; repeated GetService calls return the identical wrapper so
// scripts can compare them.
func (h *Host) serviceWrapper(name string) (goja.Value, error) {
	if cached, ok := h.svcCache[name]; ok {
		return cached, nil
	}
	svc, err := h.registry.GetOrCreate(name)
	if err != nil {
		return nil, err
	}

	var wrapper goja.Value
	switch s := svc.(type) {
	case *services.Workspace:
		wrapper = h.wrapWorkspace(s)
	case *services.Players:
		wrapper = h.wrapPlayers(s)
	case *services.RunService:
		wrapper = h.wrapRunService(s)
	case *services.AgentInput:
		wrapper = h.wrapAgentInput(s)
	case *services.DataStore:
		wrapper = h.wrapDataStore(s)
	case *services.RemoteEvents:
		wrapper = h.wrapRemoteEvents(s)
	default:
		return nil, fmt.Errorf("service %q has no script surface", name)
	}
	h.svcCache[name] = wrapper
	return wrapper, nil
}

func (h *Host) wrapWorkspace(ws *services.Workspace) goja.Value {
	rt := h.vm.Runtime()
	obj := rt.NewObject()

	_ = obj.Set("Root", func(call goja.FunctionCall) goja.Value {
		return h.wrapInstance(ws.Root())
	})
	_ = obj.Set("GetGravity", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(ws.Gravity())
	})
	_ = obj.Set("SetGravity", func(call goja.FunctionCall) goja.Value {
		ws.SetGravity(call.Argument(0).ToFloat())
		return goja.Undefined()
	})
	_ = obj.Set("ApplyImpulse", func(call goja.FunctionCall) goja.Value {
		handle, err := h.handleFrom(call.Argument(0))
		if err != nil {
			panic(rt.NewGoError(err))
		}
		v, err := jsToVec(call.Argument(1))
		if err != nil {
			panic(rt.NewGoError(err))
		}
		if err := ws.ApplyImpulse(handle, v); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("Raycast", func(call goja.FunctionCall) goja.Value {
		origin, err := jsToVec(call.Argument(0))
		if err != nil {
			panic(rt.NewGoError(err))
		}
		dir, err := jsToVec(call.Argument(1))
		if err != nil {
			panic(rt.NewGoError(err))
		}
		maxDist := call.Argument(2).ToFloat()
		exclude := h.excludeList(call.Argument(3))

		handle, hit, ok := ws.Raycast(origin, dir, maxDist, exclude)
		if !ok {
			return goja.Null()
		}
		out := rt.NewObject()
		_ = out.Set("instance", h.wrapInstance(handle))
		_ = out.Set("position", vecToJS(rt, hit.Position))
		_ = out.Set("normal", vecToJS(rt, hit.Normal))
		_ = out.Set("distance", hit.Distance)
		return out
	})
	return obj
}

// excludeList accepts a JS array of instances and maps each element back
// to a graph handle; non-instances are skipped.
func (h *Host) excludeList(arg goja.Value) []graph.Handle {
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return nil
	}
	obj, ok := arg.(*goja.Object)
	if !ok {
		return nil
	}
	n := int(obj.Get("length").ToInteger())
	out := make([]graph.Handle, 0, n)
	for i := 0; i < n; i++ {
		el := obj.Get(fmt.Sprint(i))
		if el == nil {
			continue
		}
		if handle, err := h.handleFrom(el); err == nil {
			out = append(out, handle)
		}
	}
	return out
}

func (h *Host) wrapPlayers(ps *services.Players) goja.Value {
	rt := h.vm.Runtime()
	obj := rt.NewObject()

	_ = obj.Set("GetPlayers", func(call goja.FunctionCall) goja.Value {
		all := ps.All()
		out := make([]any, 0, len(all))
		for _, p := range all {
			out = append(out, h.wrapInstance(p))
		}
		return rt.ToValue(out)
	})
	_ = obj.Set("GetPlayerByUserId", func(call goja.FunctionCall) goja.Value {
		p, ok := ps.ByUserID(uint64(call.Argument(0).ToInteger()))
		if !ok {
			return goja.Null()
		}
		return h.wrapInstance(p)
	})
	_ = obj.Set("PlayerAdded", h.wrapSignal(ps.PlayerAdded))
	_ = obj.Set("PlayerRemoving", h.wrapSignal(ps.PlayerRemoving))
	return obj
}

func (h *Host) wrapRunService(rs *services.RunService) goja.Value {
	rt := h.vm.Runtime()
	obj := rt.NewObject()
	_ = obj.Set("Stepped", h.wrapSignal(rs.Stepped))
	_ = obj.Set("Heartbeat", h.wrapSignal(rs.Heartbeat))
	_ = obj.Set("Time", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(rs.Elapsed())
	})
	return obj
}

func (h *Host) wrapAgentInput(ai *services.AgentInput) goja.Value {
	obj := h.vm.Runtime().NewObject()
	_ = obj.Set("InputReceived", h.wrapSignal(ai.InputReceived))
	return obj
}

func (h *Host) wrapRemoteEvents(re *services.RemoteEvents) goja.Value {
	rt := h.vm.Runtime()
	obj := rt.NewObject()

	fire := func(reliable bool) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			name := strings.TrimSpace(call.Argument(0).String())
			if name == "" {
				return goja.Undefined()
			}
			re.FireAllClients(name, call.Argument(1).Export(), reliable)
			return goja.Undefined()
		}
	}
	_ = obj.Set("FireAllClients", fire(true))
	_ = obj.Set("FireAllClientsUnreliable", fire(false))
	return obj
}

func (h *Host) wrapDataStore(ds *services.DataStore) goja.Value {
	rt := h.vm.Runtime()
	obj := rt.NewObject()

	// Completion callbacks fire on a later tick boundary; each runs under
	// the call-in budget and any failure is counted, not propagated.
	report := func(err error) {
		if err != nil {
			h.ReportError("datastore", err)
		}
	}
	errArg := func(err error) goja.Value {
		if err == nil {
			return goja.Null()
		}
		return rt.ToValue(err.Error())
	}

	_ = obj.Set("GetAsync", func(call goja.FunctionCall) goja.Value {
		store, key := call.Argument(0).String(), call.Argument(1).String()
		cb, ok := goja.AssertFunction(call.Argument(2))
		if !ok {
			panic(rt.NewGoError(fmt.Errorf("GetAsync: callback is not a function")))
		}
		err := ds.GetAsync(store, key, func(value string, found bool, err error) {
			var v goja.Value = goja.Null()
			if err == nil && found {
				v = rt.ToValue(value)
			}
			report(h.vm.Call(cb, h.budgets.CallIn, v, errArg(err)))
		})
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	_ = obj.Set("SetAsync", func(call goja.FunctionCall) goja.Value {
		store, key, value := call.Argument(0).String(), call.Argument(1).String(), call.Argument(2).String()
		cb, _ := goja.AssertFunction(call.Argument(3))
		err := ds.SetAsync(store, key, value, func(err error) {
			if cb == nil {
				return
			}
			report(h.vm.Call(cb, h.budgets.CallIn, errArg(err)))
		})
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	_ = obj.Set("IncrementAsync", func(call goja.FunctionCall) goja.Value {
		store, key := call.Argument(0).String(), call.Argument(1).String()
		delta := call.Argument(2).ToFloat()
		cb, _ := goja.AssertFunction(call.Argument(3))
		err := ds.IncrementAsync(store, key, delta, func(newValue float64, err error) {
			if cb == nil {
				return
			}
			report(h.vm.Call(cb, h.budgets.CallIn, rt.ToValue(newValue), errArg(err)))
		})
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	_ = obj.Set("SubmitScoreAsync", func(call goja.FunctionCall) goja.Value {
		store, member, score := call.Argument(0).String(), call.Argument(1).String(), call.Argument(2).String()
		cb, _ := goja.AssertFunction(call.Argument(3))
		err := ds.SubmitScoreAsync(store, member, score, func(err error) {
			if cb == nil {
				return
			}
			report(h.vm.Call(cb, h.budgets.CallIn, errArg(err)))
		})
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	_ = obj.Set("TopScoresAsync", func(call goja.FunctionCall) goja.Value {
		store := call.Argument(0).String()
		limit := int(call.Argument(1).ToInteger())
		cb, ok := goja.AssertFunction(call.Argument(2))
		if !ok {
			panic(rt.NewGoError(fmt.Errorf("TopScoresAsync: callback is not a function")))
		}
		err := ds.TopScoresAsync(store, limit, func(entries []services.ScoreEntry, err error) {
			rows := make([]any, 0, len(entries))
			for _, e := range entries {
				row := rt.NewObject()
				_ = row.Set("member", e.Member)
				_ = row.Set("score", e.Score)
				rows = append(rows, row)
			}
			report(h.vm.Call(cb, h.budgets.CallIn, rt.ToValue(rows), errArg(err)))
		})
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	return obj
}
