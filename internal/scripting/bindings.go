package scripting

import (
	"fmt"

	"github.com/dop251/goja"

	"scriptworld/internal/graph"
	"scriptworld/internal/signal"
	"scriptworld/internal/types"
)

// installBindings injects the closed script-facing API into the VM:
// instance construction, attribute access, signal connect/disconnect,
// service lookup, raycast, and impulse application. Everything scripts
// can touch goes through here; value coercion into the closed union
// happens at this layer, never inside the graph.
func installBindings(h *Host) {
	rt := h.vm.Runtime()

	vector3 := rt.NewObject()
	_ = vector3.Set("new", func(call goja.FunctionCall) goja.Value {
		x, y, z := argFloat(call, 0), argFloat(call, 1), argFloat(call, 2)
		return vecToJS(rt, types.NewVector3(x, y, z))
	})
	rt.Set("Vector3", vector3)

	color3 := rt.NewObject()
	_ = color3.Set("new", func(call goja.FunctionCall) goja.Value {
		obj := rt.NewObject()
		_ = obj.Set("r", argFloat(call, 0))
		_ = obj.Set("g", argFloat(call, 1))
		_ = obj.Set("b", argFloat(call, 2))
		return obj
	})
	rt.Set("Color3", color3)

	instance := rt.NewObject()
	_ = instance.Set("new", func(call goja.FunctionCall) goja.Value {
		className := call.Argument(0).String()
		class, ok := graph.ParseClass(className)
		if !ok || class == graph.ClassPlayer || class == graph.ClassWorkspace {
			panic(rt.NewGoError(fmt.Errorf("Instance.new: cannot create class %q", className)))
		}
		name := className
		if len(call.Arguments) > 1 {
			name = call.Argument(1).String()
		}
		return h.wrapInstance(h.graph.Create(class, name))
	})
	rt.Set("Instance", instance)

	game := rt.NewObject()
	_ = game.Set("GetService", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		svc, err := h.serviceWrapper(name)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return svc
	})
	rt.Set("game", game)

	// Monotonic in-session seconds; scripts get no wall clock.
	rt.Set("time", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(h.registry.RunService().Elapsed())
	})
}

// --- instance wrappers -------------------------------------------------

func (h *Host) wrapInstance(handle graph.Handle) goja.Value {
	rt := h.vm.Runtime()
	if !h.graph.Valid(handle) {
		return goja.Null()
	}
	obj := rt.NewObject()
	_ = obj.Set("__handle", handle)

	id, _ := h.graph.WireID(handle)
	class, _ := h.graph.ClassOf(handle)
	_ = obj.Set("id", id)
	_ = obj.Set("ClassName", class.String())

	_ = obj.Set("IsA", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(class.IsA(call.Argument(0).String()))
	})

	_ = obj.Set("GetName", func(call goja.FunctionCall) goja.Value {
		name, err := h.graph.Name(handle)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return rt.ToValue(name)
	})
	_ = obj.Set("SetName", func(call goja.FunctionCall) goja.Value {
		if err := h.graph.SetName(handle, call.Argument(0).String()); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	_ = obj.Set("Parent", func(call goja.FunctionCall) goja.Value {
		p, err := h.graph.Parent(handle)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		if p.IsZero() {
			return goja.Null()
		}
		return h.wrapInstance(p)
	})
	_ = obj.Set("SetParent", func(call goja.FunctionCall) goja.Value {
		var parent graph.Handle
		if arg := call.Argument(0); !goja.IsNull(arg) && !goja.IsUndefined(arg) {
			var err error
			parent, err = h.handleFrom(arg)
			if err != nil {
				panic(rt.NewGoError(err))
			}
		}
		if err := h.graph.SetParent(handle, parent); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	_ = obj.Set("FindFirstChild", func(call goja.FunctionCall) goja.Value {
		recursive := false
		if len(call.Arguments) > 1 {
			recursive = call.Argument(1).ToBoolean()
		}
		child, err := h.graph.FindChild(handle, call.Argument(0).String(), recursive)
		if err != nil {
			return goja.Null()
		}
		return h.wrapInstance(child)
	})
	_ = obj.Set("GetChildren", func(call goja.FunctionCall) goja.Value {
		kids, err := h.graph.Children(handle)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		out := make([]any, 0, len(kids))
		for _, k := range kids {
			out = append(out, h.wrapInstance(k))
		}
		return rt.ToValue(out)
	})
	_ = obj.Set("WaitForChild", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		timeout := call.Argument(1).ToFloat()
		cb, ok := goja.AssertFunction(call.Argument(2))
		if !ok {
			panic(rt.NewGoError(fmt.Errorf("WaitForChild: callback is not a function")))
		}
		h.WaitForChild(handle, name, timeout, func(child graph.Handle, found bool) {
			arg := goja.Null()
			if found {
				arg = h.wrapInstance(child)
			}
			if err := h.vm.Call(cb, h.budgets.CallIn, arg); err != nil {
				h.ReportError("WaitForChild", err)
			}
		})
		return goja.Undefined()
	})

	_ = obj.Set("Clone", func(call goja.FunctionCall) goja.Value {
		cp, err := h.graph.CloneSubtree(handle)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return h.wrapInstance(cp)
	})
	_ = obj.Set("Destroy", func(call goja.FunctionCall) goja.Value {
		if err := h.graph.Destroy(handle); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	_ = obj.Set("SetAttribute", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		val, err := types.FromAny(call.Argument(1).Export())
		if err != nil {
			panic(rt.NewGoError(err))
		}
		if err := h.graph.SetAttribute(handle, key, val); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("GetAttribute", func(call goja.FunctionCall) goja.Value {
		val, err := h.graph.Attribute(handle, call.Argument(0).String())
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return h.valueToJS(val)
	})
	_ = obj.Set("GetAttributes", func(call goja.FunctionCall) goja.Value {
		attrs, err := h.graph.Attributes(handle)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		out := rt.NewObject()
		for k, v := range attrs {
			_ = out.Set(k, h.valueToJS(v))
		}
		return out
	})

	_ = obj.Set("AddTag", func(call goja.FunctionCall) goja.Value {
		if err := h.graph.AddTag(handle, call.Argument(0).String()); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("HasTag", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(h.graph.HasTag(handle, call.Argument(0).String()))
	})

	_ = obj.Set("Get", func(call goja.FunctionCall) goja.Value {
		v, err := h.getProperty(handle, call.Argument(0).String())
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return v
	})
	_ = obj.Set("Set", func(call goja.FunctionCall) goja.Value {
		if err := h.setProperty(handle, call.Argument(0).String(), call.Argument(1)); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	_ = obj.Set("Signal", func(call goja.FunctionCall) goja.Value {
		sig, err := h.graph.SignalOf(handle, call.Argument(0).String())
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return h.wrapSignal(sig)
	})

	return obj
}

func (h *Host) handleFrom(v goja.Value) (graph.Handle, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return graph.Handle{}, fmt.Errorf("expected an instance, got %s", v)
	}
	raw := obj.Get("__handle")
	if raw == nil {
		return graph.Handle{}, fmt.Errorf("expected an instance")
	}
	handle, ok := raw.Export().(graph.Handle)
	if !ok {
		return graph.Handle{}, fmt.Errorf("expected an instance")
	}
	return handle, nil
}

// --- properties --------------------------------------------------------

func (h *Host) getProperty(handle graph.Handle, prop string) (goja.Value, error) {
	rt := h.vm.Runtime()
	if prop == "Name" {
		name, err := h.graph.Name(handle)
		if err != nil {
			return nil, err
		}
		return rt.ToValue(name), nil
	}

	if part, err := h.graph.Part(handle); err == nil {
		switch prop {
		case "Position":
			return vecToJS(rt, part.Position), nil
		case "Size":
			return vecToJS(rt, part.Size), nil
		case "Velocity":
			return vecToJS(rt, part.Velocity), nil
		case "Anchored":
			return rt.ToValue(part.Anchored), nil
		case "CanCollide":
			return rt.ToValue(part.CanCollide), nil
		case "Color":
			obj := rt.NewObject()
			_ = obj.Set("r", part.Color.R)
			_ = obj.Set("g", part.Color.G)
			_ = obj.Set("b", part.Color.B)
			return obj, nil
		case "Material":
			return rt.ToValue(part.Material), nil
		case "Shape":
			return rt.ToValue(part.Shape), nil
		case "Transparency":
			return rt.ToValue(part.Transparency), nil
		}
	}
	if hum, err := h.graph.Humanoid(handle); err == nil {
		switch prop {
		case "Health":
			return rt.ToValue(hum.Health), nil
		case "MaxHealth":
			return rt.ToValue(hum.MaxHealth), nil
		case "WalkSpeed":
			return rt.ToValue(hum.WalkSpeed), nil
		}
	}
	if pl, err := h.graph.Player(handle); err == nil {
		switch prop {
		case "UserId":
			return rt.ToValue(pl.UserID), nil
		case "Character":
			if pl.Character.IsZero() {
				return goja.Null(), nil
			}
			return h.wrapInstance(pl.Character), nil
		}
	}
	if _, err := h.graph.Name(handle); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("unknown property %q: %w", prop, graph.ErrWrongClass)
}

func (h *Host) setProperty(handle graph.Handle, prop string, raw goja.Value) error {
	if prop == "Name" {
		return h.graph.SetName(handle, raw.String())
	}

	if part, err := h.graph.Part(handle); err == nil {
		switch prop {
		case "Position":
			v, err := jsToVec(raw)
			if err != nil {
				return err
			}
			part.Position = v
			return nil
		case "Size":
			v, err := jsToVec(raw)
			if err != nil {
				return err
			}
			part.Size = v
			return nil
		case "Velocity":
			v, err := jsToVec(raw)
			if err != nil {
				return err
			}
			part.Velocity = v
			return nil
		case "Anchored":
			part.Anchored = raw.ToBoolean()
			return nil
		case "CanCollide":
			part.CanCollide = raw.ToBoolean()
			return nil
		case "Color":
			c, err := jsToColor(raw)
			if err != nil {
				return err
			}
			part.Color = c
			return nil
		case "Material":
			part.Material = raw.String()
			return nil
		case "Shape":
			part.Shape = raw.String()
			return nil
		case "Transparency":
			part.Transparency = raw.ToFloat()
			return nil
		}
	}
	if hum, err := h.graph.Humanoid(handle); err == nil {
		switch prop {
		case "Health":
			return h.graph.SetHealth(handle, raw.ToFloat())
		case "MaxHealth":
			hum.MaxHealth = raw.ToFloat()
			return nil
		case "WalkSpeed":
			hum.WalkSpeed = raw.ToFloat()
			return nil
		}
	}
	if pl, err := h.graph.Player(handle); err == nil && prop == "Character" {
		if goja.IsNull(raw) || goja.IsUndefined(raw) {
			pl.Character = graph.Handle{}
			return nil
		}
		ch, err := h.handleFrom(raw)
		if err != nil {
			return err
		}
		pl.Character = ch
		return nil
	}
	if _, err := h.graph.Name(handle); err != nil {
		return err
	}
	return fmt.Errorf("unknown property %q: %w", prop, graph.ErrWrongClass)
}

// --- signals -----------------------------------------------------------

// wrapSignal exposes Connect/Once on a Go signal; callbacks run under
// the call-in budget and their failures are counted, not propagated.
func (h *Host) wrapSignal(sig *signal.Signal) goja.Value {
	rt := h.vm.Runtime()
	obj := rt.NewObject()

	connect := func(once bool) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			cb, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(rt.NewGoError(fmt.Errorf("%s.Connect: callback is not a function", sig.Name())))
			}
			handler := func(args ...any) {
				if h.State() != StateRunning {
					return
				}
				jsArgs := make([]goja.Value, len(args))
				for i, a := range args {
					jsArgs[i] = h.anyToJS(a)
				}
				if err := h.vm.Call(cb, h.budgets.CallIn, jsArgs...); err != nil {
					h.ReportError("signal:"+sig.Name(), err)
				}
			}
			var conn *signal.Connection
			if once {
				conn = sig.Once(handler)
			} else {
				conn = sig.Connect(handler)
			}
			return h.wrapConnection(conn)
		}
	}
	_ = obj.Set("Connect", connect(false))
	_ = obj.Set("Once", connect(true))
	return obj
}

func (h *Host) wrapConnection(conn *signal.Connection) goja.Value {
	rt := h.vm.Runtime()
	obj := rt.NewObject()
	_ = obj.Set("Disconnect", func(call goja.FunctionCall) goja.Value {
		conn.Disconnect()
		return goja.Undefined()
	})
	_ = obj.Set("Connected", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(conn.Connected())
	})
	return obj
}

// --- value conversion --------------------------------------------------

func (h *Host) valueToJS(v types.Value) goja.Value {
	rt := h.vm.Runtime()
	switch v.Kind() {
	case types.KindVector3:
		return vecToJS(rt, v.Vec3())
	case types.KindNil:
		return goja.Null()
	default:
		return rt.ToValue(v.Export())
	}
}

func (h *Host) anyToJS(a any) goja.Value {
	rt := h.vm.Runtime()
	switch x := a.(type) {
	case graph.Handle:
		return h.wrapInstance(x)
	case types.Vector3:
		return vecToJS(rt, x)
	case types.Value:
		return h.valueToJS(x)
	case nil:
		return goja.Null()
	default:
		return rt.ToValue(x)
	}
}

func vecToJS(rt *goja.Runtime, v types.Vector3) goja.Value {
	obj := rt.NewObject()
	_ = obj.Set("x", v.X)
	_ = obj.Set("y", v.Y)
	_ = obj.Set("z", v.Z)
	return obj
}

func jsToVec(v goja.Value) (types.Vector3, error) {
	val, err := types.FromAny(v.Export())
	if err != nil || val.Kind() != types.KindVector3 {
		return types.Vector3{}, fmt.Errorf("expected a Vector3 value")
	}
	return val.Vec3(), nil
}

func jsToColor(v goja.Value) (types.Color3, error) {
	m, ok := v.Export().(map[string]any)
	if !ok {
		return types.Color3{}, fmt.Errorf("expected a Color3 value")
	}
	r, okr := numField(m, "r")
	g, okg := numField(m, "g")
	b, okb := numField(m, "b")
	if !okr || !okg || !okb {
		return types.Color3{}, fmt.Errorf("expected a Color3 value")
	}
	return types.NewColor3(r, g, b), nil
}

// numField reads a numeric map entry. Integer-valued JS numbers export
// as int64, not float64.
func numField(m map[string]any, key string) (float64, bool) {
	switch x := m[key].(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

func argFloat(call goja.FunctionCall, i int) float64 {
	return call.Argument(i).ToFloat()
}
