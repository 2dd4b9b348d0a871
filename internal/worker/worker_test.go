package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/workerdom/internal/codec"
	"github.com/GriffinCanCode/workerdom/internal/mirror"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
	"github.com/GriffinCanCode/workerdom/internal/transport"
)

const page = `<html><head></head><body><button id="b">0</button></body></html>`

// Node ids of page.
const (
	bodyID   = 4
	buttonID = 5
)

const wait = 2 * time.Second

func launch(t *testing.T, cfg Config, script string) (*Worker, *mirror.Mirror) {
	t.Helper()
	workerEnd, mainEnd := transport.NewPipe()
	t.Cleanup(func() { _ = workerEnd.Close() })

	m := mirror.New(mainEnd)
	require.NoError(t, m.LoadHTML(strings.NewReader(page)))

	w, err := New(workerEnd, cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		_ = w.Close()
		cancel()
	})

	require.NoError(t, w.Start(ctx, page, script))
	require.Eventually(t, m.Hydrated, wait, 5*time.Millisecond)
	return w, m
}

func eventually(t *testing.T, m *mirror.Mirror, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := m.InnerHTML(bodyID)
		return err == nil && got == want
	}, wait, 5*time.Millisecond)
}

func evalCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	t.Cleanup(cancel)
	return ctx
}

func TestScriptMutatesDocument(t *testing.T) {
	_, m := launch(t, DefaultConfig(), `
		const p = document.createElement("p");
		p.className = "note";
		p.appendChild(document.createTextNode("hello"));
		document.body.insertBefore(p, document.getElementById("b"));
		document.getElementById("b").textContent = "1";
	`)
	eventually(t, m, `<p class="note">hello</p><button id="b">1</button>`)
}

func TestDangerousGlobalsRemoved(t *testing.T) {
	w, _ := launch(t, DefaultConfig(), ``)

	for _, name := range []string{"require", "process", "module", "exports"} {
		v, err := w.Eval(evalCtx(t), "typeof "+name)
		require.NoError(t, err)
		assert.Equal(t, "undefined", v, name)
	}
}

func TestExecutionTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	w, _ := launch(t, cfg, ``)

	_, err := w.Eval(evalCtx(t), `while (true) {}`)
	assert.ErrorIs(t, err, ErrTimeout)

	v, err := w.Eval(evalCtx(t), `1 + 1`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestConsoleCaptured(t *testing.T) {
	w, _ := launch(t, DefaultConfig(), `console.log("a", 1); console.warn("b")`)

	entries := w.Console()
	require.Len(t, entries, 2)
	assert.Equal(t, "log", entries[0].Level)
	assert.Equal(t, "a 1", entries[0].Message)
	assert.Equal(t, "[warn] b", entries[1].String())
}

func TestExportedFunctions(t *testing.T) {
	_, m := launch(t, DefaultConfig(), `
		exportFunction("add", (a, b) => a + b);
		exportFunction("later", () => Promise.resolve("ok"));
		exportFunction("fails", () => { throw new Error("bad input") });
	`)

	tests := []struct {
		name    string
		args    []any
		want    any
		wantErr string
	}{
		{name: "add", args: []any{2, 3}, want: 5.0},
		{name: "later", want: "ok"},
		{name: "fails", wantErr: "bad input"},
		{name: "missing", wantErr: "could not be found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := m.CallWorkerFunction(tt.name, tt.args...)
			require.NoError(t, err)
			v, err := f.Await(evalCtx(t))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestCallFunctionResolvesPromise(t *testing.T) {
	workerEnd, mainEnd := transport.NewPipe()
	t.Cleanup(func() { _ = workerEnd.Close() })
	m := mirror.New(mainEnd)
	require.NoError(t, m.LoadHTML(strings.NewReader(page)))
	m.RegisterGlobal("title", func(args []any) (any, error) {
		return "main " + args[0].(string), nil
	})

	w, err := New(workerEnd, DefaultConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		_ = w.Close()
		cancel()
	})
	require.NoError(t, w.Start(ctx, page, `
		callFunction("title", "page").then(v => document.body.setAttribute("data-title", v));
	`))

	require.Eventually(t, func() bool {
		v, err := w.Eval(evalCtx(t), `document.body.getAttribute("data-title")`)
		return err == nil && v == "main page"
	}, wait, 5*time.Millisecond)
}

func TestCallFunctionArgumentKinds(t *testing.T) {
	workerEnd, mainEnd := transport.NewPipe()
	t.Cleanup(func() { _ = workerEnd.Close() })
	m := mirror.New(mainEnd)
	require.NoError(t, m.LoadHTML(strings.NewReader(page)))
	got := make(chan []any, 1)
	m.RegisterGlobal("capture", func(args []any) (any, error) {
		got <- args
		return nil, nil
	})

	w, err := New(workerEnd, DefaultConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		_ = w.Close()
		cancel()
	})
	require.NoError(t, w.Start(ctx, page, `
		callFunction("capture",
			{a: undefined, b: 1},
			[undefined, null],
			new Uint8Array([9]),
			new ArrayBuffer(2),
			new Int16Array([-3]),
			new Uint8ClampedArray([300]),
			new Float32Array([1.5]),
			new Int8Array([-1]),
			new Uint32Array([4000000000]),
			new Float64Array([0.25]),
			undefined);
	`))

	var args []any
	select {
	case args = <-got:
	case <-time.After(wait):
		t.Fatal("capture was never called")
	}
	require.Len(t, args, 11)
	assert.Equal(t, map[string]any{"b": float64(1)}, args[0])
	assert.Equal(t, []any{codec.Undefined, nil}, args[1])
	assert.Equal(t, []uint8{9}, args[2])
	assert.Equal(t, codec.ArrayBuffer{0, 0}, args[3])
	assert.Equal(t, []int16{-3}, args[4])
	assert.Equal(t, codec.Uint8Clamped{255}, args[5])
	assert.Equal(t, []float32{1.5}, args[6])
	assert.Equal(t, []int8{-1}, args[7])
	assert.Equal(t, []uint32{4000000000}, args[8])
	assert.Equal(t, []float64{0.25}, args[9])
	assert.Equal(t, codec.Undefined, args[10])
}

func TestEventsReachScript(t *testing.T) {
	_, m := launch(t, DefaultConfig(), `
		let clicks = 0;
		const b = document.getElementById("b");
		b.addEventListener("click", e => { clicks++; e.target.textContent = String(clicks) }, {preventDefault: true});
		b.addEventListener("input", e => { b.setAttribute("data-value", e.value) });
	`)

	assert.True(t, m.PreventDefault(buttonID, "click"))
	assert.False(t, m.PreventDefault(buttonID, "input"))
	require.NoError(t, m.DispatchEvent(buttonID, "click", nil))
	value := "typed"
	require.NoError(t, m.DispatchEvent(buttonID, "input", &value))

	eventually(t, m, `<button id="b" data-value="typed">1</button>`)
}

func TestStorageAndObjects(t *testing.T) {
	workerEnd, mainEnd := transport.NewPipe()
	t.Cleanup(func() { _ = workerEnd.Close() })
	m := mirror.New(mainEnd)
	require.NoError(t, m.LoadHTML(strings.NewReader(page)))
	total := make(chan float64, 1)
	m.RegisterConstructor("Counter", func([]any) (any, error) {
		sum := 0.0
		return mirror.Funcs{"add": func(args []any) (any, error) {
			sum += args[0].(float64)
			total <- sum
			return sum, nil
		}}, nil
	})

	w, err := New(workerEnd, DefaultConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		_ = w.Close()
		cancel()
	})
	require.NoError(t, w.Start(ctx, page, `
		localStorage.setItem("theme", "dark");
		sessionStorage.setItem("tab", "2");
		const counter = newObject("Counter");
		counter.mutate("add", 4);
	`))

	select {
	case v := <-total:
		assert.Equal(t, 4.0, v)
	case <-time.After(wait):
		t.Fatal("counter was never called")
	}
	assert.Equal(t, map[string]string{"theme": "dark"}, m.Storage(protocol.LocalStorage))
	assert.Equal(t, map[string]string{"tab": "2"}, m.Storage(protocol.SessionStorage))
}

func TestSetTimeout(t *testing.T) {
	_, m := launch(t, DefaultConfig(), `
		const cancelled = setTimeout(() => { document.body.textContent = "wrong" }, 5);
		clearTimeout(cancelled);
		setTimeout(label => { document.getElementById("b").textContent = label }, 5, "late");
	`)
	eventually(t, m, `<button id="b">late</button>`)
}

func TestStartErrors(t *testing.T) {
	workerEnd, _ := transport.NewPipe()
	t.Cleanup(func() { _ = workerEnd.Close() })

	w, err := New(workerEnd, DefaultConfig())
	require.NoError(t, err)
	_, err = w.Eval(evalCtx(t), `1`)
	assert.ErrorIs(t, err, ErrStopped)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		_ = w.Close()
		cancel()
	})
	err = w.Start(ctx, page, `document.body.appendChild("nope")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a node")
	assert.ErrorIs(t, w.Start(ctx, page, ``), ErrStarted)
}
