package httprun

import (
	"fmt"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
	"github.com/dop251/goja"
)

// HandlerResult is everything a `> {% ... %}` block produced: its test
// outcomes, its client.log lines, and the delta it asked to
// merge into the shared globals table.
type HandlerResult struct {
	Tests        []TestOutcome
	Logs         []string
	GlobalsDelta map[string]string
	Err          error
}

// handlerTest tracks the in-progress failure state of one client.test scope.
type handlerTest struct {
	name     string
	failures []string
}

// RunHandler evaluates script against resp, with globals visible read-only
// through client.global.get and mutable only through the returned delta —
// the shared Globals table is never written to from inside the script
// itself, so a run can be retried without double-applying side effects.
func RunHandler(requestIndex int, script string, resp *Response, globals map[string]string) *HandlerResult {
	vm := goja.New()
	result := &HandlerResult{GlobalsDelta: map[string]string{}}

	var testStack []*handlerTest

	finishTest := func(t *handlerTest) {
		outcome := TestOutcome{RequestIndex: requestIndex, Name: t.name, Passed: len(t.failures) == 0}
		if !outcome.Passed {
			outcome.Message = strings.Join(t.failures, "; ")
		}
		result.Tests = append(result.Tests, outcome)
	}

	clientObj := vm.NewObject()
	clientObj.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		result.Logs = append(result.Logs, strings.Join(parts, " "))
		return goja.Undefined()
	})
	clientObj.Set("assert", func(call goja.FunctionCall) goja.Value {
		cond := call.Argument(0).ToBoolean()
		msg := "assertion failed"
		if len(call.Arguments) > 1 {
			msg = call.Argument(1).String()
		}
		if cond {
			return goja.Undefined()
		}
		if len(testStack) > 0 {
			top := testStack[len(testStack)-1]
			top.failures = append(top.failures, msg)
			return goja.Undefined()
		}
		panic(vm.ToValue(msg))
	})
	clientObj.Set("test", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.ToValue(fmt.Sprintf("client.test(%q, ...) requires a function as its second argument", name)))
		}
		t := &handlerTest{name: name}
		testStack = append(testStack, t)
		_, callErr := fn(goja.Undefined())
		testStack = testStack[:len(testStack)-1]
		if callErr != nil {
			t.failures = append(t.failures, callErr.Error())
		}
		finishTest(t)
		if callErr != nil {
			panic(vm.ToValue(callErr.Error()))
		}
		return goja.Undefined()
	})

	globalObj := vm.NewObject()
	globalObj.Set("set", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		value := call.Argument(1).String()
		result.GlobalsDelta[name] = value
		return goja.Undefined()
	})
	globalObj.Set("get", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if v, ok := result.GlobalsDelta[name]; ok {
			return vm.ToValue(v)
		}
		if v, ok := globals[name]; ok {
			return vm.ToValue(v)
		}
		return goja.Undefined()
	})
	clientObj.Set("global", globalObj)
	vm.Set("client", clientObj)

	vm.Set("response", buildResponseObject(vm, resp))

	_, err := vm.RunString(script)
	if err != nil {
		if exc, ok := err.(*goja.Exception); ok {
			result.Err = fmt.Errorf("%s", exc.Value().String())
		} else {
			result.Err = err
		}
	}
	return result
}

func buildResponseObject(vm *goja.Runtime, resp *Response) *goja.Object {
	respObj := vm.NewObject()
	respObj.Set("status", resp.StatusCode)
	respObj.Set("contentType", map[string]string{
		"mimeType": resp.ContentType.MimeType,
		"charset":  resp.ContentType.Charset,
	})

	headersObj := vm.NewObject()
	headersObj.Set("valueOf", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		values := resp.Headers.Values(name)
		if len(values) == 0 {
			return goja.Null()
		}
		return vm.ToValue(values[0])
	})
	headersObj.Set("valuesOf", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		return vm.ToValue(resp.Headers.Values(name))
	})
	respObj.Set("headers", headersObj)

	if resp.IsJSON {
		bodyObj := vm.ToValue(resp.JSON).ToObject(vm)
		bodyObj.Set("jsonPath", func(call goja.FunctionCall) goja.Value {
			expr := call.Argument(0).String()
			value, err := jsonpath.Get(expr, resp.JSON)
			if err != nil {
				panic(vm.ToValue(fmt.Sprintf("jsonPath(%q): %s", expr, err)))
			}
			return vm.ToValue(value)
		})
		respObj.Set("body", bodyObj)
	} else {
		respObj.Set("body", resp.Text)
	}

	return respObj
}

// jsonPathEval is exposed for tests that want to exercise the gval-backed
// evaluator without going through a goja script. It builds the jsonpath
// grammar on top of gval's full language, the same combination jsonpath.Get
// uses internally.
func jsonPathEval(expr string, v any) (any, error) {
	eval, err := gval.Full(jsonpath.Language()).NewEvaluable(expr)
	if err != nil {
		return nil, err
	}
	return eval(nil, v)
}
