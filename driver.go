package httprun

import (
	"context"
	"fmt"
	"strings"
)

// RunOptions configures one pipeline run.
type RunOptions struct {
	FilePath       string
	PublicEnvPath  string
	PrivateEnvPath string
	Profile        string
	Name           string
	Index          int // 0 means "no --index filter"
	DryRun         bool
}

// Driver runs a parsed request file end to end: load the environment,
// select which requests to run, then substitute, execute, and evaluate each
// one in strict file order. Requests never run concurrently with each
// other: a handler script may depend on a global another request set.
type Driver struct {
	Executor *Executor
}

// NewDriver returns a Driver with a default Executor.
func NewDriver() *Driver {
	return &Driver{Executor: NewExecutor()}
}

// Run executes opts.FilePath and returns one RunResult per selected request,
// in file order, plus the accumulated warnings from variable resolution.
func (d *Driver) Run(ctx context.Context, opts RunOptions) ([]*RunResult, []string, error) {
	requests, err := ParseFile(opts.FilePath)
	if err != nil {
		return nil, nil, err
	}

	env, err := LoadEnvironment(opts.PublicEnvPath, opts.PrivateEnvPath, opts.Profile)
	if err != nil {
		return nil, nil, err
	}

	selected, err := selectRequests(requests, opts.Name, opts.Index)
	if err != nil {
		return nil, nil, err
	}

	globals := map[string]string{}
	var warnings []string
	var results []*RunResult

	executor := d.Executor
	if executor == nil {
		executor = NewExecutor()
	}

	for _, req := range selected {
		resolver := NewResolver(req.InPlace, globals, env)
		substituted := resolver.ExpandRequest(req)
		warnings = append(warnings, resolver.Warnings...)

		result := &RunResult{Request: substituted}

		var resp *Response
		if opts.DryRun {
			resp = DryRun(substituted)
		} else {
			resp, err = executor.Execute(ctx, substituted)
			if err != nil {
				result.TransportErr = &TransportError{RequestIndex: req.Index, RequestName: req.Name, Err: err}
				results = append(results, result)
				continue
			}
		}
		result.Response = resp

		if req.HasHandler && !resp.NotExecuted {
			hr := RunHandler(req.Index, req.Handler, resp, globals)
			result.Tests = hr.Tests
			result.Logs = hr.Logs
			if hr.Err != nil {
				result.HandlerErr = &HandlerError{RequestIndex: req.Index, RequestName: req.Name, Err: hr.Err}
				result.Tests = append(result.Tests, TestOutcome{
					RequestIndex: req.Index,
					Name:         "handler error",
					Passed:       false,
					Message:      hr.Err.Error(),
				})
			}
			for k, v := range hr.GlobalsDelta {
				globals[k] = v
			}
		}

		results = append(results, result)
	}

	return results, warnings, nil
}

// selectRequests applies the --name/--index filters. --index takes
// precedence when both are given; the caller is expected to have already
// warned about the conflict.
func selectRequests(requests []*Request, name string, index int) ([]*Request, error) {
	if index > 0 {
		for _, r := range requests {
			if r.Index == index {
				return []*Request{r}, nil
			}
		}
		return nil, &UsageError{Msg: fmt.Sprintf("--index %d is out of range (file has %d requests)", index, len(requests))}
	}
	if name != "" {
		needle := strings.ToLower(name)
		var matches []*Request
		for _, r := range requests {
			if strings.Contains(strings.ToLower(r.Name), needle) {
				matches = append(matches, r)
			}
		}
		if len(matches) == 0 {
			return nil, &UsageError{Msg: fmt.Sprintf("no request matching %q", name)}
		}
		return matches, nil
	}
	return requests, nil
}

// ExitCode computes the process exit code for a finished run: 0 only if
// every selected request executed without a transport error and every test
// in every handler passed.
func ExitCode(results []*RunResult) int {
	for _, r := range results {
		if !r.Succeeded() {
			return 1
		}
	}
	return 0
}
