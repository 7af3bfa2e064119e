package httprun

import (
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var placeholderRE = regexp.MustCompile(`\{\{\s*([^}\s][^}]*?)\s*\}\}`)

// maxExpandPasses bounds the number of left-to-right substitution passes run
// over a single piece of text, so a chain like {{a}} -> "{{b}}" -> "{{c}}"
// resolves without looping forever on a variable that references itself.
const maxExpandPasses = 8

// Resolver implements the variable substitution precedence: in-place table,
// then globals, then environment, then the closed set of dynamic variables.
// A Resolver is built fresh for each request, since its in-place table is
// scoped to that request's own `@name = value` bindings.
type Resolver struct {
	InPlace  map[string]string
	Globals  map[string]string
	Env      map[string]string
	Warnings []string

	warned map[string]bool
}

// NewResolver builds a Resolver for one request. bindings are resolved in
// file order so a later binding's value may reference an earlier one.
func NewResolver(bindings []VarBinding, globals, env map[string]string) *Resolver {
	r := &Resolver{
		InPlace: map[string]string{},
		Globals: globals,
		Env:     env,
		warned:  map[string]bool{},
	}
	for _, b := range bindings {
		r.InPlace[b.Name] = r.Expand(b.Value)
	}
	return r
}

// Expand substitutes every {{name}} placeholder in text, repeating up to
// maxExpandPasses times so a binding whose value itself contains a
// placeholder resolves fully. Tokens that never resolve are left verbatim
// and recorded in Warnings.
func (r *Resolver) Expand(text string) string {
	out := text
	for pass := 0; pass < maxExpandPasses; pass++ {
		next := r.substituteOnce(out)
		if next == out {
			return next
		}
		out = next
	}
	return out
}

func (r *Resolver) substituteOnce(text string) string {
	return placeholderRE.ReplaceAllStringFunc(text, func(token string) string {
		m := placeholderRE.FindStringSubmatch(token)
		name := strings.TrimSpace(m[1])
		if value, ok := r.resolve(name); ok {
			return value
		}
		msg := fmt.Sprintf("unresolved variable: %s", name)
		if !r.warned[msg] {
			r.warned[msg] = true
			r.Warnings = append(r.Warnings, msg)
		}
		slog.Warn("resolveVariablesInText: no value found for placeholder, leaving literal", "variable", name)
		return token
	})
}

func (r *Resolver) resolve(name string) (string, bool) {
	if v, ok := r.InPlace[name]; ok {
		slog.Debug("resolveVariablesInText: found in-place binding", "variable", name)
		return v, true
	}
	if v, ok := r.Globals[name]; ok {
		slog.Debug("resolveVariablesInText: found in globals", "variable", name)
		return v, true
	}
	if v, ok := r.Env[name]; ok {
		slog.Debug("resolveVariablesInText: found in environment", "variable", name)
		return v, true
	}
	if strings.HasPrefix(name, "$") {
		return resolveDynamic(name)
	}
	return "", false
}

// resolveDynamic implements the closed set of dynamic variables: $uuid,
// $timestamp, and $randomInt. This set is intentionally not extensible.
func resolveDynamic(name string) (string, bool) {
	switch name {
	case "$uuid":
		v := uuid.New().String()
		slog.Debug("resolveVariablesInText: generated dynamic variable", "variable", name, "value", v)
		return v, true
	case "$timestamp":
		v := strconv.FormatInt(time.Now().Unix(), 10)
		slog.Debug("resolveVariablesInText: generated dynamic variable", "variable", name, "value", v)
		return v, true
	case "$randomInt":
		v := strconv.Itoa(rand.Intn(1000))
		slog.Debug("resolveVariablesInText: generated dynamic variable", "variable", name, "value", v)
		return v, true
	default:
		slog.Warn("resolveVariablesInText: unrecognized dynamic variable", "variable", name)
		return "", false
	}
}

// ExpandRequest substitutes variables into a copy of req's URL, headers, and
// body. The original Request is left untouched so the same parsed request
// can be reused if a file is ever run more than once in a process.
func (r *Resolver) ExpandRequest(req *Request) *Request {
	out := *req
	out.RawURL = r.Expand(req.RawURL)
	if len(req.Headers) > 0 {
		out.Headers = make([]HeaderField, len(req.Headers))
		for i, h := range req.Headers {
			out.Headers[i] = HeaderField{Name: r.Expand(h.Name), Value: r.Expand(h.Value)}
		}
	}
	if req.HasBody {
		out.RawBody = r.Expand(req.RawBody)
	}
	return &out
}
