package httprun

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/hashicorp/go-multierror"
)

// Renderer writes human-readable run output. It honors NO_COLOR the way
// lipgloss's default renderer already does, so construction needs no extra
// plumbing for that.
type Renderer struct {
	Out     io.Writer
	Verbose bool

	method  lipgloss.Style
	url     lipgloss.Style
	ok      lipgloss.Style
	fail    lipgloss.Style
	dim     lipgloss.Style
	errText lipgloss.Style
}

// NewRenderer returns a Renderer writing to out.
func NewRenderer(out io.Writer, verbose bool) *Renderer {
	return &Renderer{
		Out:     out,
		Verbose: verbose,
		method:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		url:     lipgloss.NewStyle().Foreground(lipgloss.Color("15")),
		ok:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		fail:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		errText: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// Render writes one RunResult's outcome: the request line, its status or
// transport error, and any test outcomes and logs.
func (r *Renderer) Render(res *RunResult) {
	req := res.Request
	label := fmt.Sprintf("#%d", req.Index)
	if req.Name != "" {
		label = fmt.Sprintf("#%d %s", req.Index, req.Name)
	}

	fmt.Fprintf(r.Out, "%s %s %s\n", r.method.Render(req.Method), r.url.Render(req.RawURL), r.dim.Render(label))

	if r.Verbose {
		r.renderHeaders(req.Headers)
		if req.HasBody {
			fmt.Fprintf(r.Out, "\n%s\n", req.RawBody)
		}
	}

	switch {
	case res.TransportErr != nil:
		fmt.Fprintf(r.Out, "  %s\n", r.errText.Render("ERROR: "+res.TransportErr.Error()))
	case res.Response != nil && res.Response.NotExecuted:
		fmt.Fprintf(r.Out, "  %s\n", r.dim.Render("not executed (dry run)"))
	case res.Response != nil:
		fmt.Fprintf(r.Out, "  %s\n", r.statusLine(res.Response))
		if r.Verbose {
			r.renderHeaders(headerFields(res.Response.Headers))
			if len(res.Response.Body) > 0 {
				fmt.Fprintf(r.Out, "\n%s\n", res.Response.Text)
			}
		}
	}

	for _, t := range res.Tests {
		r.renderTest(t)
	}

	if r.Verbose {
		for _, line := range res.Logs {
			fmt.Fprintf(r.Out, "  %s\n", r.dim.Render("log: "+line))
		}
	}
}

func (r *Renderer) renderHeaders(headers []HeaderField) {
	for _, h := range headers {
		fmt.Fprintf(r.Out, "  %s\n", r.dim.Render(h.Name+": "+h.Value))
	}
}

// headerFields flattens an http.Header into the duplicate-preserving shape
// request headers use, for verbose response rendering. Values of one name
// keep their order; the order of the names follows map iteration and is not
// defined.
func headerFields(h map[string][]string) []HeaderField {
	var out []HeaderField
	for name, values := range h {
		for _, v := range values {
			out = append(out, HeaderField{Name: name, Value: v})
		}
	}
	return out
}

func (r *Renderer) statusLine(resp *Response) string {
	statusStyle := r.ok
	if resp.StatusCode >= 400 {
		statusStyle = r.fail
	}
	return fmt.Sprintf("%s (%s)", statusStyle.Render(fmt.Sprintf("%d", resp.StatusCode)), resp.Duration.Round(1e6))
}

func (r *Renderer) renderTest(t TestOutcome) {
	if t.Passed {
		fmt.Fprintf(r.Out, "  %s %s\n", r.ok.Render("✓"), t.Name)
		return
	}
	fmt.Fprintf(r.Out, "  %s %s — %s\n", r.fail.Render("✗"), t.Name, t.Message)
}

// Summary writes the closing line across all results: the number of
// requests and how many of them passed or failed (per RunResult.Succeeded),
// then any unresolved-variable warnings and the collected transport and
// handler errors.
func (r *Renderer) Summary(results []*RunResult, warnings []string) {
	passed, failed := 0, 0
	for _, res := range results {
		if res.Succeeded() {
			passed++
		} else {
			failed++
		}
	}
	fmt.Fprintf(r.Out, "\n%d request(s), %s, %s\n",
		len(results),
		r.ok.Render(fmt.Sprintf("%d passed", passed)),
		r.fail.Render(fmt.Sprintf("%d failed", failed)),
	)
	if len(warnings) > 0 {
		fmt.Fprintln(r.Out, r.dim.Render(strings.Join(dedupe(warnings), "\n")))
	}
	if err := collectedErrors(results); err != nil {
		fmt.Fprintln(r.Out, r.errText.Render(err.Error()))
	}
}

// collectedErrors gathers every request's transport and handler error into
// one multierror.Error, the same accumulation pattern the teacher's
// ExecuteFile uses to report a whole run's failures at once instead of
// stopping at the first one.
func collectedErrors(results []*RunResult) error {
	var merr *multierror.Error
	for _, res := range results {
		if res.TransportErr != nil {
			merr = multierror.Append(merr, res.TransportErr)
		}
		if res.HandlerErr != nil {
			merr = multierror.Append(merr, res.HandlerErr)
		}
	}
	return merr.ErrorOrNil()
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// defaultRenderer returns a Renderer writing to stdout. Nothing in this
// module calls it; cmd/httprun builds its Renderer with NewRenderer.
func defaultRenderer(verbose bool) *Renderer {
	return NewRenderer(os.Stdout, verbose)
}
