package httprun

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"encoding/json"
)

// Executor runs a substituted Request over HTTP. Its zero value is usable:
// while HTTPClient is nil, each Execute call uses a fresh default client.
type Executor struct {
	HTTPClient *http.Client
}

// NewExecutor returns an Executor with a client that follows redirects (the
// default, since no per-request directive to disable that exists in this
// format) and carries no cookie jar: state never survives past one request.
func NewExecutor() *Executor {
	return &Executor{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Execute sends req and builds a Response from the result. The request body
// is sent exactly as parsed and substituted, byte for byte; no Content-Type
// is injected if the request didn't declare one.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Response, error) {
	client := e.HTTPClient
	if client == nil {
		client = NewExecutor().HTTPClient
	}

	var bodyReader io.Reader
	if req.HasBody {
		bodyReader = strings.NewReader(req.RawBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.RawURL, bodyReader)
	if err != nil {
		slog.Error("Execute: failed to build request, malformed method or URL", "method", req.Method, "url", req.RawURL, "error", err)
		return nil, err
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}

	slog.Debug("Execute: sending request", "method", req.Method, "url", req.RawURL, "index", req.Index)
	start := time.Now()
	httpResp, err := client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		slog.Warn("Execute: transport error", "method", req.Method, "url", req.RawURL, "index", req.Index, "error", err)
		return nil, err
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		slog.Warn("Execute: failed to read response body", "url", req.RawURL, "error", err)
		return nil, err
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       bodyBytes,
		Text:       string(bodyBytes),
		Duration:   duration,
	}
	resp.ContentType = parseContentType(httpResp.Header.Get("Content-Type"))

	// Attempted JSON parse per the response data model: a body that parses
	// as JSON is tagged as such regardless of what Content-Type claims.
	var parsed any
	if err := json.Unmarshal(bodyBytes, &parsed); err == nil {
		resp.JSON = parsed
		resp.IsJSON = true
	}

	slog.Debug("Execute: received response", "url", req.RawURL, "status", resp.StatusCode, "duration", duration)
	return resp, nil
}

// DryRun builds the synthetic "not executed" Response used when --dry-run is
// set: no network call happens and the handler runtime must not run.
func DryRun(req *Request) *Response {
	return &Response{NotExecuted: true}
}

func parseContentType(header string) ContentType {
	if header == "" {
		return ContentType{}
	}
	mimeType, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ContentType{MimeType: strings.TrimSpace(header)}
	}
	return ContentType{MimeType: mimeType, Charset: params["charset"]}
}
