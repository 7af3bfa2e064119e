package httprun

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
)

// parserState names the four states of the line-oriented request scanner.
type parserState int

const (
	stateAwaitingRequest parserState = iota
	stateReadingHeaders
	stateReadingBody
	stateReadingHandler
)

var (
	bindingLineRE    = regexp.MustCompile(`^@([A-Za-z_][A-Za-z0-9_.]*)\s*=\s*(.*)$`)
	requestLineRE    = regexp.MustCompile(`^(GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)\s+(\S.*)$`)
	headerLineRE     = regexp.MustCompile(`^([^:\s][^:]*):\s?(.*)$`)
	httpVersionTrail = regexp.MustCompile(`(?i)\s+HTTP/\d\.\d\s*$`)
)

// ParseFile reads path and parses it as a request file.
func ParseFile(path string) ([]*Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &UsageError{Msg: "cannot open " + path + ": " + err.Error()}
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse scans r line by line through the AwaitingRequest → ReadingHeaders →
// ReadingBody → ReadingHandler state machine and returns the requests found,
// in file order, with stable 1-based Index values.
func Parse(r io.Reader, filePath string) ([]*Request, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	p := &requestParser{filePath: filePath}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := p.consume(lineNo, scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{FilePath: filePath, Line: lineNo, Msg: err.Error()}
	}
	if err := p.finishAtEOF(lineNo); err != nil {
		return nil, err
	}
	return p.requests, nil
}

// requestParser carries the scanner's mutable state across consume calls.
type requestParser struct {
	filePath string
	state    parserState
	requests []*Request

	pendingBindings []VarBinding

	cur       *Request
	bodyLines []string

	handlerBuf strings.Builder
}

func (p *requestParser) consume(lineNo int, line string) error {
	switch p.state {
	case stateAwaitingRequest:
		return p.consumeAwaitingRequest(lineNo, line)
	case stateReadingHeaders:
		return p.consumeHeaders(lineNo, line)
	case stateReadingBody:
		return p.consumeBody(lineNo, line)
	case stateReadingHandler:
		return p.consumeHandler(lineNo, line)
	}
	return nil
}

func (p *requestParser) consumeAwaitingRequest(lineNo int, line string) error {
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == "":
		return nil
	case isSeparatorLine(trimmed):
		p.startRequest(lineNo, separatorName(trimmed))
		return nil
	case isCommentLine(trimmed):
		return nil
	case bindingLineRE.MatchString(trimmed):
		m := bindingLineRE.FindStringSubmatch(trimmed)
		p.pendingBindings = append(p.pendingBindings, VarBinding{Name: m[1], Value: m[2]})
		return nil
	case requestLineRE.MatchString(trimmed):
		if p.cur == nil {
			p.startRequest(lineNo, "")
		}
		return p.setRequestLine(lineNo, trimmed)
	default:
		return &ParseError{FilePath: p.filePath, Line: lineNo, Msg: "expected a request separator, variable binding, or method line, got: " + line}
	}
}

func (p *requestParser) startRequest(lineNo int, name string) {
	if p.cur != nil {
		p.finalizeCurrent()
	}
	p.cur = &Request{
		Name:       name,
		Index:      len(p.requests) + 1,
		FilePath:   p.filePath,
		LineNumber: lineNo,
		InPlace:    p.pendingBindings,
	}
	p.pendingBindings = nil
}

func (p *requestParser) setRequestLine(lineNo int, trimmed string) error {
	m := requestLineRE.FindStringSubmatch(trimmed)
	if m == nil {
		return &ParseError{FilePath: p.filePath, Line: lineNo, Msg: "malformed request line: " + trimmed}
	}
	if p.cur.LineNumber == 0 {
		p.cur.LineNumber = lineNo
	}
	p.cur.Method = m[1]
	url := httpVersionTrail.ReplaceAllString(m[2], "")
	p.cur.RawURL = strings.TrimSpace(url)
	p.state = stateReadingHeaders
	return nil
}

func (p *requestParser) consumeHeaders(lineNo int, line string) error {
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == "":
		p.state = stateReadingBody
		return nil
	case isSeparatorLine(trimmed):
		p.state = stateAwaitingRequest
		p.startRequest(lineNo, separatorName(trimmed))
		return nil
	case isHandlerStart(trimmed):
		return p.beginHandler(lineNo, trimmed)
	default:
		m := headerLineRE.FindStringSubmatch(line)
		if m == nil {
			return &ParseError{FilePath: p.filePath, Line: lineNo, Msg: "malformed header line: " + line}
		}
		p.cur.Headers = append(p.cur.Headers, HeaderField{Name: strings.TrimSpace(m[1]), Value: strings.TrimSpace(m[2])})
		return nil
	}
}

func (p *requestParser) consumeBody(lineNo int, line string) error {
	trimmed := strings.TrimSpace(line)

	switch {
	case isSeparatorLine(trimmed):
		p.finishBody()
		p.state = stateAwaitingRequest
		p.startRequest(lineNo, separatorName(trimmed))
		return nil
	case isHandlerStart(trimmed):
		p.finishBody()
		return p.beginHandler(lineNo, trimmed)
	default:
		p.bodyLines = append(p.bodyLines, line)
		return nil
	}
}

func (p *requestParser) consumeHandler(lineNo int, line string) error {
	if idx := strings.Index(line, "%}"); idx >= 0 {
		p.handlerBuf.WriteString(line[:idx])
		p.finishHandler()
		p.state = stateAwaitingRequest
		return nil
	}
	if isSeparatorLine(strings.TrimSpace(line)) {
		return &ParseError{FilePath: p.filePath, Line: lineNo, Msg: "unterminated handler block: hit a new request before a closing %}"}
	}
	p.handlerBuf.WriteString(line)
	p.handlerBuf.WriteString("\n")
	return nil
}

func (p *requestParser) beginHandler(lineNo int, trimmed string) error {
	rest := trimmed[strings.Index(trimmed, "{%")+2:]
	p.state = stateReadingHandler
	if idx := strings.Index(rest, "%}"); idx >= 0 {
		p.handlerBuf.WriteString(rest[:idx])
		p.finishHandler()
		p.state = stateAwaitingRequest
		return nil
	}
	p.handlerBuf.WriteString(rest)
	p.handlerBuf.WriteString("\n")
	return nil
}

func (p *requestParser) finishBody() {
	if len(p.bodyLines) > 0 && strings.TrimSpace(p.bodyLines[len(p.bodyLines)-1]) == "" {
		p.bodyLines = p.bodyLines[:len(p.bodyLines)-1]
	}
	if len(p.bodyLines) > 0 {
		p.cur.RawBody = strings.Join(p.bodyLines, "\n")
		p.cur.HasBody = true
	}
	p.bodyLines = nil
}

func (p *requestParser) finishHandler() {
	p.cur.Handler = strings.TrimSpace(p.handlerBuf.String())
	p.cur.HasHandler = true
	p.handlerBuf.Reset()
}

func (p *requestParser) finalizeCurrent() {
	if p.state == stateReadingBody {
		p.finishBody()
	}
	if p.cur.Method == "" {
		// A separator with no request line under it (e.g. a trailing ###) is
		// not a request; its bindings carry over to the next one.
		p.pendingBindings = append(p.cur.InPlace, p.pendingBindings...)
		p.cur = nil
		p.state = stateAwaitingRequest
		return
	}
	p.requests = append(p.requests, p.cur)
	p.cur = nil
	p.state = stateAwaitingRequest
}

func (p *requestParser) finishAtEOF(lastLine int) error {
	if p.state == stateReadingHandler {
		return &ParseError{FilePath: p.filePath, Line: lastLine, Msg: "unterminated handler block: reached end of file before a closing %}"}
	}
	if p.cur != nil {
		p.finalizeCurrent()
	}
	return nil
}

func isSeparatorLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "###")
}

func separatorName(trimmed string) string {
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "###"))
}

func isCommentLine(trimmed string) bool {
	if strings.HasPrefix(trimmed, "###") {
		return false
	}
	return strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//")
}

func isHandlerStart(trimmed string) bool {
	if !strings.HasPrefix(trimmed, ">") {
		return false
	}
	return strings.Contains(trimmed, "{%")
}
