// line-oriented HTTP/1.1 request state machine over a byte buffer
package protocol

import (
	"bytes"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/s00inx/webserv/server/buffer"
)

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateFinish
)

// Verifier answers login and registration checks against the user store
type Verifier interface {
	Verify(name, pwd string, isLogin bool) bool
}

var (
	crlf = []byte("\r\n")

	requestLineRe = regexp.MustCompile(`^([^ ]*) ([^ ]*) HTTP/([^ ]*)$`)
	headerRe      = regexp.MustCompile(`^([^:]*): ?(.*)$`)

	// paths served without an explicit .html suffix
	defaultHTML = map[string]struct{}{
		"/index": {}, "/register": {}, "/login": {},
		"/welcome": {}, "/video": {}, "/picture": {},
	}

	// pages whose POST goes through credential verification
	defaultHTMLTag = map[string]int{
		"/register.html": 0,
		"/login.html":    1,
	}
)

type Request struct {
	state   parseState
	method  string
	path    string
	version string
	body    string
	header  map[string]string
	post    map[string]string

	users Verifier
	log   *logrus.Logger
}

func NewRequest(users Verifier, log *logrus.Logger) *Request {
	r := &Request{users: users, log: log}
	r.Init()
	return r
}

// Init resets the machine so the object can parse the next request
func (r *Request) Init() {
	r.state = stateRequestLine
	r.method, r.path, r.version, r.body = "", "", "", ""
	r.header = make(map[string]string)
	r.post = make(map[string]string)
}

func (r *Request) Method() string  { return r.method }
func (r *Request) Path() string    { return r.path }
func (r *Request) Version() string { return r.version }

// GetPost returns the decoded form value for key, or ""
func (r *Request) GetPost(key string) string {
	return r.post[key]
}

func (r *Request) IsKeepAlive() bool {
	return r.header["Connection"] == "keep-alive" && r.version == "1.1"
}

// Parse consumes lines from b until the request is finished or the data
// runs out. Returns false only for a malformed request line.
func (r *Request) Parse(b *buffer.Buffer) bool {
	if b.ReadableBytes() <= 0 {
		return false
	}
	for b.ReadableBytes() > 0 && r.state != stateFinish {
		if r.state == stateBody {
			// everything left is the body, no terminator needed
			r.parseBody(b.RetrieveAllToString())
			break
		}

		readable := b.Peek()
		end := bytes.Index(readable, crlf)
		if end == -1 {
			// partial line, wait for the next read
			break
		}
		line := string(readable[:end])

		switch r.state {
		case stateRequestLine:
			if !r.parseRequestLine(line) {
				return false
			}
			r.parsePath()
		case stateHeaders:
			r.parseHeader(line)
			// only the closing CRLF of the blank line remains
			if b.ReadableBytes() <= 2 {
				r.state = stateFinish
			}
		}
		b.Retrieve(end + 2)
	}
	r.log.Debugf("[%s] [%s] [%s]", r.method, r.path, r.version)
	return true
}

func (r *Request) parseRequestLine(line string) bool {
	m := requestLineRe.FindStringSubmatch(line)
	if m == nil {
		r.log.Error("request line error")
		return false
	}
	r.method, r.path, r.version = m[1], m[2], m[3]
	r.state = stateHeaders
	return true
}

func (r *Request) parsePath() {
	if r.path == "/" {
		r.path = "/index.html"
		return
	}
	if _, ok := defaultHTML[r.path]; ok {
		r.path += ".html"
	}
}

func (r *Request) parseHeader(line string) {
	m := headerRe.FindStringSubmatch(line)
	if m == nil {
		// the blank line (or anything unheaderlike) ends the header block
		r.state = stateBody
		return
	}
	r.header[m[1]] = m[2]
}

func (r *Request) parseBody(body string) {
	r.body = body
	r.parsePost()
	r.state = stateFinish
	r.log.Debugf("body len:%d", len(body))
}

func (r *Request) parsePost() {
	if r.method != "POST" || r.header["Content-Type"] != "application/x-www-form-urlencoded" {
		return
	}
	r.parseFromURLEncoded()

	tag, ok := defaultHTMLTag[r.path]
	if !ok || r.users == nil {
		return
	}
	if r.users.Verify(r.post["username"], r.post["password"], tag == 1) {
		r.path = "/welcome.html"
	} else {
		r.path = "/error.html"
	}
}

func hexVal(c byte) int {
	switch {
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= '0' && c <= '9':
		return int(c - '0')
	}
	return int(c)
}

// parseFromURLEncoded decodes key=value&... in place over the body
// bytes; + becomes space, %HH becomes the byte HH, duplicate keys keep
// the first value
func (r *Request) parseFromURLEncoded() {
	if len(r.body) == 0 {
		return
	}

	b := []byte(r.body)
	var key string
	w, j := 0, 0 // write cursor and token start in decoded space
	for i := 0; i < len(b); i++ {
		switch c := b[i]; c {
		case '=':
			key = string(b[j:w])
			j = w
		case '+':
			b[w] = ' '
			w++
		case '%':
			if i+2 < len(b) {
				b[w] = byte(hexVal(b[i+1])*16 + hexVal(b[i+2]))
				w++
				i += 2
			}
		case '&':
			val := string(b[j:w])
			j = w
			if _, seen := r.post[key]; !seen {
				r.post[key] = val
				r.log.Debugf("%s = %s", key, val)
			}
		default:
			b[w] = c
			w++
		}
	}
	if _, seen := r.post[key]; !seen && j < w {
		r.post[key] = string(b[j:w])
	}
	r.body = string(b[:w])
}
