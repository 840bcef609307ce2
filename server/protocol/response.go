// HTTP/1.1 response builder, serves files through a private read-only
// memory mapping handed to the connection's vectored write
package protocol

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/s00inx/webserv/server/buffer"
)

// suffix -> MIME type; the trailing spaces on .css/.js are kept for
// bit-compatibility with the served legacy pages
var suffixType = map[string]string{
	".html": "text/html", ".xml": "text/xml", ".xhtml": "application/xhtml+xml",
	".txt": "text/plain", ".rtf": "application/rtf", ".pdf": "application/pdf",
	".word": "application/nsword", ".png": "image/png", ".gif": "image/gif",
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".au": "audio/basic",
	".mpeg": "video/mpeg", ".mpg": "video/mpeg", ".avi": "video/x-msvideo",
	".gz": "application/x-gzip", ".tar": "application/x-tar",
	".css": "text/css ", ".js": "text/javascript ",
}

var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

type Response struct {
	code        int
	isKeepAlive bool
	path        string
	srcDir      string

	mmFile []byte
	mmStat unix.Stat_t

	log *logrus.Logger
}

func NewResponse(log *logrus.Logger) *Response {
	return &Response{code: -1, log: log}
}

// Init prepares the builder for one response; a mapping left over from
// the previous response is released first
func (r *Response) Init(srcDir, path string, isKeepAlive bool, code int) {
	r.UnmapFile()
	r.code = code
	r.isKeepAlive = isKeepAlive
	r.path = path
	r.srcDir = srcDir
	r.mmStat = unix.Stat_t{}
}

func (r *Response) Code() int { return r.code }

// File returns the mapped body, nil when the response has none
func (r *Response) File() []byte { return r.mmFile }

func (r *Response) FileLen() int64 { return r.mmStat.Size }

func (r *Response) UnmapFile() {
	if r.mmFile != nil {
		unix.Munmap(r.mmFile)
		r.mmFile = nil
	}
}

// MakeResponse stats the target, settles the status code and emits the
// full header block (and error body, if any) into b
func (r *Response) MakeResponse(b *buffer.Buffer) {
	switch {
	case r.code == 400:
		// a rejected request keeps its 400; the error page replaces the target
	case unix.Stat(r.srcDir+r.path, &r.mmStat) != nil || r.mmStat.Mode&unix.S_IFMT == unix.S_IFDIR:
		r.code = 404
	case r.mmStat.Mode&unix.S_IROTH == 0:
		r.code = 403
	case r.code == -1:
		r.code = 200
	}
	r.errorHTML()
	r.addStateLine(b)
	r.addHeader(b)
	r.addContent(b)
}

// errorHTML swaps the target for the static error page of the code
func (r *Response) errorHTML() {
	p, ok := codePath[r.code]
	if !ok {
		return
	}
	r.path = p
	unix.Stat(r.srcDir+r.path, &r.mmStat)
}

func (r *Response) addStateLine(b *buffer.Buffer) {
	status, ok := codeStatus[r.code]
	if !ok {
		r.code = 400
		status = codeStatus[400]
	}
	b.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.code, status))
}

func (r *Response) addHeader(b *buffer.Buffer) {
	b.AppendString("Connection: ")
	if r.isKeepAlive {
		b.AppendString("keep-alive\r\n")
		b.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		b.AppendString("close\r\n")
	}
	b.AppendString("Content-type: " + r.fileType() + "\r\n")
}

func (r *Response) addContent(b *buffer.Buffer) {
	fd, err := unix.Open(r.srcDir+r.path, unix.O_RDONLY, 0)
	if err != nil {
		r.ErrorContent(b, "File NotFound!")
		return
	}

	data, err := unix.Mmap(fd, 0, int(r.mmStat.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		unix.Close(fd)
		r.ErrorContent(b, "File NotFound!")
		return
	}
	r.mmFile = data
	unix.Close(fd)

	r.log.Debugf("file path %s%s", r.srcDir, r.path)
	b.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", r.mmStat.Size))
}

// ErrorContent emits an inline HTML error page when no file body can
// be served
func (r *Response) ErrorContent(b *buffer.Buffer, message string) {
	status, ok := codeStatus[r.code]
	if !ok {
		status = "Bad Request"
	}
	var body strings.Builder
	body.WriteString("<html><title>Error</title>")
	body.WriteString("<body bgcolor=\"ffffff\">")
	fmt.Fprintf(&body, "%d : %s\n", r.code, status)
	fmt.Fprintf(&body, "<p>%s</p>", message)
	body.WriteString("<hr><em>webserv</em></body></html>")

	b.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", body.Len()))
	b.AppendString(body.String())
}

func (r *Response) fileType() string {
	idx := strings.LastIndexByte(r.path, '.')
	if idx == -1 {
		return "text/plain"
	}
	if t, ok := suffixType[r.path[idx:]]; ok {
		return t
	}
	return "text/plain"
}
