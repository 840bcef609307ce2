package protocol

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/s00inx/webserv/server/buffer"
)

func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), mode); err != nil {
		t.Fatal(err)
	}
}

func srcRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "index.html", "HELLO", 0o644)
	writeFile(t, dir, "404.html", "NOT FOUND PAGE", 0o644)
	writeFile(t, dir, "403.html", "FORBIDDEN PAGE", 0o644)
	writeFile(t, dir, "style.css", "body{}", 0o644)
	writeFile(t, dir, "secret.html", "TOP", 0o600)
	writeFile(t, dir, "noext", "PLAIN", 0o644)
	return dir
}

func makeResp(t *testing.T, dir, path string, keepAlive bool, code int) (*Response, string) {
	t.Helper()
	r := NewResponse(quietLogger())
	r.Init(dir, path, keepAlive, code)
	b := buffer.New()
	r.MakeResponse(b)
	t.Cleanup(r.UnmapFile)
	return r, b.RetrieveAllToString()
}

func TestServeFile(t *testing.T) {
	dir := srcRoot(t)
	r, head := makeResp(t, dir, "/index.html", false, -1)

	if r.Code() != 200 {
		t.Fatalf("code = %d, want 200", r.Code())
	}
	if !strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("bad status line:\n%s", head)
	}
	if !strings.Contains(head, "Connection: close\r\n") {
		t.Error("missing Connection: close")
	}
	if !strings.Contains(head, "Content-type: text/html\r\n") {
		t.Error("missing content type")
	}
	if !strings.Contains(head, "Content-length: 5\r\n\r\n") {
		t.Error("missing content length")
	}
	if string(r.File()) != "HELLO" {
		t.Errorf("mapped body = %q, want HELLO", r.File())
	}
	if r.FileLen() != 5 {
		t.Errorf("FileLen = %d, want 5", r.FileLen())
	}
}

func TestKeepAliveHeader(t *testing.T) {
	dir := srcRoot(t)
	_, head := makeResp(t, dir, "/index.html", true, -1)

	if !strings.Contains(head, "Connection: keep-alive\r\n") ||
		!strings.Contains(head, "keep-alive: max=6, timeout=120\r\n") {
		t.Errorf("keep-alive headers missing:\n%s", head)
	}
}

func TestMissingFileServesErrorPage(t *testing.T) {
	dir := srcRoot(t)
	r, head := makeResp(t, dir, "/nope.html", false, -1)

	if r.Code() != 404 {
		t.Fatalf("code = %d, want 404", r.Code())
	}
	if !strings.HasPrefix(head, "HTTP/1.1 404 Not Found\r\n") {
		t.Errorf("bad status line:\n%s", head)
	}
	if string(r.File()) != "NOT FOUND PAGE" {
		t.Errorf("body = %q, want the 404 page", r.File())
	}
}

func TestDirectoryIs404(t *testing.T) {
	dir := srcRoot(t)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	r, _ := makeResp(t, dir, "/sub", false, -1)
	if r.Code() != 404 {
		t.Fatalf("code = %d, want 404 for a directory", r.Code())
	}
}

func TestUnreadableFileIs403(t *testing.T) {
	dir := srcRoot(t)
	r, _ := makeResp(t, dir, "/secret.html", false, -1)

	if r.Code() != 403 {
		t.Fatalf("code = %d, want 403", r.Code())
	}
	if string(r.File()) != "FORBIDDEN PAGE" {
		t.Errorf("body = %q, want the 403 page", r.File())
	}
}

func TestInlineErrorWhenErrorPageMissing(t *testing.T) {
	dir := t.TempDir() // no pages at all
	r, head := makeResp(t, dir, "/whatever", false, -1)

	if r.Code() != 404 {
		t.Fatalf("code = %d, want 404", r.Code())
	}
	if r.File() != nil {
		t.Error("no mapping expected for inline error body")
	}
	if !strings.Contains(head, "<html><title>Error</title>") ||
		!strings.Contains(head, "404 : Not Found") {
		t.Errorf("inline error body missing:\n%s", head)
	}
}

func TestUnknownCodeFallsBackTo400(t *testing.T) {
	dir := srcRoot(t)
	r, head := makeResp(t, dir, "/index.html", false, 999)

	if r.Code() != 400 {
		t.Fatalf("code = %d, want coerced 400", r.Code())
	}
	if !strings.HasPrefix(head, "HTTP/1.1 400 Bad Request\r\n") {
		t.Errorf("bad status line:\n%s", head)
	}
}

func TestFileTypes(t *testing.T) {
	dir := srcRoot(t)

	tests := []struct {
		path string
		want string
	}{
		{"/index.html", "Content-type: text/html\r\n"},
		{"/style.css", "Content-type: text/css \r\n"}, // trailing space preserved
		{"/noext", "Content-type: text/plain\r\n"},
	}
	for _, tt := range tests {
		_, head := makeResp(t, dir, tt.path, false, -1)
		if !strings.Contains(head, tt.want) {
			t.Errorf("%s: want %q in:\n%s", tt.path, tt.want, head)
		}
	}
}
