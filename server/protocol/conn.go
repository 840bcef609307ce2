// per-connection state: buffers, parser, builder and the two-slot
// vectored write descriptor
package protocol

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/s00inx/webserv/server/buffer"
)

// userCount tracks open connections process-wide; the accept path
// refuses clients beyond the fd budget based on it
var userCount atomic.Int64

func UserCount() int64 {
	return userCount.Load()
}

// once fewer than writeDrain bytes remain, a level-triggered writer may
// yield back to the reactor instead of looping
const writeDrain = 10240

type Conn struct {
	fd      int
	ip      string
	port    int
	isClose bool

	isET   bool
	srcDir string

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer
	request  *Request
	response *Response

	// iov[0] headers in writeBuf, iov[1] mapped file body
	iov    [2][]byte
	iovCnt int

	log *logrus.Logger
}

// NewConn builds an idle connection slot; Init opens it for an fd
func NewConn(users Verifier, srcDir string, isET bool, log *logrus.Logger) *Conn {
	return &Conn{
		fd:       -1,
		isClose:  true,
		isET:     isET,
		srcDir:   srcDir,
		readBuf:  buffer.New(),
		writeBuf: buffer.New(),
		request:  NewRequest(users, log),
		response: NewResponse(log),
		log:      log,
	}
}

func (c *Conn) Init(fd int, sa unix.Sockaddr) {
	userCount.Add(1)
	c.fd = fd
	c.ip, c.port = peerOf(sa)
	c.readBuf.RetrieveAll()
	c.writeBuf.RetrieveAll()
	c.isClose = false
	c.log.Infof("client[%d](%s:%d) in, userCount:%d", fd, c.ip, c.port, userCount.Load())
}

// Close is idempotent; it releases the mapping and the descriptor
func (c *Conn) Close() {
	c.response.UnmapFile()
	if c.isClose {
		return
	}
	c.isClose = true
	userCount.Add(-1)
	unix.Close(c.fd)
	c.log.Infof("client[%d](%s:%d) quit, userCount:%d", c.fd, c.ip, c.port, userCount.Load())
}

func (c *Conn) Fd() int      { return c.fd }
func (c *Conn) IP() string   { return c.ip }
func (c *Conn) Port() int    { return c.port }
func (c *Conn) Addr() string { return fmt.Sprintf("%s:%d", c.ip, c.port) }

func (c *Conn) IsKeepAlive() bool {
	return c.request.IsKeepAlive()
}

func (c *Conn) ToWriteBytes() int {
	return len(c.iov[0]) + len(c.iov[1])
}

// Read drains the socket into the read buffer; edge-triggered
// connections loop until the socket would block
func (c *Conn) Read() (int, error) {
	var (
		n   int
		err error
	)
	for {
		n, err = c.readBuf.ReadFd(c.fd)
		if n <= 0 {
			break
		}
		if !c.isET {
			break
		}
	}
	return n, err
}

// Write pushes both iov slots out with writev, consuming slot 0 first.
// Edge-triggered connections loop until blocked; level-triggered ones
// keep going while more than writeDrain bytes remain.
func (c *Conn) Write() (int, error) {
	var (
		n   int
		err error
	)
	for {
		n, err = unix.Writev(c.fd, c.iov[:c.iovCnt])
		if n <= 0 {
			break
		}

		if c.ToWriteBytes() == 0 {
			break
		} else if n > len(c.iov[0]) {
			c.iov[1] = c.iov[1][n-len(c.iov[0]):]
			if len(c.iov[0]) > 0 {
				c.writeBuf.RetrieveAll()
				c.iov[0] = nil
			}
		} else {
			c.iov[0] = c.iov[0][n:]
			c.writeBuf.Retrieve(n)
		}

		if !c.isET && c.ToWriteBytes() <= writeDrain {
			break
		}
	}
	return n, err
}

// Process parses whatever the read buffer holds and stages a response.
// Returns false when there is nothing to parse yet.
func (c *Conn) Process() bool {
	c.request.Init()
	if c.readBuf.ReadableBytes() <= 0 {
		return false
	}

	if c.request.Parse(c.readBuf) {
		c.log.Debugf("request path %s", c.request.Path())
		c.response.Init(c.srcDir, c.request.Path(), c.request.IsKeepAlive(), 200)
	} else {
		c.response.Init(c.srcDir, c.request.Path(), false, 400)
	}
	c.response.MakeResponse(c.writeBuf)

	c.iov[0] = c.writeBuf.Peek()
	c.iov[1] = nil
	c.iovCnt = 1
	if c.response.FileLen() > 0 && c.response.File() != nil {
		c.iov[1] = c.response.File()
		c.iovCnt = 2
	}
	c.log.Debugf("filesize:%d, %d to %d", c.response.FileLen(), c.iovCnt, c.ToWriteBytes())
	return true
}

func peerOf(sa unix.Sockaddr) (string, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), a.Port
	case *unix.SockaddrInet6:
		return fmt.Sprintf("%x", a.Addr), a.Port
	}
	return "", 0
}
