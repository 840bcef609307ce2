// reactor loop: accept, event dispatch, one-shot re-arm,
// timer advancement, task submission to the worker pool
package engine

import (
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/s00inx/webserv/server/pool"
	"github.com/s00inx/webserv/server/protocol"
	"github.com/s00inx/webserv/server/timer"
)

const (
	// maxFd caps concurrent connections
	maxFd   = 65536
	backlog = 6
)

type Config struct {
	Port      int
	TrigMode  int // 0 LT/LT, 1 conn ET, 2 listen ET, 3 ET/ET
	TimeoutMS int // idle reap budget, 0 disables reaping
	OptLinger bool
	SrcDir    string // static root, defaults to <cwd>/resources
	Workers   int
}

type WebServer struct {
	port      int
	timeoutMS int
	isClose   atomic.Bool

	listenFd    int
	listenEvent uint32
	connEvent   uint32
	srcDir      string

	// wakeup pipe so Stop can interrupt an unbounded wait
	wakeR, wakeW int

	epoller *Epoller
	heap    *timer.Heap
	workers *pool.Pool
	users   map[int]*protocol.Conn
	verify  protocol.Verifier

	log *logrus.Logger
}

func New(cfg Config, verify protocol.Verifier, log *logrus.Logger) (*WebServer, error) {
	srcDir := cfg.SrcDir
	if srcDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		srcDir = cwd + "/resources"
	}

	s := &WebServer{
		port:      cfg.Port,
		timeoutMS: cfg.TimeoutMS,
		listenFd:  -1,
		srcDir:    srcDir,
		heap:      timer.New(),
		users:     make(map[int]*protocol.Conn),
		verify:    verify,
		log:       log,
	}
	s.initEventMode(cfg.TrigMode)

	ep, err := NewEpoller()
	if err != nil {
		return nil, err
	}
	s.epoller = ep

	if err := s.initSocket(cfg.OptLinger); err != nil {
		ep.Close()
		return nil, err
	}
	if err := s.initWakePipe(); err != nil {
		unix.Close(s.listenFd)
		ep.Close()
		return nil, err
	}

	s.workers = pool.New(cfg.Workers, log)

	log.Info("========== server init ==========")
	log.Infof("port:%d, linger:%v", cfg.Port, cfg.OptLinger)
	log.Infof("listen mode:%s, conn mode:%s", modeName(s.listenEvent), modeName(s.connEvent))
	log.Infof("srcDir:%s", s.srcDir)
	log.Infof("worker num:%d", cfg.Workers)
	return s, nil
}

func modeName(events uint32) string {
	if events&unix.EPOLLET != 0 {
		return "ET"
	}
	return "LT"
}

// initEventMode picks edge/level triggering per side; edge-triggered
// connections always carry ONESHOT so only one worker owns an fd at a
// time
func (s *WebServer) initEventMode(trigMode int) {
	s.listenEvent = unix.EPOLLRDHUP
	s.connEvent = uint32(unix.EPOLLONESHOT) | unix.EPOLLRDHUP
	switch trigMode {
	case 0:
	case 1:
		s.connEvent |= unix.EPOLLET
	case 2:
		s.listenEvent |= unix.EPOLLET
	case 3:
		s.listenEvent |= unix.EPOLLET
		s.connEvent |= unix.EPOLLET
	default:
		s.listenEvent |= unix.EPOLLET
		s.connEvent |= unix.EPOLLET
	}
}

func (s *WebServer) connIsET() bool {
	return s.connEvent&unix.EPOLLET != 0
}

func (s *WebServer) initSocket(optLinger bool) error {
	if s.port > 65535 || s.port < 1024 {
		s.log.Errorf("port:%d out of range", s.port)
		return unix.EINVAL
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}

	if optLinger {
		// drain pending bytes for up to a second on close
		l := unix.Linger{Onoff: 1, Linger: 1}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l); err != nil {
			unix.Close(fd)
			return err
		}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return err
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: s.port}); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return err
	}
	if !s.epoller.AddFd(fd, s.listenEvent|unix.EPOLLIN) {
		unix.Close(fd)
		return unix.EINVAL
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return err
	}
	s.listenFd = fd
	s.log.Infof("server port:%d", s.port)
	return nil
}

func (s *WebServer) initWakePipe() error {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return err
	}
	unix.SetNonblock(p[0], true)
	unix.SetNonblock(p[1], true)
	if !s.epoller.AddFd(p[0], unix.EPOLLIN) {
		unix.Close(p[0])
		unix.Close(p[1])
		return unix.EINVAL
	}
	s.wakeR, s.wakeW = p[0], p[1]
	return nil
}

// Start runs the reactor until Stop; it owns the epoll set, the fd map
// and the timer heap
func (s *WebServer) Start() {
	timeMS := timer.NoTimeout
	s.log.Info("========== server start ==========")
	for !s.isClose.Load() {
		if s.timeoutMS > 0 {
			timeMS = s.heap.NextTick()
		}
		n := s.epoller.Wait(timeMS)
		for i := 0; i < n; i++ {
			fd := s.epoller.EventFd(i)
			events := s.epoller.Events(i)

			switch {
			case fd == s.listenFd:
				s.dealListen()
			case fd == s.wakeR:
				s.drainWake()
			case events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0:
				if c := s.users[fd]; c != nil {
					s.closeConn(c)
				}
			case events&unix.EPOLLIN != 0:
				if c := s.users[fd]; c != nil {
					s.dealRead(c)
				}
			case events&unix.EPOLLOUT != 0:
				if c := s.users[fd]; c != nil {
					s.dealWrite(c)
				}
			default:
				s.log.Error("unexpected event")
			}
		}
	}
	s.shutdown()
}

// Stop flips the closed flag and pokes the wake pipe so the reactor
// leaves its wait
func (s *WebServer) Stop() {
	if s.isClose.Swap(true) {
		return
	}
	unix.Write(s.wakeW, []byte{0})
}

func (s *WebServer) drainWake() {
	var buf [16]byte
	for {
		if n, err := unix.Read(s.wakeR, buf[:]); n <= 0 || err != nil {
			return
		}
	}
}

func (s *WebServer) shutdown() {
	for _, c := range s.users {
		if c.Fd() >= 0 {
			s.epoller.DelFd(c.Fd())
			c.Close()
		}
	}
	s.workers.Close()
	unix.Close(s.listenFd)
	unix.Close(s.wakeR)
	unix.Close(s.wakeW)
	s.epoller.Close()
	s.log.Info("========== server quit ==========")
}

func (s *WebServer) sendError(fd int, info string) {
	if _, err := unix.Write(fd, []byte(info)); err != nil {
		s.log.Warnf("send error to client[%d] failed", fd)
	}
	unix.Close(fd)
}

func (s *WebServer) closeConn(c *protocol.Conn) {
	s.log.Infof("client[%d] quit", c.Fd())
	s.epoller.DelFd(c.Fd())
	c.Close()
}

func (s *WebServer) addClient(fd int, sa unix.Sockaddr) {
	c := s.users[fd]
	if c == nil {
		c = protocol.NewConn(s.verify, s.srcDir, s.connIsET(), s.log)
		s.users[fd] = c
	}
	c.Init(fd, sa)
	if s.timeoutMS > 0 {
		s.heap.Add(fd, s.timeoutMS, func() { s.closeConn(c) })
	}
	s.epoller.AddFd(fd, unix.EPOLLIN|s.connEvent)
	unix.SetNonblock(fd, true)
}

func (s *WebServer) dealListen() {
	for {
		fd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			return
		}
		if protocol.UserCount() >= maxFd {
			s.sendError(fd, "Server busy!")
			s.log.Warn("clients are full")
			return
		}
		s.addClient(fd, sa)
		if s.listenEvent&unix.EPOLLET == 0 {
			return
		}
	}
}

func (s *WebServer) extendTime(c *protocol.Conn) {
	if s.timeoutMS > 0 {
		s.heap.Adjust(c.Fd(), s.timeoutMS)
	}
}

func (s *WebServer) dealRead(c *protocol.Conn) {
	s.extendTime(c)
	s.workers.Submit(func() { s.onRead(c) })
}

func (s *WebServer) dealWrite(c *protocol.Conn) {
	s.extendTime(c)
	s.workers.Submit(func() { s.onWrite(c) })
}

func (s *WebServer) onRead(c *protocol.Conn) {
	n, err := c.Read()
	if n <= 0 && err != unix.EAGAIN {
		s.closeConn(c)
		return
	}
	s.onProcess(c)
}

// onProcess advances the state machine and re-arms interest: writable
// when a response is staged, readable when more input is needed
func (s *WebServer) onProcess(c *protocol.Conn) {
	if c.Process() {
		s.epoller.ModFd(c.Fd(), s.connEvent|unix.EPOLLOUT)
	} else {
		s.epoller.ModFd(c.Fd(), s.connEvent|unix.EPOLLIN)
	}
}

func (s *WebServer) onWrite(c *protocol.Conn) {
	n, err := c.Write()
	if c.ToWriteBytes() == 0 {
		// transfer finished
		if c.IsKeepAlive() {
			s.onProcess(c)
			return
		}
	} else if n > 0 || (n < 0 && err == unix.EAGAIN) {
		// level-triggered yield or socket buffer full, wait for the next
		// writable event
		s.epoller.ModFd(c.Fd(), s.connEvent|unix.EPOLLOUT)
		return
	}
	s.closeConn(c)
}
