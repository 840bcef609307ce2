// thin wrapper over the epoll readiness facility,
// owned by the reactor goroutine
package engine

import (
	"golang.org/x/sys/unix"
)

const maxEvents = 1024

type Epoller struct {
	fd     int
	events []unix.EpollEvent
}

func NewEpoller() (*Epoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoller{
		fd:     fd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (e *Epoller) AddFd(fd int, events uint32) bool {
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
	return err == nil
}

func (e *Epoller) ModFd(fd int, events uint32) bool {
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
	return err == nil
}

func (e *Epoller) DelFd(fd int) bool {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil) == nil
}

// Wait blocks up to timeoutMS (-1 blocks indefinitely) and returns the
// number of ready events; interrupted waits are retried
func (e *Epoller) Wait(timeoutMS int) int {
	for {
		n, err := unix.EpollWait(e.fd, e.events, timeoutMS)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0
		}
		return n
	}
}

func (e *Epoller) EventFd(i int) int {
	return int(e.events[i].Fd)
}

func (e *Epoller) Events(i int) uint32 {
	return e.events[i].Events
}

func (e *Epoller) Close() {
	unix.Close(e.fd)
}
