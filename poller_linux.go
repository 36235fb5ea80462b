//go:build linux

package corert

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller implements [Poller] on Linux using epoll, grounded directly
// on the teacher's poller_linux.go: an epoll instance, a small registration
// table mapping fd to its current tag/mask, and an inline event buffer
// reused across Wait calls.
type epollPoller struct {
	epfd   int
	wakeFd int // eventfd, registered internally under fd-space tag 0

	mu     sync.RWMutex
	tags   map[int]uint64
	closed bool

	eventBuf [256]unix.EpollEvent
}

// newPoller constructs the platform-default [Poller] backend. It creates
// and self-registers an eventfd for [Poller.Wake], mirroring the teacher's
// createWakeFd/drainWakeUpPipe split (wakeup_linux.go) but folded into the
// poller so Loop never has to manage raw wake-fd plumbing itself.
func newPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	p := &epollPoller{
		epfd:   epfd,
		wakeFd: wakeFd,
		tags:   make(map[int]uint64),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func maskToEpoll(mask IOMask) uint32 {
	var e uint32
	if mask&In != 0 {
		e |= unix.EPOLLIN
	}
	if mask&Out != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToMask(e uint32) IOMask {
	var mask IOMask
	if e&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		mask |= In
	}
	if e&unix.EPOLLOUT != 0 {
		mask |= Out
	}
	return mask
}

func (p *epollPoller) Add(fd int, mask IOMask, tag uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: maskToEpoll(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.tags[fd] = tag
	return nil
}

func (p *epollPoller) Mod(fd int, mask IOMask, tag uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: maskToEpoll(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return err
	}
	p.tags[fd] = tag
	return nil
}

func (p *epollPoller) Del(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	delete(p.tags, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(deadline Deadline, events []PollEvent) (int, error) {
	timeoutMs := -1
	if !deadline.IsInfinite() {
		remaining := deadline.Remaining()
		timeoutMs = int(remaining.Milliseconds())
		if timeoutMs < 0 {
			timeoutMs = 0
		}
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	count := 0
	for i := 0; i < n && count < len(events); i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd == p.wakeFd {
			drainEventfd(fd)
			events[count] = PollEvent{Tag: 0, Mask: In}
			count++
			continue
		}
		tag, ok := p.tags[fd]
		if !ok {
			continue
		}
		events[count] = PollEvent{Tag: tag, Mask: epollToMask(p.eventBuf[i].Events)}
		count++
	}
	return count, nil
}

// Wake writes to the internal eventfd, causing a blocked or future Wait
// call to return a Tag-0 event promptly. Safe to call concurrently with
// Wait and from any goroutine.
func (p *epollPoller) Wake() error {
	p.mu.RLock()
	closed := p.closed
	wakeFd := p.wakeFd
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(wakeFd, buf[:])
	return err
}

func drainEventfd(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	_ = unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
