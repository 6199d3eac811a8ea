package ring

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Attach handshake over the switch control socket: the client sends the
// switch name, uplink spec and desired arena capacities; the switch replies
// with a status byte and passes the shared region fd plus two eventfds
// (receive doorbell, send doorbell) via SCM_RIGHTS.
const (
	attachMagic   = 0x564e4554 // "VNET"
	attachVersion = 1

	statusOK = 'O'
)

func attachRequest(switchName, uplink string, opts Options) ([]byte, error) {
	if len(switchName) == 0 || len(switchName) > 255 || len(uplink) > 255 {
		return nil, fmt.Errorf("%w: bad switch or uplink name", ErrConnect)
	}
	req := make([]byte, 0, 16+2+len(switchName)+len(uplink))
	req = binary.BigEndian.AppendUint32(req, attachMagic)
	req = binary.BigEndian.AppendUint16(req, attachVersion)
	req = binary.BigEndian.AppendUint16(req, 0)
	req = binary.BigEndian.AppendUint32(req, opts.SendCapacity)
	req = binary.BigEndian.AppendUint32(req, opts.RecvCapacity)
	req = append(req, byte(len(switchName)))
	req = append(req, switchName...)
	req = append(req, byte(len(uplink)))
	req = append(req, uplink...)
	return req, nil
}

type shmTransport struct {
	shmFd       int
	recvEventfd int
	sendEventfd int
	mapped      []byte
}

func attachShm(switchName, uplink string, opts Options) (*shmTransport, error) {
	req, err := attachRequest(switchName, uplink, opts)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", ErrConnect, err)
	}
	defer unix.Close(fd)

	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: opts.ControlSocket}); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrConnect, opts.ControlSocket, err)
	}

	if err := writeFull(fd, req); err != nil {
		return nil, fmt.Errorf("%w: send attach request: %v", ErrConnect, err)
	}

	buf := make([]byte, 256)
	oob := make([]byte, unix.CmsgSpace(3*4))
	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: recvmsg: %v", ErrConnect, err)
	}
	if n < 1 || buf[0] != statusOK {
		return nil, fmt.Errorf("%w: switch refused attach: %q", ErrConnect, string(buf[:n]))
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("%w: parse control message: %v", ErrConnect, err)
	}
	if len(msgs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 control message, got %d", ErrConnect, len(msgs))
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return nil, fmt.Errorf("%w: parse unix rights: %v", ErrConnect, err)
	}
	if len(fds) != 3 {
		closeAll(fds)
		return nil, fmt.Errorf("%w: expected 3 fds, got %d", ErrConnect, len(fds))
	}

	return &shmTransport{
		shmFd:       fds[0],
		recvEventfd: fds[1],
		sendEventfd: fds[2],
	}, nil
}

func (t *shmTransport) mapRegion() ([]byte, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(t.shmFd, &stat); err != nil {
		return nil, fmt.Errorf("%w: fstat region: %v", ErrConnect, err)
	}
	data, err := unix.Mmap(t.shmFd, 0, int(stat.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap region: %v", ErrConnect, err)
	}
	t.mapped = data
	return data, nil
}

func (t *shmTransport) wait(timeout time.Duration) (Activity, error) {
	fds := []unix.PollFd{{Fd: int32(t.recvEventfd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, pollMillis(timeout))
	act, err := pollActivity(n, fds[0].Revents, err)
	if err != nil || act != Signalled {
		return act, err
	}

	// Drain the eventfd counter, but only when it is actually readable: an
	// interrupted poll reports Signalled without one, and the caller's
	// queue check decides whether anything is there.
	if fds[0].Revents&unix.POLLIN != 0 {
		var buf [8]byte
		if _, err := unix.Read(t.recvEventfd, buf[:]); err != nil && err != unix.EINTR && err != unix.EAGAIN {
			return 0, fmt.Errorf("read doorbell: %w", err)
		}
	}
	return Signalled, nil
}

func (t *shmTransport) signal() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(t.sendEventfd, buf[:]); err != nil {
		return fmt.Errorf("ring doorbell: %w", err)
	}
	return nil
}

func (t *shmTransport) close() error {
	var firstErr error
	if t.mapped != nil {
		if err := unix.Munmap(t.mapped); err != nil {
			firstErr = err
		}
		t.mapped = nil
	}
	for _, fd := range []*int{&t.shmFd, &t.recvEventfd, &t.sendEventfd} {
		if *fd >= 0 {
			unix.Close(*fd)
			*fd = -1
		}
	}
	return firstErr
}

// pollActivity maps a poll result onto the wait contract: EINTR is a
// spurious wake, not an error.
func pollActivity(n int, revents int16, err error) (Activity, error) {
	switch {
	case err == unix.EINTR:
		return Signalled, nil
	case err != nil:
		return 0, fmt.Errorf("poll doorbell: %w", err)
	case n == 0:
		return TimedOut, nil
	case revents&(unix.POLLERR|unix.POLLNVAL|unix.POLLHUP) != 0:
		return 0, ErrClosed
	default:
		return Signalled, nil
	}
}

func pollMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int(timeout.Milliseconds())
}

func writeFull(fd int, p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		p = p[n:]
	}
	return nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
