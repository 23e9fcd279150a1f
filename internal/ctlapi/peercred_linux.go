//go:build linux

package ctlapi

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// getPeerCredentials reads SO_PEERCRED from a Unix socket connection.
func getPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, errors.New("ctlapi: peer credentials: not a Unix socket connection")
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("ctlapi: peer credentials: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("ctlapi: peer credentials: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("ctlapi: peer credentials: getsockopt SO_PEERCRED: %w", credErr)
	}
	return &PeerCredentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}
