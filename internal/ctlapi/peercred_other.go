//go:build !linux

package ctlapi

import (
	"errors"
	"net"
)

func getPeerCredentials(net.Conn) (*PeerCredentials, error) {
	return nil, errors.New("ctlapi: peer credentials: unsupported platform")
}
