package wire

import "errors"

var (
	errShortSetupPacket = errors.New("wire: setup packet short")
	errShortHeader      = errors.New("wire: datagram header short")
	errShortEndpoint    = errors.New("wire: endpoint header short")
	errShortACK         = errors.New("wire: ACK payload short")
	errShortManagement  = errors.New("wire: management payload short")
)
