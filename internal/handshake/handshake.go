// Package handshake drives the two-round exchange that authenticates a
// fresh connection: parse the server greeting, pick an authentication
// plugin, write the client response, and read the server's ack.
package handshake

import (
	"io"

	"github.com/mysqlwire/client/internal/authplugin"
	"github.com/mysqlwire/client/internal/mysqlerr"
	"github.com/mysqlwire/client/internal/wire"
)

// ConnectionInfo is everything the handshake learns about the server and
// the session it negotiated, immutable once returned.
type ConnectionInfo struct {
	ConnectionID      uint32
	ServerVersion     string
	ServerVersionMajor int
	ServerVersionMinor int
	ServerVersionPatch int
	ServerCharacterSet uint8
	Capabilities      uint32
	CharacterSet      uint8
	Database          string
}

// greeting is the server's initial handshake-v10 packet, fully parsed.
type greeting struct {
	connectionID  uint32
	serverVersion string
	challenge     []byte
	capabilities  uint32
	characterSet  uint8
	statusFlags   uint16
	authPluginName string
}

// Params configures one handshake attempt.
type Params struct {
	Username         string
	Password         string
	Database         string
	CharacterSet     uint8
	CapabilityFlags  uint32
	MaxPacketSize    uint32
}

// Perform runs the handshake over conn, starting at packet sequence id 0,
// and returns the negotiated session info. A server ERR reply to the
// handshake response is returned as a *mysqlerr.ServerError; every other
// failure is a *mysqlerr.Error.
func Perform(conn io.ReadWriter, p Params) (*ConnectionInfo, error) {
	pkt, seq, err := wire.ReadPacket(conn, 0)
	if err != nil {
		return nil, mysqlerr.SocketBuild("reading server greeting", err)
	}
	g, err := parseGreeting(pkt.Payload)
	if err != nil {
		return nil, err
	}

	plugin, err := authplugin.Lookup(g.authPluginName)
	if err != nil {
		return nil, err
	}
	authResponse, err := plugin.Respond(p.Password, g.challenge)
	if err != nil {
		return nil, mysqlerr.Unexpected("computing authentication response", err)
	}

	capabilities := wire.BaselineCapabilities | p.CapabilityFlags
	if p.Database != "" {
		capabilities |= wire.ClientConnectWithDB
	}

	respPayload := buildHandshakeResponse(capabilities, p.MaxPacketSize, p.CharacterSet,
		p.Username, authResponse, p.Database, g.authPluginName)
	if seq, err = wire.WritePacket(conn, seq, respPayload); err != nil {
		return nil, mysqlerr.SocketBuild("writing handshake response", err)
	}

	ackPkt, _, err := wire.ReadPacket(conn, seq)
	if err != nil {
		return nil, mysqlerr.SocketBuild("reading handshake ack", err)
	}
	if len(ackPkt.Payload) > 0 && ackPkt.Payload[0] == wire.ErrPacketHeader {
		errPkt, perr := wire.ParseErrPacket(ackPkt.Payload, true)
		if perr != nil {
			return nil, perr
		}
		msg := wire.DecodeErrorMessage([]byte(errPkt.Message), p.CharacterSet)
		return nil, &mysqlerr.ServerError{Code: errPkt.Code, SQLState: errPkt.SQLState, Message: msg}
	}

	major, minor, patch := parseServerVersion(g.serverVersion)
	return &ConnectionInfo{
		ConnectionID:       g.connectionID,
		ServerVersion:      g.serverVersion,
		ServerVersionMajor: major,
		ServerVersionMinor: minor,
		ServerVersionPatch: patch,
		ServerCharacterSet: g.characterSet,
		Capabilities:       capabilities & g.capabilities,
		CharacterSet:       p.CharacterSet,
		Database:           p.Database,
	}, nil
}

func parseGreeting(payload []byte) (*greeting, error) {
	r := wire.NewPayloadReader(payload)
	protoVersion, err := r.FixedLengthInt(1)
	if err != nil {
		return nil, mysqlerr.MalformedPacket("reading protocol version")
	}
	if protoVersion != wire.ProtocolVersion10 {
		return nil, mysqlerr.MalformedPacket("unsupported protocol version")
	}
	serverVersion, err := r.NullTerminatedString()
	if err != nil {
		return nil, err
	}
	connID, err := r.FixedLengthInt(4)
	if err != nil {
		return nil, err
	}
	challengePart1, err := r.FixedLengthBytes(8)
	if err != nil {
		return nil, err
	}
	if _, err := r.FixedLengthBytes(1); err != nil { // filler
		return nil, err
	}
	capLower, err := r.FixedLengthInt(2)
	if err != nil {
		return nil, err
	}
	characterSet, err := r.FixedLengthInt(1)
	if err != nil {
		return nil, err
	}
	statusFlags, err := r.FixedLengthInt(2)
	if err != nil {
		return nil, err
	}
	capUpper, err := r.FixedLengthInt(2)
	if err != nil {
		return nil, err
	}
	capabilities := uint32(capLower) | uint32(capUpper)<<16

	challengeLen := 0
	if capabilities&wire.ClientPluginAuth != 0 {
		n, err := r.FixedLengthInt(1)
		if err != nil {
			return nil, err
		}
		challengeLen = int(n)
	} else {
		if _, err := r.FixedLengthBytes(1); err != nil {
			return nil, err
		}
	}
	if _, err := r.FixedLengthBytes(10); err != nil { // reserved
		return nil, err
	}

	challengePart2Len := 13
	if capabilities&wire.ClientSecureConn != 0 {
		challengePart2Len = challengeLen - 8
		if challengePart2Len < 13 {
			challengePart2Len = 13
		}
	}
	challengePart2, err := r.FixedLengthBytes(challengePart2Len)
	if err != nil {
		return nil, err
	}
	challenge := append(append([]byte{}, challengePart1...), trimTrailingNull(challengePart2)...)

	authPluginName := "mysql_native_password"
	if capabilities&wire.ClientPluginAuth != 0 && r.HasRemaining() {
		name, err := r.NullTerminatedString()
		if err == nil {
			authPluginName = name
		}
	}

	return &greeting{
		connectionID:   uint32(connID),
		serverVersion:  serverVersion,
		challenge:      challenge,
		capabilities:   capabilities,
		characterSet:   uint8(characterSet),
		statusFlags:    uint16(statusFlags),
		authPluginName: authPluginName,
	}, nil
}

func trimTrailingNull(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == 0 {
		return b[:len(b)-1]
	}
	return b
}

func buildHandshakeResponse(capabilities, maxPacketSize uint32, characterSet uint8,
	username string, authResponse []byte, database, authPluginName string) []byte {
	w := wire.NewPayloadWriter(64 + len(username) + len(authResponse) + len(database))
	w.FixedLengthInt(uint64(capabilities), 4)
	w.FixedLengthInt(uint64(maxPacketSize), 4)
	w.WriteByte(characterSet)
	w.Zeroes(23)
	w.NullTerminatedString(username)
	w.LengthEncodedBytes(authResponse)
	if database != "" {
		w.NullTerminatedString(database)
	}
	if capabilities&wire.ClientPluginAuth != 0 {
		w.NullTerminatedString(authPluginName)
	}
	return w.Bytes()
}

func parseServerVersion(v string) (major, minor, patch int) {
	n := 0
	field := &major
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
			continue
		}
		*field = n
		n = 0
		if c == '.' {
			switch field {
			case &major:
				field = &minor
			case &minor:
				field = &patch
			default:
				return
			}
			continue
		}
		return
	}
	*field = n
	return
}
