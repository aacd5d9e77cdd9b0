// Package socks5 implements a socks5 client: CONNECT for tcp and UDP ASSOCIATE for udp.
//
// https://www.ietf.org/rfc/rfc1928.txt
package socks5

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/utils"
)

const Name = "socks5"

// Version is socks5 version number.
const Version5 = 0x05

// SOCKS auth type
const (
	AuthNone         = 0x00
	AuthPassword     = 0x02
	AuthNoAcceptable = 0xff
)

// SOCKS request commands as defined in RFC 1928 section 4
const (
	CmdConnect      = 0x01
	CmdBind         = 0x02
	CmdUDPAssociate = 0x03
)

// SOCKS address types as defined in RFC 1928 section 4
const (
	ATypIP4    = 0x1
	ATypDomain = 0x3
	ATypIP6    = 0x4
)

var ErrBadReply = errors.New("socks5 bad reply")

// AppendAddr 按 socks5 格式 (ATYP ADDR PORT) 写入 a.
func AppendAddr(buf []byte, a netLayer.Addr) ([]byte, error) {
	if len(a.IP) > 0 {
		if ip4 := a.IP.To4(); ip4 != nil {
			buf = append(buf, ATypIP4)
			buf = append(buf, ip4...)
		} else {
			buf = append(buf, ATypIP6)
			buf = append(buf, a.IP.To16()...)
		}
	} else {
		if len(a.Name) == 0 || len(a.Name) > 255 {
			return buf, utils.ErrInErr{ErrDesc: "socks5 domain length illegal", ErrDetail: utils.ErrInvalidData, Data: len(a.Name)}
		}
		buf = append(buf, ATypDomain, byte(len(a.Name)))
		buf = append(buf, a.Name...)
	}
	return append(buf, byte(a.Port>>8), byte(a.Port)), nil
}

// ParseAddr 从 bs 开头解析 socks5 格式的地址, 返回地址和所占字节数.
func ParseAddr(bs []byte) (a netLayer.Addr, n int, err error) {
	if len(bs) < 1 {
		err = utils.ErrShortRead
		return
	}
	switch bs[0] {
	case ATypIP4:
		n = 1 + 4 + 2
		if len(bs) < n {
			err = utils.ErrShortRead
			return
		}
		a.IP = net.IP(append([]byte(nil), bs[1:5]...))
	case ATypIP6:
		n = 1 + 16 + 2
		if len(bs) < n {
			err = utils.ErrShortRead
			return
		}
		a.IP = net.IP(append([]byte(nil), bs[1:17]...))
	case ATypDomain:
		if len(bs) < 2 {
			err = utils.ErrShortRead
			return
		}
		l := int(bs[1])
		n = 2 + l + 2
		if l == 0 || len(bs) < n {
			err = utils.ErrShortRead
			return
		}
		a.Name = string(bs[2 : 2+l])
	default:
		err = utils.ErrInErr{ErrDesc: "socks5 unknown atyp", ErrDetail: utils.ErrInvalidData, Data: bs[0]}
		return
	}
	a.Port = int(binary.BigEndian.Uint16(bs[n-2 : n]))
	return
}

// readAddr 从 reader 读取 socks5 格式的地址
func readAddr(r io.Reader) (netLayer.Addr, error) {
	head := make([]byte, 2)
	if _, err := io.ReadFull(r, head); err != nil {
		return netLayer.Addr{}, err
	}
	var need int
	switch head[0] {
	case ATypIP4:
		need = 4 + 2 - 1
	case ATypIP6:
		need = 16 + 2 - 1
	case ATypDomain:
		need = int(head[1]) + 2
	default:
		return netLayer.Addr{}, utils.ErrInErr{ErrDesc: "socks5 unknown atyp", ErrDetail: utils.ErrInvalidData, Data: head[0]}
	}
	rest := make([]byte, need)
	if _, err := io.ReadFull(r, rest); err != nil {
		return netLayer.Addr{}, err
	}
	a, _, err := ParseAddr(append(head, rest...))
	return a, err
}

// udp 包的格式: RSV(2) FRAG(1) ATYP ADDR PORT DATA
func PackUDP(a netLayer.Addr, data []byte) ([]byte, error) {
	buf := make([]byte, 3, 3+1+255+2+len(data))
	buf, err := AppendAddr(buf, a)
	if err != nil {
		return nil, err
	}
	return append(buf, data...), nil
}

func UnpackUDP(bs []byte) (a netLayer.Addr, data []byte, err error) {
	if len(bs) < 4 {
		err = utils.ErrShortRead
		return
	}
	if bs[2] != 0 {
		err = utils.ErrInErr{ErrDesc: "socks5 udp fragment not supported", ErrDetail: utils.ErrNotImplemented, Data: bs[2]}
		return
	}
	var n int
	a, n, err = ParseAddr(bs[3:])
	if err != nil {
		return
	}
	data = bs[3+n:]
	return
}
