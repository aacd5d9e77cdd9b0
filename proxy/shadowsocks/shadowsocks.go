/*
Package shadowsocks implements a shadowsocks client.

加密方法先尝试 shadowsocks-go 支持的 流加密 (如 aes-256-cfb, chacha20),
不支持时再使用 go-shadowsocks2 的 AEAD 加密 (如 AES-256-GCM, CHACHA20-IETF-POLY1305).

Reference

https://github.com/shadowsocks/shadowsocks-org/wiki/Protocol

https://github.com/shadowsocks/shadowsocks-org/wiki/AEAD-Ciphers
*/
package shadowsocks

import (
	"net"
	"strings"

	"github.com/e1732a364fed/seeker/utils"
	"github.com/shadowsocks/go-shadowsocks2/core"
	ss "github.com/shadowsocks/shadowsocks-go/shadowsocks"
	"go.uber.org/zap"
)

const Name = "shadowsocks"

// implements core.Cipher
type shadowCipher struct {
	cipher *ss.Cipher
}

func (c *shadowCipher) StreamConn(conn net.Conn) net.Conn {
	return ss.NewConn(conn, c.cipher.Copy())
}

func (c *shadowCipher) PacketConn(conn net.PacketConn) net.PacketConn {
	return ss.NewSecurePacketConn(conn, c.cipher.Copy())
}

func initShadowCipher(method, password string) (cipher core.Cipher, err error) {
	if method == "" || password == "" {
		return nil, utils.ErrInErr{ErrDesc: "shadowsocks method or password is empty", ErrDetail: utils.ErrNilParameter}
	}

	if cp, e := ss.NewCipher(strings.ToLower(method), password); e == nil && cp != nil {
		return &shadowCipher{cipher: cp}, nil
	}

	cipher, err = core.PickCipher(strings.ToUpper(method), nil, password)
	if err != nil {
		if ce := utils.CanLogErr("ss initShadowCipher err"); ce != nil {
			ce.Write(zap.String("method", method), zap.Error(err))
		}
	}
	return
}
