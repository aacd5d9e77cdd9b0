package utils

import (
	"bytes"
	"sync"
)

// udp 最大还不到 64k (65535－20－8), 所以 64k 的 packet 对 tcp 和 udp 都够了.
const MaxPacketLen = 64 * 1024

var (
	packetPool = sync.Pool{
		New: func() any {
			return make([]byte, MaxPacketLen)
		},
	}

	bufPool = sync.Pool{
		New: func() any {
			return &bytes.Buffer{}
		},
	}
)

// 从Pool中获取一个 *bytes.Buffer
func GetBuf() *bytes.Buffer {
	return bufPool.Get().(*bytes.Buffer)
}

// 将 buf 放回 Pool
func PutBuf(buf *bytes.Buffer) {
	buf.Reset()
	bufPool.Put(buf)
}

// 读 udp 包时用 GetPacket 获取足够大的 []byte (MaxPacketLen)
func GetPacket() []byte {
	return packetPool.Get().([]byte)
}

// 放回用 GetPacket 获取的 []byte, 容量不足的直接丢弃
func PutPacket(bs []byte) {
	if cap(bs) < MaxPacketLen {
		return
	}
	packetPool.Put(bs[:MaxPacketLen])
}

// DetachPacket 把 buf 中的 data 复制到一个刚好大小的 []byte, 然后放回 buf.
// data 必须是 buf 的一部分, 调用后不能再使用 buf 和 data.
func DetachPacket(buf, data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	PutPacket(buf)
	return out
}
