package utils

import (
	"bytes"
	"testing"
)

func TestDetachPacket(t *testing.T) {
	buf := GetPacket()
	copy(buf, "hello world")

	out := DetachPacket(buf, buf[6:11])
	if string(out) != "world" || cap(out) != len(out) {
		t.Log(string(out), cap(out))
		t.FailNow()
	}

	//放回的 buf 再被取出改写, 不影响 out
	for i := 0; i < 4; i++ {
		b := GetPacket()
		copy(b, bytes.Repeat([]byte{'x'}, 16))
		PutPacket(b)
	}
	if string(out) != "world" {
		t.FailNow()
	}

	//容量不足的不会放回
	PutPacket(make([]byte, 10))
	if len(GetPacket()) != MaxPacketLen {
		t.FailNow()
	}
}
