package netLayer

import (
	"io"
	"net"
	"time"

	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/zap"
)

type closeWriter interface {
	CloseWrite() error
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(closeWriter); ok {
		cw.CloseWrite()
	}
}

type copyResult struct {
	upload bool
	n      int64
}

// Relay 双向转发 lc 和 rc, 阻塞直到两个方向都结束, 返回 上传(lc->rc) 和 下载(rc->lc) 的字节数.
//
// 一个方向结束后会对另一端 CloseWrite, 另一个方向最多再等 TCP_halfCloseTimeout.
// 返回前关闭双端.
func Relay(lc, rc net.Conn) (upload, download int64) {
	ch := make(chan copyResult, 2)

	go func() {
		n, _ := io.Copy(rc, lc)
		closeWrite(rc)
		ch <- copyResult{upload: true, n: n}
	}()
	go func() {
		n, _ := io.Copy(lc, rc)
		closeWrite(lc)
		ch <- copyResult{n: n}
	}()

	record := func(r copyResult) {
		if r.upload {
			upload = r.n
		} else {
			download = r.n
		}
	}

	record(<-ch)

	timer := time.NewTimer(TCP_halfCloseTimeout)
	select {
	case r := <-ch:
		record(r)
	case <-timer.C:
		lc.Close()
		rc.Close()
		record(<-ch)
	}
	timer.Stop()

	lc.Close()
	rc.Close()
	return
}

// RelayUDP 在 lc 与 rc 之间转发, lc 读到的每一个包都发往 target;
// rc 读到的包按其来源地址写回 lc. 任一方向出错或空闲超过 UDP_timeout 则结束.
// 阻塞, 返回前关闭双端.
func RelayUDP(lc, rc MsgConn, target Addr) (upload, download uint64) {
	upCh := make(chan uint64, 1)

	go func() {
		var count uint64
		for {
			lc.SetReadDeadline(time.Now().Add(UDP_timeout))
			bs, _, err := lc.ReadMsgFrom()
			if err != nil {
				break
			}
			if err = rc.WriteMsgTo(bs, target); err != nil {
				if ce := utils.CanLogDebug("RelayUDP write to remote failed"); ce != nil {
					ce.Write(zap.String("target", target.String()), zap.Error(err))
				}
				break
			}
			count += uint64(len(bs))
		}
		rc.Close()
		lc.Close()
		upCh <- count
	}()

	for {
		rc.SetReadDeadline(time.Now().Add(UDP_timeout))
		bs, raddr, err := rc.ReadMsgFrom()
		if err != nil {
			break
		}
		if err = lc.WriteMsgTo(bs, raddr); err != nil {
			break
		}
		download += uint64(len(bs))
	}
	rc.Close()
	lc.Close()

	upload = <-upCh
	return
}
