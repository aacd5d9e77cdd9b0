package fakedns

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/zap"
)

type snapshot struct {
	Records []Record `toml:"record"`
}

// SaveFile 把 假ip 记录写入 path (toml 格式), 以便重启后仍能反查之前分配出去的 假ip.
func (p *Pool) SaveFile(path string) error {
	buf := utils.GetBuf()
	defer utils.PutBuf(buf)

	p.dirty.Store(false)
	if err := toml.NewEncoder(buf).Encode(snapshot{Records: p.Records()}); err != nil {
		p.dirty.Store(true)
		return err
	}
	if err := utils.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		p.dirty.Store(true)
		return err
	}
	return nil
}

// LoadFile 文件不存在时 不算错误.
func (p *Pool) LoadFile(path string) (int, error) {
	var s snapshot
	if _, err := toml.DecodeFile(path, &s); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	n := p.Restore(s.Records)
	p.dirty.Store(false)
	return n, nil
}

// Maintain 阻塞直到 ctx 结束: 定期清理过期的 真实ip 记录; path 不为空时, 有变化就保存, 结束前再保存一次.
func (p *Pool) Maintain(ctx context.Context, path string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	save := func() {
		if path == "" || !p.dirty.Load() {
			return
		}
		if err := p.SaveFile(path); err != nil {
			if ce := utils.CanLogErr("save fake dns db failed"); ce != nil {
				ce.Write(zap.String("path", path), zap.Error(err))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			save()
			return
		case now := <-ticker.C:
			if n := p.Cleanup(now); n > 0 {
				if ce := utils.CanLogDebug("fake dns expired real ip records removed"); ce != nil {
					ce.Write(zap.Int("count", n))
				}
			}
			save()
		}
	}
}
