package proxy

import (
	"sort"
	"strings"

	"github.com/e1732a364fed/seeker/utils"
)

var clientCreatorMap = map[string]ClientCreator{
	DirectName: DirectCreator{},
	RejectName: RejectCreator{},
}

type ClientCreator interface {
	NewClient(*DialConf) (Client, error)
}

// 规定，每个 实现Client的包必须使用本函数进行注册。
// direct 和 reject 统一使用本包提供的方法, 自定义协议不得覆盖 direct 和 reject。
func RegisterClient(name string, c ClientCreator) {
	switch name {
	case DirectName, RejectName:
		return
	}
	clientCreatorMap[name] = c
}

func AllClientNames() []string {
	names := make([]string, 0, len(clientCreatorMap))
	for k := range clientCreatorMap {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func NewClient(dc *DialConf) (Client, error) {
	protocol := strings.ToLower(dc.Protocol)
	creator, ok := clientCreatorMap[protocol]
	if !ok {
		return nil, utils.ErrInErr{ErrDesc: "unknown dial protocol", ErrDetail: utils.ErrNotImplemented, Data: dc.Protocol}
	}
	c, err := creator.NewClient(dc)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "create client failed", ErrDetail: err, Data: dc.Tag}
	}
	return c, nil
}
