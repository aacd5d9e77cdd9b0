/*
Package seeker 是一个透明代理的 流分派 核心.

# Structure 本项目结构

utils -> netLayer -> netLayer/tun -> fakedns -> proxy -> seeker -> machine -> cmd/seeker

根项目 seeker 只研究 从虚拟网卡拿到流 之后的分派过程:

 1. 从 tun.Source 取出一条流 (最多等 PollInterval, 超时后检查是否需要退出)
 2. 用 Resolver 把 流的目标ip 反查成域名 (假dns 分配出去的ip), 查不到则用原始 ip
 3. 开一个 goroutine, 按流的种类 交给 proxy.Client 的 HandleTCP / HandleUDP

单条流的错误 和 panic 都只会被记录, 不影响其它流; 只有来源本身出错 才会让 Dispatcher.Run 返回错误.

退出由 Termination 控制, 它只是一个原子的布尔值, 信号处理函数 和 api服务器 都可以设置它.

# Collaborators

netLayer/tun 定义 Socket 和 Source; netLayer/tproxy 是 linux 下基于 TPROXY 的 Source 实现.

fakedns 是拦截dns的服务器, 同时是 Resolver 的实现.

proxy 定义 Client, 以及 direct, reject, socks5, shadowsocks 和按规则分流的 RuledClient.

machine 把上面这些按配置组装起来, cmd/seeker 是命令行程序.
*/
package seeker
