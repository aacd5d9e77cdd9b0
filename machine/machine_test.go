package machine

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/e1732a364fed/seeker/config"
	"github.com/e1732a364fed/seeker/netLayer/tun"
	"github.com/e1732a364fed/seeker/utils"
)

const testConf = `
[api]
enable = true
admin_pass = "secret"

[[route]]
toTag = "reject"
domain = ["full:blocked.example.com"]
`

func newTestMachine(t *testing.T) (*M, *tun.Listener) {
	conf, err := config.LoadTomlConfStr(testConf)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	conf.DNSListen = "127.0.0.1:0"
	conf.DNSServer = "127.0.0.1:1"
	conf.Api.Addr = "127.0.0.1:0"
	conf.DNSDB = filepath.Join(t.TempDir(), "dns.db")

	m, err := New(conf, -1)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	l := tun.NewListener(4)
	m.NewSource = func() (SourceCloser, error) {
		return l, nil
	}
	return m, l
}

func waitApi(t *testing.T, m *M) string {
	for i := 0; i < 200; i++ {
		if a := m.ApiAddr(); a != nil {
			return "http://" + a.String() + config.DefaultApiPrefix
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Log("api server not started")
	t.FailNow()
	return ""
}

func get(t *testing.T, method, url string, withAuth bool) (int, string) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if withAuth {
		req.SetBasicAuth("admin", "secret")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	defer resp.Body.Close()
	bs, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(bs)
}

func TestMachineRun(t *testing.T) {
	utils.InitLog("")

	m, l := newTestMachine(t)

	if m.Client.Route("blocked.example.com", "tcp") != "reject" || m.Client.DefaultTag != "direct" {
		t.FailNow()
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- m.Run()
	}()
	base := waitApi(t, m)

	if !m.IsRunning() {
		t.FailNow()
	}

	//假dns 分配的ip 上的流, 按域名 被 reject
	fake, err := m.DNS.Pool().Allocate("blocked.example.com")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	local, remote := net.Pipe()
	if err = l.Push(context.Background(), tun.NewStreamSocket(remote, netip.AddrPortFrom(fake, 443))); err != nil {
		t.Log(err)
		t.FailNow()
	}
	local.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err = local.Read(make([]byte, 1)); err != io.EOF {
		t.Log("rejected flow should be closed", err)
		t.FailNow()
	}

	if code, _ := get(t, http.MethodGet, base+"/allstate", false); code != http.StatusUnauthorized {
		t.Log(code)
		t.FailNow()
	}
	code, state := get(t, http.MethodGet, base+"/allstate", true)
	if code != http.StatusOK || !strings.Contains(state, "acceptedFlows 1") || !strings.Contains(state, "outClient reject") {
		t.Log(code, state)
		t.FailNow()
	}

	if code, host := get(t, http.MethodGet, base+"/lookup?ip="+fake.String(), true); code != http.StatusOK || strings.TrimSpace(host) != "blocked.example.com" {
		t.Log(code, host)
		t.FailNow()
	}
	if code, tag := get(t, http.MethodGet, base+"/route?domain=blocked.example.com", true); code != http.StatusOK || strings.TrimSpace(tag) != "reject" {
		t.Log(code, tag)
		t.FailNow()
	}

	if code, _ = get(t, http.MethodGet, base+"/stop", true); code != http.StatusMethodNotAllowed {
		t.FailNow()
	}
	if code, _ = get(t, http.MethodPost, base+"/stop", true); code != http.StatusOK {
		t.FailNow()
	}

	select {
	case err = <-runErr:
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
	case <-time.After(5 * time.Second):
		t.Log("machine did not stop")
		t.FailNow()
	}

	if m.IsRunning() || m.ApiAddr() != nil {
		t.FailNow()
	}

	//退出时 保存了 dns.db, 新的机器 可以读回
	m2, _ := newTestMachine(t)
	if n, err := m2.DNS.Pool().LoadFile(m.conf.DNSDB); err != nil || n != 1 {
		t.Log(n, err)
		t.FailNow()
	}
}

func TestMachineSourceEnd(t *testing.T) {
	m, l := newTestMachine(t)
	m.conf.Api.Enable = false
	l.Close()

	if err := m.Run(); err != nil {
		t.Log(err)
		t.FailNow()
	}
}

func TestMachineBadDial(t *testing.T) {
	conf, err := config.LoadTomlConfStr("default = \"nowhere\"")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if _, err = New(conf, -1); err == nil {
		t.FailNow()
	}
}
