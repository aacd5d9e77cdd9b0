package machine

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net"
	"net/http"
	"time"

	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/zap"
)

/*
curl http://127.0.0.1:48345/api/allstate
curl -u admin:pass http://127.0.0.1:48345/api/stop
curl http://127.0.0.1:48345/api/lookup?ip=11.0.0.10
curl http://127.0.0.1:48345/api/route?domain=example.com
*/

type auth struct {
	expectedUsernameHash [32]byte
	expectedPasswordHash [32]byte
}

type apiServer struct {
	admin_auth auth
	nopass     bool
	PathPrefix string

	srv *http.Server
	ln  net.Listener
}

func newApiServer(user, pass string) *apiServer {
	s := new(apiServer)

	if pass != "" {
		s.admin_auth.expectedUsernameHash = sha256.Sum256([]byte(user))
		s.admin_auth.expectedPasswordHash = sha256.Sum256([]byte(pass))

	} else {
		s.nopass = true
	}
	return s
}

func (ser *apiServer) addServerHandle(mux *http.ServeMux, name string, f func(w http.ResponseWriter, r *http.Request)) {
	mux.HandleFunc(ser.PathPrefix+"/"+name, ser.basicAuth(f))
}

func (ser *apiServer) basicAuth(realfunc http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		doFunc := func() {
			if ce := utils.CanLogInfo("api server got new request"); ce != nil {
				ce.Write(
					zap.String("method", r.Method),
					zap.String("requestURL", r.RequestURI),
				)
			}
			w.Header().Add("Access-Control-Allow-Origin", "*") //避免在网页请求本api时, 客户端遇到CSRF保护问题

			realfunc.ServeHTTP(w, r)
		}

		if ser.nopass {
			doFunc()
			return
		}

		thisun, thispass, ok := r.BasicAuth()
		if ok {
			usernameHash := sha256.Sum256([]byte(thisun))
			passwordHash := sha256.Sum256([]byte(thispass))

			usernameMatch := (subtle.ConstantTimeCompare(usernameHash[:], ser.admin_auth.expectedUsernameHash[:]) == 1)
			passwordMatch := (subtle.ConstantTimeCompare(passwordHash[:], ser.admin_auth.expectedPasswordHash[:]) == 1)

			if usernameMatch && passwordMatch {
				doFunc()
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

const eIllegalParameter = "illegal parameter"

func (m *M) apiMux(ser *apiServer) *http.ServeMux {
	mux := http.NewServeMux()

	ser.addServerHandle(mux, "allstate", func(w http.ResponseWriter, r *http.Request) {
		m.PrintAllState(w)
	})

	ser.addServerHandle(mux, "stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		m.Stop()
		w.Write([]byte("stopping\n"))
	})

	ser.addServerHandle(mux, "lookup", func(w http.ResponseWriter, r *http.Request) {
		ip := r.URL.Query().Get("ip")
		if ip == "" {
			http.Error(w, eIllegalParameter, http.StatusBadRequest)
			return
		}
		host, found := m.DNS.LookupHost(ip)
		if !found {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(host + "\n"))
	})

	ser.addServerHandle(mux, "route", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		domain := q.Get("domain")
		if domain == "" {
			http.Error(w, eIllegalParameter, http.StatusBadRequest)
			return
		}
		network := q.Get("network")
		if network == "" {
			network = "tcp"
		}
		w.Write([]byte(m.Client.Route(domain, network) + "\n"))
	})
	return mux
}

// 非阻塞. 监听失败时返回错误.
func (m *M) startApiServer() error {
	ac := m.conf.Api

	ser := newApiServer("admin", ac.AdminPass)
	ser.PathPrefix = ac.PathPrefix

	ln, err := net.Listen("tcp", ac.Addr)
	if err != nil {
		return utils.ErrInErr{ErrDesc: "api server listen failed", ErrDetail: err, Data: ac.Addr}
	}
	ser.ln = ln
	ser.srv = &http.Server{
		Handler:      m.apiMux(ser),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	m.Lock()
	m.api = ser
	m.Unlock()

	utils.Info("Start Api Server at http://" + ln.Addr().String() + ser.PathPrefix)

	go func() {
		if err := ser.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			if ce := utils.CanLogErr("api server stopped"); ce != nil {
				ce.Write(zap.Error(err))
			}
		}
	}()
	return nil
}

// ApiAddr 返回 api服务器 实际监听的地址, 未运行时为 nil
func (m *M) ApiAddr() net.Addr {
	m.RLock()
	defer m.RUnlock()
	if m.api == nil {
		return nil
	}
	return m.api.ln.Addr()
}

func (m *M) stopApiServer() {
	m.Lock()
	ser := m.api
	m.api = nil
	m.Unlock()

	if ser == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ser.srv.Shutdown(ctx)
}
