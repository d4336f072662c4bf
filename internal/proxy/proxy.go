package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/proj/proj/internal/registry"
)

const dialTimeout = 2 * time.Second

// Proxy routes HTTP requests onto project upstreams by the leftmost
// label of the Host header. my-app.localhost:8080 routes to whatever
// port the project my-app's child was observed listening on.
type Proxy struct {
	reg       *registry.Registry
	log       *logrus.Entry
	transport *http.Transport
}

func New(reg *registry.Registry, log *logrus.Logger) *Proxy {
	return &Proxy{
		reg: reg,
		log: log.WithField("component", "proxy"),
		transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
			// Upstreams are localhost dev servers; connection churn is
			// cheap and children come and go, so keep the idle pool small.
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := HostLabel(r.Host)
	if name == "" || name == "localhost" {
		http.Error(w, "unknown project", http.StatusNotFound)
		return
	}

	port, known := p.reg.PortFor(name)
	if !known {
		http.Error(w, "unknown project", http.StatusNotFound)
		return
	}
	if port == 0 {
		http.Error(w, "project not running", http.StatusServiceUnavailable)
		return
	}

	if isUpgrade(r) {
		p.serveUpgrade(w, r, name, port)
		return
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = "http"
			pr.Out.URL.Host = fmt.Sprintf("127.0.0.1:%d", port)
			pr.Out.Host = r.Host
			pr.SetXForwarded()
			pr.Out.Header.Set("X-Forwarded-Host", r.Host)
		},
		Transport: p.transport,
		// Flush as bytes arrive so SSE and other long-lived responses
		// stream through instead of buffering.
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.log.WithError(err).WithFields(logrus.Fields{
				"project": name, "port": port,
			}).Warn("upstream request failed")
			p.reg.InvalidatePort(name, port)
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
	rp.ServeHTTP(w, r)
}

// serveUpgrade handles WebSocket and other Upgrade requests by
// handshaking against the upstream and splicing raw bytes both ways
// until either side closes. Frames are never parsed.
func (p *Proxy) serveUpgrade(w http.ResponseWriter, r *http.Request, name string, port int) {
	upstream, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), dialTimeout)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"project": name, "port": port,
		}).Warn("upstream dial failed for upgrade")
		p.reg.InvalidatePort(name, port)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return
	}
	client, clientRW, err := hj.Hijack()
	if err != nil {
		p.log.WithError(err).Warn("hijack failed")
		return
	}
	defer client.Close()

	// Forward the original request, Upgrade headers intact, to the
	// upstream so it performs the handshake itself.
	out := r.Clone(context.Background())
	out.URL = &url.URL{Opaque: r.RequestURI}
	out.Header.Set("X-Forwarded-Host", r.Host)
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		out.Header.Set("X-Forwarded-For", ip)
	}
	if err := out.Write(upstream); err != nil {
		p.log.WithError(err).Warn("writing upgrade request to upstream failed")
		return
	}

	errc := make(chan error, 2)
	go splice(upstream, clientRW.Reader, errc)
	go splice(client, upstream, errc)
	<-errc
}

func splice(dst io.Writer, src io.Reader, errc chan<- error) {
	_, err := io.Copy(dst, src)
	errc <- err
}

// HostLabel extracts the leftmost DNS label from a Host header value,
// stripping any port suffix.
func HostLabel(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label, _, _ := strings.Cut(host, ".")
	return label
}

func isUpgrade(r *http.Request) bool {
	if r.Header.Get("Upgrade") == "" {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, f := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(f), "upgrade") {
				return true
			}
		}
	}
	return false
}
