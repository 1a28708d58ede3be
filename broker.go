// Rendezvous broker
//
// Peers find each other through a shared address registered here. Once a
// guest has looked up the host, their traffic flows over a direct websocket
// between the two processes; the broker never relays game messages.
//
// Features:
// - Registration over a websocket held open for the life of the endpoint
// - A second live registration of the same address is refused with 409
// - Addresses without a preference are assigned a random uuid
// - Dead registrants are dropped when they stop answering pings
// - Lookup returns the direct URL the registrant advertised
// - Landing page and QR code for share links

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// brokerMessage is the only frame the broker writes to a registrant.
type brokerMessage struct {
	Type string `json:"type"` // "open"
	ID   string `json:"id"`
}

type lookupResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type registration struct {
	id        string
	url       string
	createdAt time.Time
}

// Broker maps live addresses to the URLs their owners accept peers on.
type Broker struct {
	cfg *Config

	mu    sync.Mutex
	peers map[string]*registration
}

func newBroker(cfg *Config) *Broker {
	return &Broker{
		cfg:   cfg,
		peers: make(map[string]*registration),
	}
}

// claim reserves id, or reports false when a live peer already holds it.
func (b *Broker) claim(id, advertise string) (*registration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, taken := b.peers[id]; taken {
		return nil, false
	}

	reg := &registration{
		id:        id,
		url:       advertise,
		createdAt: time.Now(),
	}
	b.peers[id] = reg

	return reg, true
}

// release drops reg, unless the address has already been reclaimed.
func (b *Broker) release(reg *registration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.peers[reg.id] == reg {
		delete(b.peers, reg.id)
	}
}

func (b *Broker) lookup(id string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.peers[id]
	if !ok || reg.url == "" {
		return "", false
	}

	return reg.url, true
}

func (b *Broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.peers)
}

func validAdvertise(raw string) bool {
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "ws" || u.Scheme == "wss") && u.Host != ""
}

// keepAlive pings conn every wait/2 and fails its reads once a pong is
// overdue. It must be called before the conn's read loop starts.
func keepAlive(conn *websocket.Conn, wait time.Duration, done <-chan struct{}) {
	if wait <= 0 {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	go func() {
		ticker := time.NewTicker(wait / 2)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
}

func serveRegister(cfg *Config, b *Broker) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")
		if id == "" {
			id = uuid.NewString()
		}

		advertise := r.URL.Query().Get("advertise")
		if !validAdvertise(advertise) {
			http.Error(w, "invalid advertise url", http.StatusBadRequest)
			return
		}

		reg, ok := b.claim(id, advertise)
		if !ok {
			logf(cfg, "BROKER: Refused %s for %s (address taken)", id, realIP(r))
			http.Error(w, "address unavailable", http.StatusConflict)
			return
		}
		defer b.release(reg)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "BROKER: Upgrade failed for %s: %v", id, err)
			return
		}
		defer conn.Close()

		logf(cfg, "BROKER: Registered %s for %s (%d live)", id, realIP(r), b.count())

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(brokerMessage{Type: "open", ID: id}); err != nil {
			return
		}

		done := make(chan struct{})
		defer close(done)
		keepAlive(conn, cfg.keepalive, done)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logf(cfg, "BROKER: Released %s after %s", id, time.Since(reg.createdAt).Round(time.Second))
				return
			}
		}
	}
}

func serveLookup(cfg *Config, b *Broker) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")

		target, ok := b.lookup(id)
		if !ok {
			http.Error(w, "address not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		_ = json.NewEncoder(w).Encode(lookupResponse{ID: id, URL: target})

		logf(cfg, "BROKER: Resolved %s for %s", id, realIP(r))
	}
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// serveLanding answers share links opened in a browser with the command
// that joins the room.
func serveLanding(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		host := r.URL.Query().Get("host")
		if host == "" {
			_, _ = io.WriteString(w, "hiddenroles v"+releaseVersion+"\n")
			return
		}

		address, err := ParseJoinInput(host)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		link := ShareLink(requestBaseURL(r), address)
		_, _ = fmt.Fprintf(w, "Room %s\n\nJoin with:\n  hiddenroles join %q\n", ExtractCode(address), link)
	}
}

// serveQR renders the share link for ?host= as a PNG.
func serveQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		address, err := ParseJoinInput(r.URL.Query().Get("host"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		png, err := qrcode.Encode(ShareLink(requestBaseURL(r), address), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

// registerBroker sets up routes so that:
//   - $prefix/register          → websocket registration, random address
//   - $prefix/register/:id      → websocket registration of :id
//   - $prefix/lookup/:id        → JSON direct URL for :id
//   - $prefix/                  → landing page for share links
//   - $prefix/qr                → PNG QR code for a share link
func registerBroker(cfg *Config, b *Broker, mux *httprouter.Router) {
	prefix := strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(prefix+"/register", serveRegister(cfg, b))
	mux.GET(prefix+"/register/:id", serveRegister(cfg, b))
	mux.GET(prefix+"/lookup/:id", serveLookup(cfg, b))
	mux.GET(prefix+"/qr", serveQR(cfg))
	mux.GET(prefix+"/", serveLanding(cfg))
}
