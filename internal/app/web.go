package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/pressure_grid/internal/config"
	"github.com/relabs-tech/pressure_grid/internal/stream"
)

var upgrader = websocket.Upgrader{
	// The viewer page is served from this same process; cross-origin checks
	// add nothing on a bench network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHub tracks the connected WebSocket viewers. Each connection gets a read
// goroutine whose only job is to notice the peer going away (and service
// close/ping control frames); frames flow one way, hub to browser.
type wsHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*websocket.Conn]bool)}
}

func (h *wsHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *wsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		conn.Close()
		delete(h.clients, conn)
	}
}

// broadcast pushes one payload to every client, dropping any whose write
// fails.
func (h *wsHub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *wsHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("web: websocket client connected (%d total)", n)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()
}

// RunWeb subscribes to the MQTT frames topic and serves the live grid view:
// a static page, a latest-frame JSON endpoint, and a WebSocket that pushes
// every frame to connected browsers.
func RunWeb() error {
	var (
		mu        sync.RWMutex
		lastFrame stream.Frame
		haveFrame bool
	)
	hub := newWSHub()

	cfg := config.Get()

	clientID := cfg.MQTTClientIDWeb
	if clientID == "" {
		clientID = "pressure-grid-web"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicFrames, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f stream.Frame
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("web: frame unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastFrame = f
		haveFrame = true
		mu.Unlock()

		hub.broadcast(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to MQTT topic %s", cfg.TopicFrames)

	// JSON API endpoint: latest frame
	http.HandleFunc("/api/frame", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()

		if !haveFrame {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastFrame); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// WebSocket frame stream
	http.HandleFunc("/ws", hub.serve)

	// Static files from ./web as the root
	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	port := cfg.WebServerPort
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
