package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/video"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultViewerReadTimeout = 60 * time.Second
const viewerWriteTimeout = 10 * time.Second

//broadcastBuffer frames wait for Run, viewerBuffer frames wait for each viewer. Newer frames are dropped.
const broadcastBuffer = 4
const viewerBuffer = 4

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

//viewerMessage is the JSON text message sent to viewers for every annotated frame
type viewerMessage struct {
	Stamp string `json:"stamp"`
	Image string `json:"image"`
}

//viewer is one websocket client. Only its writer goroutine writes to conn.
type viewer struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

//Hub broadcasts annotated frames to websocket viewers
type Hub struct {
	dropped uint64

	//readTimeout disconnects viewers which stop answering pings, sent every pingPeriod
	readTimeout time.Duration
	pingPeriod  time.Duration

	clients    map[uuid.UUID]*viewer
	broadcast  chan []byte
	register   chan *viewer
	unregister chan *viewer
	done       chan struct{}
	mutex      sync.RWMutex
}

//NewHub returns a hub, Run must be running for viewers to be served
func NewHub() *Hub {
	return &Hub{
		readTimeout: defaultViewerReadTimeout,
		pingPeriod:  defaultViewerReadTimeout * 9 / 10,
		clients:     make(map[uuid.UUID]*viewer),
		broadcast:   make(chan []byte, broadcastBuffer),
		register:    make(chan *viewer),
		unregister:  make(chan *viewer),
		done:        make(chan struct{}),
	}
}

//Run serves registrations and broadcasts until ctx is done, then disconnects every viewer. It never writes to a
//connection itself, a slow viewer only loses its own frames.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for id, v := range h.clients {
				close(v.send)
				delete(h.clients, id)
			}
			h.mutex.Unlock()
			return

		case v := <-h.register:
			h.mutex.Lock()
			h.clients[v.id] = v
			total := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Hub: viewer %s connected. Total: %d", v.id, total)

		case v := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[v.id]; ok {
				delete(h.clients, v.id)
				close(v.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Hub: viewer %s disconnected. Total: %d", v.id, total)

		case message := <-h.broadcast:
			h.mutex.RLock()
			for _, v := range h.clients {
				select {
				case v.send <- message:
				default:
					atomic.AddUint64(&h.dropped, 1)
				}
			}
			h.mutex.RUnlock()
		}
	}
}

//Publish queues frame for the viewers without waiting for them. Nothing is encoded while nobody watches.
func (h *Hub) Publish(frame *video.AnnotatedFrame) error {
	if h.Subscribers() == 0 {
		return nil
	}

	jpeg, err := frame.JPEG()
	if err != nil {
		return err
	}

	message, err := json.Marshal(viewerMessage{
		Stamp: frame.Stamp.UTC().Format(time.RFC3339Nano),
		Image: base64.StdEncoding.EncodeToString(jpeg),
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		atomic.AddUint64(&h.dropped, 1)
	}

	return nil
}

//Subscribers returns the number of connected viewers
func (h *Hub) Subscribers() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

//Dropped returns the number of frames a viewer never got because it was too slow
func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

//ServeViewer upgrades the request to a websocket and keeps it registered until the viewer goes away
func (h *Hub) ServeViewer(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Hub.ServeViewer: Upgrade error, got '%v'", err)
		return
	}

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	v := &viewer{id: uuid.New(), conn: conn, send: make(chan []byte, viewerBuffer)}
	select {
	case h.register <- v:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writeViewer(v)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}

	select {
	case h.unregister <- v:
	case <-h.done:
	}
}

//writeViewer sends queued frames and pings to v until its send channel is closed or a write fails
func (h *Hub) writeViewer(v *viewer) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	defer v.conn.Close()

	for {
		select {
		case message, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(viewerWriteTimeout))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Hub: Error sending to viewer %s, got '%v'", v.id, err)
				return
			}

		case <-ticker.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(viewerWriteTimeout)); err != nil {
				log.Printf("Hub: Error pinging viewer %s, got '%v'", v.id, err)
				return
			}
		}
	}
}
