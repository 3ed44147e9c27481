package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/service/diarization"
	"live-transcript-service/internal/service/session"
)

const (
	feedBuffer       = 256
	clientBuffer     = 64
	feedWriteTimeout = 5 * time.Second
)

// feedEvent is one frame sent to WebSocket clients.
type feedEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// feedSource is the part of the controller the feed listens to.
type feedSource interface {
	Status() session.Snapshot
	OnProgress(fn func(session.Progress)) func()
	OnSegment(fn func(models.TranscriptSegment)) func()
	OnSpeakerChange(fn func(models.SpeakerChange)) func()
	OnDiarizationAvailability(fn func(session.Availability)) func()
	SubscribeDiarizationHealth(buffer int) (<-chan diarization.Notification, func())
}

// feed fans controller events out to WebSocket clients. Each client has its
// own writer; a client that falls behind is disconnected.
type feed struct {
	src        feedSource
	clients    map[*websocket.Conn]chan feedEvent
	broadcast  chan feedEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	upgrader   websocket.Upgrader
}

func newFeed(src feedSource) *feed {
	f := &feed{
		src:        src,
		clients:    make(map[*websocket.Conn]chan feedEvent),
		broadcast:  make(chan feedEvent, feedBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	src.OnProgress(func(p session.Progress) { f.publish("progress", p) })
	src.OnSegment(func(s models.TranscriptSegment) { f.publish("segment", s) })
	src.OnSpeakerChange(func(c models.SpeakerChange) { f.publish("speaker_change", c) })
	src.OnDiarizationAvailability(func(a session.Availability) { f.publish("diarization", a) })
	health, _ := src.SubscribeDiarizationHealth(clientBuffer)
	go func() {
		for n := range health {
			f.publish("diarization_health", n)
		}
	}()

	go f.run()
	return f
}

// publish never blocks the caller, which is usually engine dispatch.
func (f *feed) publish(kind string, data any) {
	select {
	case f.broadcast <- feedEvent{Type: kind, Data: data}:
	default:
		log.Warn().Str("type", kind).Msg("Event feed full, dropping event")
	}
}

func (f *feed) run() {
	for {
		select {
		case conn := <-f.register:
			ch := make(chan feedEvent, clientBuffer)
			ch <- feedEvent{Type: "status", Data: f.src.Status()}
			f.clients[conn] = ch
			go f.write(conn, ch)
			log.Debug().Int("clients", len(f.clients)).Msg("Feed client connected")

		case conn := <-f.unregister:
			f.drop(conn)

		case ev := <-f.broadcast:
			for conn, ch := range f.clients {
				select {
				case ch <- ev:
				default:
					log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("Feed client too slow, disconnecting")
					f.drop(conn)
				}
			}
		}
	}
}

func (f *feed) drop(conn *websocket.Conn) {
	if ch, ok := f.clients[conn]; ok {
		delete(f.clients, conn)
		close(ch)
		log.Debug().Int("clients", len(f.clients)).Msg("Feed client disconnected")
	}
}

func (f *feed) write(conn *websocket.Conn, ch <-chan feedEvent) {
	defer conn.Close()
	for ev := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			log.Debug().Err(err).Msg("Feed write failed")
			f.unregister <- conn
			// Drain until run closes the channel.
			for range ch {
			}
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (f *feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	f.register <- conn

	go func() {
		defer func() { f.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
