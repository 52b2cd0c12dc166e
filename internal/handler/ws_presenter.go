package handler

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

const presenterBuffer = 256

// wsPresenter turns controller callbacks into WebSocket events. Callbacks
// never block: events are queued for a single writer goroutine, and a client
// that falls a whole buffer behind is disconnected.
type wsPresenter struct {
	conn *websocket.Conn
	log  zerolog.Logger

	out      chan interface{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newWSPresenter(conn *websocket.Conn, log zerolog.Logger) *wsPresenter {
	p := &wsPresenter{
		conn: conn,
		log:  log,
		out:  make(chan interface{}, presenterBuffer),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *wsPresenter) run() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.out:
			if !p.write(ev) {
				return
			}
		case <-p.stop:
			for {
				select {
				case ev := <-p.out:
					if !p.write(ev) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (p *wsPresenter) write(ev interface{}) bool {
	if err := ws.WriteTyped(p.conn, ev); err != nil {
		p.log.Debug().Err(err).Msg("WebSocket write failed")
		p.conn.Close()
		return false
	}
	return true
}

func (p *wsPresenter) send(ev interface{}) {
	select {
	case p.out <- ev:
	default:
		p.log.Warn().Msg("Client is not reading, dropping connection")
		p.conn.Close()
	}
}

// Close flushes queued events and stops the writer. It is safe to call more
// than once.
func (p *wsPresenter) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *wsPresenter) Notify(n attempt.Notice) {
	p.send(ws.NoticeResponse{Event: ws.EventNotice, Notice: n})
}

func (p *wsPresenter) Navigate(r attempt.Route) {
	p.send(ws.NavigateResponse{Event: ws.EventNavigate, Route: r})
}

func (p *wsPresenter) RenderIntro(s model.IntroState) {
	p.send(ws.IntroRenderResponse{Event: ws.EventRender, Intro: s})
}

func (p *wsPresenter) ShowQuestions(qs []model.Question) {
	p.send(ws.QuestionsResponse{Event: ws.EventQuestions, Questions: qs})
}

func (p *wsPresenter) RenderSession(s model.SessionState) {
	p.send(ws.SessionRenderResponse{Event: ws.EventRender, Session: s})
}

func (p *wsPresenter) Error(e ws.ErrorResponse) {
	p.send(e)
}

func (p *wsPresenter) Pong() {
	p.send(ws.PongResponse{Event: ws.EventPong})
}
