// Package session hosts one annotation viewer per websocket connection. The
// client sends viewer commands; the server answers with frames.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/planpin/planpin/backend-go/internal/annotation"
	"github.com/planpin/planpin/backend-go/internal/document"
	"github.com/planpin/planpin/backend-go/internal/engine"
	"github.com/planpin/planpin/backend-go/internal/typeid"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 64 * 1024

	DefaultWidth  = 800
	DefaultHeight = 600
)

var ErrUnknownCommand = errors.New("unknown command")

// authoredSource records new annotations under the session's author.
type authoredSource struct {
	*annotation.Store
	author string
}

func (a authoredSource) AddAnnotation(pos document.Position) (document.Annotation, error) {
	return a.Store.AddAnnotationAs(pos, a.author)
}

type Options struct {
	Fetcher engine.Fetcher
	Author  string
	Width   float64
	Height  float64
}

// Session is one connected viewer.
type Session struct {
	conn   *websocket.Conn
	store  *annotation.Store
	viewer *engine.Viewer

	send  chan []byte
	dirty chan struct{}

	// mu serializes viewer commands with frame snapshots.
	mu  sync.Mutex
	seq int64

	ClientID  string
	ProjectID string
	Author    string
}

// New mounts a viewer on store for conn.
func New(conn *websocket.Conn, store *annotation.Store, opts Options) (*Session, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = DefaultWidth, DefaultHeight
	}
	if opts.Author == "" {
		opts.Author = annotation.DefaultAuthor
	}
	s := &Session{
		conn:      conn,
		store:     store,
		send:      make(chan []byte, 64),
		dirty:     make(chan struct{}, 1),
		ClientID:  typeid.NewSessionID(),
		ProjectID: store.ProjectID(),
		Author:    opts.Author,
	}

	v, err := engine.Mount(authoredSource{Store: store, author: opts.Author}, &engine.MemoryContainer{}, opts.Width, opts.Height, engine.ViewerOptions{
		Fetcher:       opts.Fetcher,
		RequestRender: s.markDirty,
		AutoLoad:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("mount viewer: %w", err)
	}
	s.viewer = v
	return s, nil
}

// Run greets the client, loads the active document and pumps messages
// until the connection closes. The viewer is unmounted on return.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.viewer.Unmount()
	}()

	payload, _ := json.Marshal(WelcomePayload{ClientID: s.ClientID, ProjectID: s.ProjectID, Author: s.Author})
	welcome, _ := json.Marshal(&Message{Type: TypeWelcome, Payload: payload})
	if err := s.write(ctx, welcome); err != nil {
		return
	}
	s.markDirty()

	go s.WritePump(ctx)
	go s.open(ctx, false)
	s.ReadPump(ctx)
}

func (s *Session) open(ctx context.Context, retry bool) {
	var err error
	if retry {
		err = s.viewer.Retry(ctx)
	} else {
		err = s.viewer.Open(ctx)
	}
	if err != nil && ctx.Err() == nil {
		s.sendError(err)
	}
}

func (s *Session) ReadPump(ctx context.Context) {
	defer s.conn.Close(websocket.StatusNormalClosure, "")

	s.conn.SetReadLimit(maxMsgSize)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return
			}
			slog.Debug("read error", "error", err, "client", s.ClientID)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid message", "error", err, "client", s.ClientID)
			s.sendError(fmt.Errorf("invalid message: %w", err))
			continue
		}

		if err := s.Handle(ctx, &msg); err != nil {
			s.sendError(err)
		}
	}
}

func (s *Session) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-s.send:
			if err := s.write(ctx, message); err != nil {
				return
			}

		case <-s.dirty:
			data, err := s.frame()
			if err != nil {
				slog.Error("marshal frame", "error", err)
				continue
			}
			if err := s.write(ctx, data); err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) write(ctx context.Context, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := s.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("write error", "error", err, "client", s.ClientID)
		return err
	}
	return nil
}

// Handle applies one client command to the viewer.
func (s *Session) Handle(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Seq > s.seq {
		s.seq = msg.Seq
	}
	defer s.markDirty()

	v := s.viewer
	switch msg.Type {
	case TypeResize:
		p, err := decode[SizePayload](msg.Payload)
		if err != nil {
			return err
		}
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("resize: invalid size %gx%g", p.Width, p.Height)
		}
		v.Resize(p.Width, p.Height)
	case TypeOpen:
		go s.open(ctx, false)
	case TypeRetry:
		go s.open(ctx, true)
	case TypeZoomIn:
		v.ZoomIn()
	case TypeZoomOut:
		v.ZoomOut()
	case TypeRotate:
		v.Rotate()
	case TypeResetView:
		v.ResetView()
	case TypeTogglePlacing:
		v.TogglePlacing()
	case TypeTogglePanning:
		v.TogglePanning()
	case TypeCancelMode:
		v.CancelMode()
	case TypePointerDown, TypePointerMove:
		p, err := decode[PointerPayload](msg.Payload)
		if err != nil {
			return err
		}
		if msg.Type == TypePointerDown {
			v.PointerDown(p.X, p.Y)
		} else {
			v.PointerMove(p.X, p.Y)
		}
	case TypePointerUp:
		v.PointerUp()
	case TypeSelectDocument:
		p, err := decode[SelectPayload](msg.Payload)
		if err != nil {
			return err
		}
		return s.store.SelectDocument(p.ID)
	case TypeSelectMarker:
		p, err := decode[SelectPayload](msg.Payload)
		if err != nil {
			return err
		}
		return s.store.SelectAnnotation(p.ID)
	case TypeHideResolved:
		p, err := decode[HideResolvedPayload](msg.Payload)
		if err != nil {
			return err
		}
		v.SetHideResolved(p.Hide)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Type)
	}
	return nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("invalid payload: %w", err)
	}
	return v, nil
}

func (s *Session) frame() ([]byte, error) {
	s.mu.Lock()
	f := s.viewer.Frame()
	seq := s.seq
	s.mu.Unlock()

	payload, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{Type: TypeFrame, Seq: seq, Payload: payload})
}

// markDirty asks the writer for a fresh frame. Requests coalesce.
func (s *Session) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Session) sendError(err error) {
	payload, _ := json.Marshal(ErrorPayload{Message: err.Error()})
	s.enqueue(&Message{Type: TypeError, Payload: payload})
}

func (s *Session) enqueue(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal message", "error", err)
		return
	}

	select {
	case s.send <- data:
	default:
		slog.Warn("session send buffer full, dropping message", "client", s.ClientID)
	}
}

// Close ends the session with status.
func (s *Session) Close(status websocket.StatusCode, reason string) {
	s.conn.Close(status, reason)
}
