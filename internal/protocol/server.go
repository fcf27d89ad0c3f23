package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/clrdbg/clrdbg-mcp/internal/engine"
	"github.com/clrdbg/clrdbg-mcp/internal/model"
)

// Server frames requests/responses as newline-delimited JSON over r/w,
// the same read-dispatch-write shape as the teacher's
// DebuggerIdeCmdLoop (ReadString up to a delimiter, dispatchIdeRequest,
// write the framed reply) with DBGp's null-delimited length-prefixed
// XML packets replaced by one JSON object per line. A second goroutine
// drains Engine.Events() and writes each as a Notification line,
// mirroring the teacher's GdbNotifications toggle made unconditional
// (the protocol's whole purpose is pushing those events onward).
type Server struct {
	r    *bufio.Reader
	w    io.Writer
	wmu  sync.Mutex // serializes writes between the request loop and the notification pump
	disp *Dispatcher
	log  *zap.SugaredLogger
}

// NewServer wires a Server over r/w using disp to handle requests.
func NewServer(r io.Reader, w io.Writer, disp *Dispatcher, logger *zap.SugaredLogger) *Server {
	return &Server{r: bufio.NewReader(r), w: w, disp: disp, log: logger}
}

// Serve runs the request loop until r reaches EOF or ctx is canceled,
// and concurrently pumps engine events out as notifications. It
// returns nil on a clean EOF (the caller disconnected stdin).
func (s *Server) Serve(ctx context.Context, eng *engine.Engine) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		s.pumpNotifications(ctx, eng)
	}()

	err := s.requestLoop(ctx)
	cancel()
	<-notifyDone
	return err
}

func (s *Server) requestLoop(ctx context.Context) error {
	for {
		line, err := s.r.ReadString('\n')
		if len(line) > 0 {
			var req Request
			if jsonErr := json.Unmarshal([]byte(line), &req); jsonErr != nil {
				s.writeResponse(errResult("malformed request: " + jsonErr.Error()))
			} else {
				resp := s.disp.Dispatch(ctx, req)
				s.writeResponse(resp)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (s *Server) pumpNotifications(ctx context.Context, eng *engine.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eng.Events():
			if !ok {
				return
			}
			if ev.Kind == model.EventBreakpointHit && s.disp.metrics != nil {
				s.disp.metrics.RecordBreakpointHit(true)
			}
			s.writeNotification(ev)
		}
	}
}

func (s *Server) writeResponse(resp Response) {
	s.writeLine(resp)
}

func (s *Server) writeNotification(ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Warnw("failed to marshal event", "err", err)
		return
	}
	s.writeLine(Notification{Event: string(ev.Kind), Data: data})
}

func (s *Server) writeLine(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Errorw("failed to marshal protocol message", "err", err)
		return
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.w.Write(b)
	s.w.Write([]byte("\n"))
}
