package main

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/duplexa/duplexa/pkg/audio"
)

// maxClipDuration caps generated clips regardless of text length.
const maxClipDuration = 10 * time.Second

// requestFrame mirrors the client's synthesis request payload.
type requestFrame struct {
	ID       uint64 `json:"id"`
	Text     string `json:"text,omitempty"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
	Cancel   bool   `json:"cancel,omitempty"`
}

// responseFrame mirrors the client's synthesis response payload.
type responseFrame struct {
	ID    uint64 `json:"id"`
	Audio string `json:"audio,omitempty"`
	Error string `json:"error,omitempty"`
}

// Server is a WebSocket text-to-speech simulator. It answers every synthesis
// request with a tone clip whose length scales with the request text, after a
// configurable artificial latency. Cancel frames abort pending requests.
//
// The point is to exercise the full client pipeline (including barge-in and
// stale-response handling) without a real synthesis model.
type Server struct {
	// Latency is the simulated synthesis time per request.
	Latency time.Duration

	// Format is the PCM layout of generated clips.
	Format audio.Format

	// PerWord is the clip duration added per word of request text.
	PerWord time.Duration
}

// ServeHTTP upgrades the connection and services synthesis requests until
// the peer disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	slog.Info("client connected", "remote", r.RemoteAddr)
	s.serve(r.Context(), conn)
	slog.Info("client disconnected", "remote", r.RemoteAddr)
}

// serve runs the per-connection read loop.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	var (
		writeMu sync.Mutex
		pending sync.Map // request id -> context.CancelFunc
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req requestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("malformed request frame", "err", err)
			continue
		}

		if req.Cancel {
			if cancel, ok := pending.LoadAndDelete(req.ID); ok {
				cancel.(context.CancelFunc)()
				slog.Debug("request cancelled", "id", req.ID)
			}
			continue
		}

		reqCtx, cancel := context.WithCancel(ctx)
		pending.Store(req.ID, cancel)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pending.Delete(req.ID)
			defer cancel()
			s.handle(reqCtx, conn, &writeMu, req)
		}()
	}
}

// handle simulates synthesis latency, then answers req on conn.
func (s *Server) handle(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, req requestFrame) {
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return
		}
	}

	resp := responseFrame{ID: req.ID}
	if strings.TrimSpace(req.Text) == "" {
		resp.Error = "empty text"
	} else {
		wav := audio.EncodeWAV(s.tone(req), s.format())
		resp.Audio = base64.StdEncoding.EncodeToString(wav)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response", "id", req.ID, "err", err)
		return
	}

	writeMu.Lock()
	err = conn.Write(ctx, websocket.MessageText, data)
	writeMu.Unlock()
	if err != nil {
		slog.Debug("write response failed", "id", req.ID, "err", err)
		return
	}
	slog.Info("request answered",
		"id", req.ID, "voice", req.Voice, "words", len(strings.Fields(req.Text)))
}

func (s *Server) format() audio.Format {
	if s.Format.SampleRate > 0 {
		return s.Format
	}
	return audio.Format{SampleRate: 24000, Channels: 1}
}

// tone generates the reply clip: a fixed-frequency sine whose duration grows
// with the word count, so longer texts audibly take longer to play.
func (s *Server) tone(req requestFrame) []byte {
	perWord := s.PerWord
	if perWord <= 0 {
		perWord = 300 * time.Millisecond
	}
	dur := time.Duration(len(strings.Fields(req.Text))) * perWord
	if dur < perWord {
		dur = perWord
	}
	if dur > maxClipDuration {
		dur = maxClipDuration
	}

	format := s.format()
	// Vary pitch per voice name so different voices are distinguishable.
	freq := 440.0
	for _, c := range req.Voice {
		freq += float64(c%16) * 5
	}

	samples := int(int64(format.SampleRate) * int64(dur) / int64(time.Second))
	pcm := make([]byte, samples*format.Channels*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(format.SampleRate)))
		for ch := 0; ch < format.Channels; ch++ {
			binary.LittleEndian.PutUint16(pcm[(i*format.Channels+ch)*2:], uint16(v))
		}
	}
	return pcm
}
