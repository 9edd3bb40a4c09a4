package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/drumseq/internal/audio"
	"github.com/satindergrewal/drumseq/internal/engine"
	"github.com/satindergrewal/drumseq/internal/wire"
)

// ControlLabel is the data channel label that carries commands and state.
const ControlLabel = "control"

// WebRTCHandler negotiates peers that control the sequencer over a data
// channel and optionally listen to the drum bus as Opus.
type WebRTCHandler struct {
	do     engine.Handler
	hub    *Hub
	frames *Broadcaster[[]int16] // nil disables the audio track
	log    *log.Logger

	mu    sync.Mutex
	peers map[string]*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC handler.
func NewWebRTCHandler(do engine.Handler, hub *Hub, frames *Broadcaster[[]int16], logger *log.Logger) *WebRTCHandler {
	return &WebRTCHandler{
		do:     do,
		hub:    hub,
		frames: frames,
		log:    logger.With("component", "webrtc"),
		peers:  make(map[string]*webrtc.PeerConnection),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close disconnects every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*webrtc.PeerConnection)
	h.mu.Unlock()
	for _, pc := range peers {
		_ = pc.Close()
	}
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}
	id := uuid.NewString()
	logger := h.log.With("peer", id)

	var audioTrack *webrtc.TrackLocalStaticSample
	if h.frames != nil {
		audioTrack, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio",
			"drumseq",
		)
		if err != nil {
			pc.Close()
			http.Error(w, "create audio track failed", http.StatusInternalServerError)
			return
		}
		if _, err := pc.AddTrack(audioTrack); err != nil {
			pc.Close()
			http.Error(w, "add track failed", http.StatusInternalServerError)
			return
		}
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ControlLabel {
			logger.Warn("ignoring data channel", "label", dc.Label())
			return
		}
		h.serveControl(dc, logger)
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}
	<-gatherComplete

	h.mu.Lock()
	h.peers[id] = pc
	h.mu.Unlock()

	logger.Info("peer connected", "total", h.PeerCount())

	peerCtx, cancel := context.WithCancel(context.Background())
	if audioTrack != nil {
		go h.streamToPeer(peerCtx, audioTrack, logger)
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			cancel()
			h.removePeer(id)
			pc.Close()
			logger.Info("peer disconnected", "remaining", h.PeerCount())
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// serveControl forwards hub events to dc and applies commands read from it.
func (h *WebRTCHandler) serveControl(dc *webrtc.DataChannel, logger *log.Logger) {
	var sub atomic.Pointer[Listener[Event]]

	dc.OnOpen(func() {
		l := h.hub.Subscribe()
		sub.Store(l)
		go func() {
			for ev := range l.C {
				if err := dc.SendText(string(ev.JSON)); err != nil {
					logger.Debug("control send", "err", err)
					h.hub.Unsubscribe(l)
					return
				}
			}
		}()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		cmd, err := wire.DecodeCommand(msg.Data)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
			err = h.do(ctx, cmd)
			cancel()
		}
		if err == nil {
			return
		}
		data, eerr := wire.EncodeError(err)
		if eerr != nil {
			return
		}
		if err := dc.SendText(string(data)); err != nil {
			logger.Debug("control send", "err", err)
		}
	})

	dc.OnClose(func() {
		if l := sub.Load(); l != nil {
			h.hub.Unsubscribe(l)
		}
	})
}

func (h *WebRTCHandler) streamToPeer(ctx context.Context, track *webrtc.TrackLocalStaticSample, logger *log.Logger) {
	listener := h.frames.Subscribe()
	defer h.frames.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		logger.Error("opus encoder", "err", err)
		return
	}
	enc.SetBitrate(128000)

	opusBuf := make([]byte, 4000)
	for {
		var frame []int16
		select {
		case <-ctx.Done():
			return
		case f, ok := <-listener.C:
			if !ok {
				return
			}
			frame = f
		}
		n, err := enc.Encode(frame, opusBuf)
		if err != nil {
			logger.Warn("opus encode", "err", err)
			continue
		}
		if err := track.WriteSample(media.Sample{
			Data:     opusBuf[:n],
			Duration: audio.FrameDuration,
		}); err != nil {
			return
		}
	}
}

func (h *WebRTCHandler) removePeer(id string) {
	h.mu.Lock()
	delete(h.peers, id)
	h.mu.Unlock()
}
