package signal

import (
	"errors"
	"io"
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// pliInterval is how often a keyframe is requested from the remote sender
// while its track is live.
const pliInterval = 3 * time.Second

// NewCodecSelector builds the VP8+Opus selector the session uses for
// outbound media. The composite pipeline's OutputTrack wants the same
// selector so the encoder matches what was negotiated.
func NewCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// NewMediaLink builds a Pion-backed PeerLink. selector may be nil for a
// receive-only link; tracks are the local media to send (typically the
// composite pipeline's output track).
func NewMediaLink(cfg Config, selector *mediadevices.CodecSelector, tracks []webrtc.TrackLocal, ev Events) (PeerLink, error) {
	cfg = cfg.withDefaults()

	mediaEngine := &webrtc.MediaEngine{}
	if selector != nil {
		selector.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts so a brief NAT or relay hiccup does not tear
	// the session down. The 5 s default disconnectedTimeout is too short
	// for paths that blip during re-keying or failover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: cfg.ICEServers}},
	})
	if err != nil {
		return nil, err
	}

	for _, t := range tracks {
		if _, err := pc.AddTrack(t); err != nil {
			pc.Close()
			return nil, err
		}
	}
	if len(tracks) == 0 {
		// Receive-only: advertise recvonly transceivers so the peer still
		// sends even though this side has nothing to offer.
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, err
			}
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Printf("SIGNAL: remote %s track %s", track.Kind(), track.ID())
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go pliLoop(pc, track.SSRC())
		}
		if ev.RemoteTrack != nil {
			ev.RemoteTrack(track, receiver)
		}
	})

	return &pionLink{pc: pc}, nil
}

// pliLoop asks the remote sender for keyframes until the connection dies.
// Without periodic PLIs a lost keyframe can freeze decode for a long time.
func pliLoop(pc *webrtc.PeerConnection, ssrc webrtc.SSRC) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for range ticker.C {
		err := pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
		})
		if err != nil {
			return
		}
	}
}

// ForwardTrack pumps RTP packets from a remote track into a local static
// RTP track until the remote side stops sending. Returns nil on clean EOF.
func ForwardTrack(remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP) error {
	buf := make([]byte, 1500)
	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			return err
		}
		if err := local.WriteRTP(&pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return err
		}
	}
}

// pionLink adapts *webrtc.PeerConnection to the PeerLink interface.
type pionLink struct {
	pc *webrtc.PeerConnection
}

func (l *pionLink) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	return l.pc.CreateOffer(opts)
}

func (l *pionLink) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

func (l *pionLink) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sdp)
}

func (l *pionLink) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

func (l *pionLink) AddICECandidate(c webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(c)
}

func (l *pionLink) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		f(c.ToJSON())
	})
}

func (l *pionLink) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	l.pc.OnConnectionStateChange(f)
}

func (l *pionLink) Close() error { return l.pc.Close() }
