// Command peer is a headless call participant: it joins a user's room,
// optionally places or auto-answers one call, and logs what happens.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/dkeye/Pulse/internal/adapters/rtc"
	"github.com/dkeye/Pulse/internal/adapters/wsclient"
	"github.com/dkeye/Pulse/internal/call"
	"github.com/dkeye/Pulse/internal/config"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/media"
)

// options are the command line settings of one peer run.
type options struct {
	ServerURL   string
	User        string
	Target      string
	AutoAnswer  bool
	Camera      bool
	Microphone  bool
	STUNURLs    []string
	RingTimeout time.Duration
	Message     string
	Debug       bool
}

// parseFlags reads args; the call section of the config supplies the STUN
// and ring timeout defaults.
func parseFlags(fs *flag.FlagSet, args []string, defaults config.CallConfig) (options, error) {
	var o options
	fs.StringVarP(&o.ServerURL, "server", "s", "ws://localhost:8080/socket", "hub websocket URL")
	fs.StringVarP(&o.User, "user", "u", "", "user id to join as")
	fs.StringVarP(&o.Target, "call", "c", "", "user id to call after joining")
	fs.BoolVarP(&o.AutoAnswer, "auto-answer", "a", false, "accept incoming calls")
	fs.BoolVar(&o.Camera, "video", true, "offer a video track")
	fs.BoolVar(&o.Microphone, "audio", true, "offer an audio track")
	fs.StringSliceVar(&o.STUNURLs, "stun", defaults.STUNURLs, "STUN server URLs")
	fs.DurationVar(&o.RingTimeout, "ring-timeout", defaults.RingTimeout, "give up on unanswered calls after this long")
	fs.StringVarP(&o.Message, "message", "m", "", "chat message to send to --call target")
	fs.BoolVar(&o.Debug, "debug", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.User == "" {
		return options{}, errors.New("--user is required")
	}
	return o, nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	opts, err := parseFlags(flag.NewFlagSet("peer", flag.ExitOnError), os.Args[1:], cfg.Call)
	if err != nil {
		log.Fatal().Err(err).Msg("flags")
	}
	if opts.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	factory, err := rtc.NewFactory(rtc.Configuration(opts.STUNURLs))
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc setup")
	}

	client, err := wsclient.Dial(ctx, opts.ServerURL, domain.UserID(opts.User), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}

	sinks := newSinks(ctx)
	ringing := make(chan domain.ConnID, 1)
	ctl := call.NewController(call.Options{
		Signaler: client,
		Peers: func() (call.PeerConnection, error) {
			return factory.New()
		},
		Media:       media.HeadlessSource{Camera: opts.Camera, Microphone: opts.Microphone},
		RingTimeout: opts.RingTimeout,
		OnStateChange: func(s call.State) {
			log.Info().Str("module", "peer").Str("state", s.String()).Msg("call state")
		},
		OnIncoming: func(from domain.ConnID) {
			log.Info().Str("module", "peer").Str("from", string(from)).Msg("incoming call")
			select {
			case ringing <- from:
			default:
			}
		},
		OnRemoteTrack: sinks.attach,
		OnEnded: func(r call.EndReason) {
			log.Info().Str("module", "peer").Str("reason", string(r)).Msg("call ended")
			sinks.stop()
		},
	})
	client.OnEvent(ctl.HandleEvent)
	client.OnEvent(logChat)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ringing:
				if !opts.AutoAnswer {
					continue
				}
				if err := ctl.AcceptCall(ctx); err != nil {
					log.Error().Err(err).Str("module", "peer").Msg("accept failed")
				}
			}
		}
	}()

	if opts.Target != "" {
		go func() {
			// Give the join a moment to land before the hub routes our events.
			time.Sleep(200 * time.Millisecond)
			if opts.Message != "" {
				if err := client.SendMessage(domain.UserID(opts.Target), opts.Message); err != nil {
					log.Error().Err(err).Str("module", "peer").Msg("send message")
				}
			}
			if err := ctl.CallUser(ctx, domain.UserID(opts.Target)); err != nil {
				log.Error().Err(err).Str("module", "peer").Str("to", opts.Target).Msg("call failed")
			}
		}()
	}

	if err := client.Run(ctx); err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("connection lost")
	}
	ctl.HangUp()
	log.Info().Str("module", "peer").Msg("bye")
}

func logChat(env domain.Envelope) {
	switch env.Event {
	case domain.EventReceiveMessage:
		var m domain.Message
		if err := json.Unmarshal(env.Data, &m); err == nil {
			log.Info().Str("module", "peer").Str("from", string(m.SenderID)).Str("content", m.Content).Msg("message")
		}
	case domain.EventMessageSent:
		var s domain.MessageSent
		if err := json.Unmarshal(env.Data, &s); err == nil {
			log.Info().Str("module", "peer").Str("id", s.MessageID).Str("status", s.Status).Msg("message sent")
		}
	case domain.EventMessageError:
		var e domain.MessageError
		if err := json.Unmarshal(env.Data, &e); err == nil {
			log.Warn().Str("module", "peer").Str("error", e.Error).Msg("message failed")
		}
	}
}

// sinks drains the remote tracks of the current call.
type sinks struct {
	root context.Context

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	active []*media.Sink
}

func newSinks(ctx context.Context) *sinks { return &sinks{root: ctx} }

func (s *sinks) attach(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.mu.Lock()
	if s.cancel == nil {
		s.ctx, s.cancel = context.WithCancel(s.root)
	}
	ctx := s.ctx
	sink := media.NewSink(track.Kind().String(), track.ID())
	s.active = append(s.active, sink)
	s.mu.Unlock()

	go sink.Drain(ctx, track)
}

func (s *sinks) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sink := range s.active {
		log.Info().Str("module", "peer").Str("kind", sink.Kind).Uint64("packets", sink.Packets()).Uint64("bytes", sink.Bytes()).Msg("remote track stats")
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = nil, nil
	s.active = nil
}
