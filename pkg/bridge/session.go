// Package bridge runs per-call sessions that splice a Telco media stream
// WebSocket to an Agent conversation WebSocket.
//
// Each session is a small state machine. The two external events that
// gate readiness, the agent socket opening and the Telco start frame,
// arrive in arbitrary order; audio flowing before readiness is buffered
// and drained in order. The init handshake is sent exactly once when
// both sides are up.
package bridge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/brightcall/voicebridge/pkg/agent"
	"github.com/brightcall/voicebridge/pkg/amd"
	"github.com/brightcall/voicebridge/pkg/telco"
	"github.com/brightcall/voicebridge/pkg/trace"
)

// State is the session lifecycle state.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateAgentReady
	StateTelcoStarted
	StateReady
	StateClosing
	StateFailed
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateAgentReady:
		return "agent_ready"
	case StateTelcoStarted:
		return "telco_started"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	case StateTerminal:
		return "terminal"
	}
	return "unknown"
}

const (
	// agentOpenTimeout bounds how long a started stream waits for the
	// agent socket before the session fails.
	agentOpenTimeout = 3 * time.Second

	// voicemailTimeout forcibly ends voicemail delivery if the agent
	// never tool-calls to finish.
	voicemailTimeout = 30 * time.Second

	// greetingMark names the playout checkpoint queued behind a
	// pre-rendered greeting.
	greetingMark = "precached-greeting"
)

// AgentConn is the agent leg as the session sees it.
type AgentConn interface {
	Events() <-chan *agent.ServerEvent
	SendInit(*agent.InitMessage) error
	SendAudioChunk(b64 string) error
	SendPong(eventID int) error
	SendToolResult(*agent.ToolResult) error
	Close() error
	Closed() bool
}

// TelcoConn is the telephony leg as the session sees it.
type TelcoConn interface {
	ReadEvent() (*telco.MediaMessage, error)
	SendMedia(streamSid, payload string) error
	SendClear(streamSid string) error
	SendMark(streamSid, name string) error
	Close() error
	CloseWithInternalError() error
}

// URLSource mints or pops a signed agent WebSocket URL.
type URLSource interface {
	GetURL(ctx context.Context) (string, error)
}

// DialFunc opens the agent WebSocket from a signed URL.
type DialFunc func(ctx context.Context, signedURL string) (AgentConn, error)

// ToolDispatcher executes agent tool calls.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call *agent.ToolCallRequest) agent.ToolResult
}

// AMDLookup consumes a stored answering-machine classification.
type AMDLookup interface {
	Take(callSid string) (amd.Classification, bool)
}

// CallFinalizer completes the Telco call. Must be idempotent.
type CallFinalizer interface {
	EndCall(callSid string) error
}

// GreetingSource returns pre-rendered greeting audio, if any.
type GreetingSource interface {
	Get(name string) (string, bool)
}

// Config wires a session's collaborators.
type Config struct {
	Telco     TelcoConn
	URLs      URLSource
	Dial      DialFunc
	Tools     ToolDispatcher
	AMD       AMDLookup
	Finalizer CallFinalizer
	Greetings GreetingSource
	Direction string
}

// Session bridges one call. All mutable state is guarded by mu; the two
// read loops (Telco and Agent) are the only long-lived goroutines.
type Session struct {
	id    string
	telco TelcoConn
	urls  URLSource
	dial  DialFunc
	tools ToolDispatcher
	amd   AMDLookup
	final CallFinalizer
	greet GreetingSource

	mu        sync.Mutex
	state     State
	agentConn AgentConn
	streamSid string
	callSid   string
	direction string
	mode      string
	info      callInfo

	agentOpen    bool
	telcoStarted bool
	initSent     bool
	finalized    bool

	inbound  frameBuffer // Telco → Agent, while agent not open
	outbound frameBuffer // Agent → Telco, while streamSid unknown

	initSentAt       time.Time
	firstAgentAudio  time.Time
	voicemailTimer   *time.Timer
	agentOpenTimer   *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates a session for one accepted Telco WebSocket. Run
// must be called to start it.
func NewSession(cfg Config) *Session {
	dial := cfg.Dial
	if dial == nil {
		dial = func(ctx context.Context, signedURL string) (AgentConn, error) {
			return agent.Dial(ctx, signedURL)
		}
	}
	return &Session{
		id:        uuid.NewString(),
		telco:     cfg.Telco,
		urls:      cfg.URLs,
		dial:      dial,
		tools:     cfg.Tools,
		amd:       cfg.AMD,
		final:     cfg.Finalizer,
		greet:     cfg.Greetings,
		direction: cfg.Direction,
		state:     StateNew,
		mode:      ModeLive,
		done:      make(chan struct{}),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// CallSid returns the Telco call id, or "" before start.
func (s *Session) CallSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSid
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns "live" or "voicemail".
func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// InitToFirstAudio reports the latency between the init handshake and
// the first agent audio frame, if both happened.
func (s *Session) InitToFirstAudio() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initSentAt.IsZero() || s.firstAgentAudio.IsZero() {
		return 0, false
	}
	return s.firstAgentAudio.Sub(s.initSentAt), true
}

// Done is closed when the session reaches Terminal.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run drives the session until both legs are closed. It blocks for the
// lifetime of the call.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.state = StateConnecting
	s.mu.Unlock()

	ctx, span := trace.StartSpan(ctx, "bridge.Session")
	defer span.End()

	log.Printf("[Session %s] Started (%s)", s.id, s.direction)

	go s.connectAgent(ctx)
	s.telcoLoop(ctx)
	s.shutdown(false)

	<-s.done
	log.Printf("[Session %s] Finished", s.id)
}

// connectAgent acquires a signed URL, dials the agent, drains any audio
// buffered before open, then consumes agent events until the socket dies.
func (s *Session) connectAgent(ctx context.Context) {
	url, err := s.urls.GetURL(ctx)
	if err != nil {
		log.Printf("[Session %s] Signed URL acquisition failed: %v", s.id, err)
		s.shutdown(true)
		return
	}

	conn, err := s.dial(ctx, url)
	if err != nil {
		log.Printf("[Session %s] Agent dial failed: %v", s.id, err)
		s.shutdown(true)
		return
	}

	s.mu.Lock()
	if s.state == StateClosing || s.state == StateFailed || s.state == StateTerminal {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.agentConn = conn
	s.agentOpen = true
	if s.agentOpenTimer != nil {
		s.agentOpenTimer.Stop()
	}
	if s.telcoStarted {
		s.state = StateReady
	} else {
		s.state = StateAgentReady
	}
	s.sendInitLocked()
	for _, chunk := range s.inbound.drain() {
		if err := conn.SendAudioChunk(chunk); err != nil {
			log.Printf("[Session %s] Drain to agent failed: %v", s.id, err)
			break
		}
	}
	s.mu.Unlock()

	log.Printf("[Session %s] Agent connected", s.id)

	for event := range conn.Events() {
		s.handleAgentEvent(ctx, event)
	}

	// Agent side closed.
	s.shutdown(false)
}

// telcoLoop consumes Telco frames until the socket dies.
func (s *Session) telcoLoop(ctx context.Context) {
	for {
		msg, err := s.telco.ReadEvent()
		if err != nil {
			return
		}

		switch msg.Event {
		case telco.EventConnected:
			log.Printf("[Session %s] Telco connected (protocol %s)", s.id, msg.Protocol)
		case telco.EventStart:
			s.handleStart(ctx, msg.Start)
		case telco.EventMedia:
			s.handleMedia(msg.Media)
		case telco.EventStop:
			log.Printf("[Session %s] Telco stop", s.id)
			s.shutdown(false)
			return
		case telco.EventDTMF:
			if msg.DTMF != nil {
				log.Printf("[Session %s] DTMF digit %q", s.id, msg.DTMF.Digit)
			}
		case telco.EventMark:
			name := ""
			if msg.Mark != nil {
				name = msg.Mark.Name
			}
			trace.AddEvent(oteltrace.SpanFromContext(ctx), "telco.mark",
				attribute.String("mark.name", name))
			if name == greetingMark {
				log.Printf("[Session %s] Cached greeting finished playing", s.id)
			}
		default:
			log.Printf("[Session %s] Ignoring Telco event %q", s.id, msg.Event)
		}
	}
}

// handleStart binds the stream, consults AMD, drains buffered agent
// audio, and triggers the handshake. Duplicate starts are ignored.
func (s *Session) handleStart(ctx context.Context, start *telco.StartPayload) {
	if start == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.telcoStarted {
		log.Printf("[Session %s] Duplicate start for stream %s, ignoring", s.id, start.StreamSid)
		return
	}
	s.telcoStarted = true
	s.streamSid = start.StreamSid
	s.callSid = start.CallSid
	s.info = newCallInfo(s.direction, start.Parameters())

	span := oteltrace.SpanFromContext(ctx)
	span.SetAttributes(trace.CallAttrs(s.callSid, s.streamSid, s.direction)...)

	if s.amd != nil && s.callSid != "" {
		if classification, ok := s.amd.Take(s.callSid); ok && classification.IsMachine() {
			s.mode = ModeVoicemail
			s.armVoicemailWatchdogLocked()
			log.Printf("[Session %s] Call %s classified %s, voicemail mode", s.id, s.callSid, classification)
		}
	}

	if s.agentOpen {
		s.state = StateReady
	} else {
		s.state = StateTelcoStarted
		s.armAgentOpenWatchdogLocked()
	}

	log.Printf("[Session %s] Stream %s started for call %s (customer %q)",
		s.id, s.streamSid, s.callSid, s.info.name)

	s.sendInitLocked()
	s.playGreetingLocked()

	for _, payload := range s.outbound.drain() {
		if err := s.telco.SendMedia(s.streamSid, payload); err != nil {
			log.Printf("[Session %s] Drain to telco failed: %v", s.id, err)
			break
		}
	}
}

// handleMedia routes caller audio to the agent, or buffers it while the
// agent socket is still opening.
func (s *Session) handleMedia(media *telco.MediaPayload) {
	if media == nil || media.Payload == "" {
		return
	}

	s.mu.Lock()
	if !s.agentOpen {
		s.inbound.push(media.Payload)
		s.mu.Unlock()
		return
	}
	conn := s.agentConn
	err := conn.SendAudioChunk(media.Payload)
	s.mu.Unlock()

	if err != nil {
		if conn.Closed() {
			s.shutdown(false)
			return
		}
		// Transient write failure, drop the frame.
		log.Printf("[Session %s] Audio to agent dropped: %v", s.id, err)
	}
}

// handleAgentEvent routes one typed frame from the agent.
func (s *Session) handleAgentEvent(ctx context.Context, event *agent.ServerEvent) {
	if b64 := event.AudioBase64(); b64 != "" {
		s.handleAgentAudio(b64)
		return
	}

	switch event.Type {
	case agent.EventTypeInterruption:
		s.handleInterruption()
	case agent.EventTypePing:
		if err := s.agentSendPong(event.PingID()); err != nil {
			log.Printf("[Session %s] Pong failed: %v", s.id, err)
		}
	case agent.EventTypeClientToolCall:
		if event.ClientToolCall != nil {
			go s.handleToolCall(ctx, event.ClientToolCall)
		}
	case agent.EventTypeConversationMetadata:
		log.Printf("[Session %s] Conversation metadata received", s.id)
	case agent.EventTypeAgentResponse:
		if event.AgentResponse != nil {
			log.Printf("[Session %s] Agent: %s", s.id, event.AgentResponse.AgentResponse)
		}
	case agent.EventTypeUserTranscript:
		if event.UserTranscript != nil {
			log.Printf("[Session %s] Caller: %s", s.id, event.UserTranscript.UserTranscript)
		}
	case agent.EventTypeAudio, agent.EventTypeAudioEvent:
		// Audio frame with an empty payload; nothing to forward.
	default:
		log.Printf("[Session %s] Unhandled agent event %q", s.id, event.Type)
	}
}

func (s *Session) handleAgentAudio(b64 string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.firstAgentAudio.IsZero() {
		s.firstAgentAudio = time.Now()
	}

	if s.streamSid == "" {
		s.outbound.push(b64)
		return
	}
	if err := s.telco.SendMedia(s.streamSid, b64); err != nil {
		log.Printf("[Session %s] Audio to telco dropped: %v", s.id, err)
	}
}

// handleInterruption clears the Telco playout buffer and discards any
// audio we queued while waiting for the stream.
func (s *Session) handleInterruption() {
	s.mu.Lock()
	defer s.mu.Unlock()

	discarded := s.outbound.discard()
	if s.streamSid != "" {
		if err := s.telco.SendClear(s.streamSid); err != nil {
			log.Printf("[Session %s] Clear failed: %v", s.id, err)
		}
	}
	log.Printf("[Session %s] Interruption, discarded %d buffered frames", s.id, discarded)
}

// handleToolCall dispatches one tool call and returns its envelope. The
// end-call tools additionally drive session termination.
func (s *Session) handleToolCall(ctx context.Context, call *agent.ToolCallRequest) {
	result := s.tools.Dispatch(ctx, call)

	s.mu.Lock()
	conn := s.agentConn
	s.mu.Unlock()
	if conn != nil {
		if err := conn.SendToolResult(&result); err != nil {
			log.Printf("[Session %s] Tool result send failed: %v", s.id, err)
		}
	}

	switch call.ToolName {
	case "end_call", "end_voicemail_call":
		log.Printf("[Session %s] Agent requested %s", s.id, call.ToolName)
		s.shutdown(false)
	}
}

func (s *Session) agentSendPong(eventID int) error {
	s.mu.Lock()
	conn := s.agentConn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.SendPong(eventID)
}

// sendInitLocked sends the handshake once both legs are ready. Caller
// holds mu. A send failure leaves initSent false so the next readiness
// transition retries.
func (s *Session) sendInitLocked() {
	if s.initSent || !s.agentOpen || !s.telcoStarted {
		return
	}

	msg := agent.NewInitMessage(
		agentOverride(s.mode, s.info),
		dynamicVariables(s.info, time.Now()),
	)
	if err := s.agentConn.SendInit(msg); err != nil {
		log.Printf("[Session %s] Init send failed: %v", s.id, err)
		return
	}
	s.initSent = true
	s.initSentAt = time.Now()
	log.Printf("[Session %s] Init sent (mode %s)", s.id, s.mode)
}

// playGreetingLocked plays a pre-rendered greeting while the agent spins
// up its first utterance. Caller holds mu.
func (s *Session) playGreetingLocked() {
	if s.greet == nil || s.mode != ModeLive || s.streamSid == "" || s.info.name == "" {
		return
	}
	payload, ok := s.greet.Get(s.info.name)
	if !ok {
		return
	}
	if err := s.telco.SendMedia(s.streamSid, payload); err != nil {
		log.Printf("[Session %s] Cached greeting send failed: %v", s.id, err)
		return
	}
	// Mark callback reports when the greeting has actually played out.
	if err := s.telco.SendMark(s.streamSid, greetingMark); err != nil {
		log.Printf("[Session %s] Greeting mark failed: %v", s.id, err)
	}
	log.Printf("[Session %s] Played cached greeting for %q", s.id, s.info.name)
}

// NotifyMachineAnswer handles an AMD classification that arrives after
// the stream already started. If the handshake has not gone out yet the
// session flips to voicemail mode; either way the delivery watchdog arms
// so a machine-answered call cannot run unbounded.
func (s *Session) NotifyMachineAnswer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeVoicemail {
		return
	}
	if !s.initSent {
		s.mode = ModeVoicemail
	}
	s.armVoicemailWatchdogLocked()
	log.Printf("[Session %s] Late machine classification for call %s", s.id, s.callSid)
}

// armAgentOpenWatchdogLocked fails the session if the agent socket is
// still not open agentOpenTimeout after the stream started.
func (s *Session) armAgentOpenWatchdogLocked() {
	s.agentOpenTimer = time.AfterFunc(agentOpenTimeout, func() {
		s.mu.Lock()
		open := s.agentOpen
		s.mu.Unlock()
		if !open {
			log.Printf("[Session %s] Agent not open within %s, failing", s.id, agentOpenTimeout)
			s.shutdown(true)
		}
	})
}

// armVoicemailWatchdogLocked bounds voicemail delivery. Re-arming stops
// the previous timer; status callbacks can repeat for the same call.
func (s *Session) armVoicemailWatchdogLocked() {
	if s.voicemailTimer != nil {
		s.voicemailTimer.Stop()
	}
	s.voicemailTimer = time.AfterFunc(voicemailTimeout, func() {
		log.Printf("[Session %s] Voicemail watchdog fired, closing", s.id)
		s.shutdown(false)
	})
}

// shutdown tears down both legs and finalizes the call, exactly once.
// failed selects the Telco close code: 1011 when the agent leg never
// came up, normal closure otherwise.
func (s *Session) shutdown(failed bool) {
	s.mu.Lock()
	// Failed counts as in-progress: closing the Telco socket below wakes
	// telcoLoop, whose own shutdown(false) must not run a second teardown.
	if s.state == StateTerminal || s.state == StateClosing || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	if failed {
		s.state = StateFailed
	} else {
		s.state = StateClosing
	}
	conn := s.agentConn
	callSid := s.callSid
	finalize := callSid != "" && !s.finalized
	s.finalized = true
	if s.voicemailTimer != nil {
		s.voicemailTimer.Stop()
	}
	if s.agentOpenTimer != nil {
		s.agentOpenTimer.Stop()
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if failed {
		s.telco.CloseWithInternalError()
	} else {
		s.telco.Close()
	}

	if finalize && s.final != nil {
		if err := s.final.EndCall(callSid); err != nil {
			log.Printf("[Session %s] Finalize call %s failed: %v", s.id, callSid, err)
		} else {
			log.Printf("[Session %s] Call %s finalized", s.id, callSid)
		}
	}

	s.mu.Lock()
	s.state = StateTerminal
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	close(s.done)
}
