package domain

// Event names carried over the per-user realtime channel. The hub emits the
// server->client set; clients send the client->server set.
const (
	// client -> server
	EventInitiateCall   = "initiate-call"
	EventAnswerCall     = "answer-call"
	EventDeclineCall    = "decline-call"
	EventEndCall        = "end-call"
	EventICECandidate   = "ice-candidate"
	EventQualityUpdate  = "call-quality-update"
	EventToggleAudio    = "toggle-audio"
	EventToggleVideo    = "toggle-video"
	EventScreenShareOn  = "start-screen-share"
	EventScreenShareOff = "stop-screen-share"
	EventSendMessage    = "send-message"

	// server -> client
	EventIncomingCall       = "incoming-call"
	EventCallRinging        = "call-ringing"
	EventCallAnswered       = "call-answered"
	EventCallConnected      = "call-connected"
	EventCallDeclined       = "call-declined"
	EventCallEnded          = "call-ended"
	EventCallTimeout        = "call-timeout"
	EventCallError          = "call-error"
	EventPeerQuality        = "peer-quality-update"
	EventPeerAudioToggle    = "peer-audio-toggle"
	EventPeerVideoToggle    = "peer-video-toggle"
	EventPeerScreenShareOn  = "peer-screen-share-started"
	EventPeerScreenShareOff = "peer-screen-share-stopped"
	EventNewMessage         = "new-message"
)

// ControlKind identifies an auxiliary in-call signal relayed between the two
// parties of a live call. None of these change session state except
// ControlQualityReport, which updates the stored diagnostics.
type ControlKind string

const (
	ControlAudioToggle    ControlKind = "audio-toggle"
	ControlVideoToggle    ControlKind = "video-toggle"
	ControlScreenShareOn  ControlKind = "screen-share-start"
	ControlScreenShareOff ControlKind = "screen-share-stop"
	ControlQualityReport  ControlKind = "quality-report"
)

// peerEventFor maps a control kind to the event name delivered to the peer.
var peerEventFor = map[ControlKind]string{
	ControlAudioToggle:    EventPeerAudioToggle,
	ControlVideoToggle:    EventPeerVideoToggle,
	ControlScreenShareOn:  EventPeerScreenShareOn,
	ControlScreenShareOff: EventPeerScreenShareOff,
	ControlQualityReport:  EventPeerQuality,
}

// PeerEvent returns the channel event name the peer receives for this control
// kind, and false for unknown kinds.
func (k ControlKind) PeerEvent() (string, bool) {
	ev, ok := peerEventFor[k]
	return ev, ok
}
