package hub

import "encoding/json"

// Event names exchanged over the realtime channel. Inbound and outbound
// frames share one envelope shape.
const (
	EventSetName           = "set_name"
	EventMessage           = "message"
	EventMessageAck        = "message_ack"
	EventUpdateOnlineCount = "update_online_count"
	EventPlayAudio         = "play_audio"
	EventPlayAudio2        = "play_audio_2"
	EventPlayAudio3        = "play_audio_3"
	EventPlayAudio4        = "play_audio_4"
)

// Envelope frames every event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SetNamePayload carries a client's chosen display name.
type SetNamePayload struct {
	Name string `json:"name"`
}

// ChatPayload carries an inbound chat message together with the sender's
// stable user id, used only to exclude the sender from push delivery.
type ChatPayload struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// MessageBody is the broadcast form of a chat message.
type MessageBody struct {
	User    string `json:"user"`
	Content string `json:"content"`
}

// MessagePayload wraps the broadcast body, matching the page script's shape.
type MessagePayload struct {
	Message MessageBody `json:"message"`
}

// CountPayload carries the current online-user count.
type CountPayload struct {
	Count int `json:"count"`
}

// AckPayload confirms to the sender that notification dispatch completed.
type AckPayload struct {
	Message string `json:"message"`
}

func encodeEvent(event string, payload any) ([]byte, error) {
	envelope := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		envelope.Data = data
	}
	return json.Marshal(envelope)
}
