package event

// SessionData accompanies session lifecycle events.
type SessionData struct {
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId"`
	Topic     string `json:"topic,omitempty"`
}

// TurnData accompanies turn.started and turn.completed events.
type TurnData struct {
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId"`
	Success   bool   `json:"success,omitempty"`
}

// PermissionRequiredData accompanies permission.required events.
type PermissionRequiredData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Tool      string `json:"tool"`
}

// PermissionResolvedData accompanies permission.resolved events.
type PermissionResolvedData struct {
	ID      string `json:"id"`
	Granted bool   `json:"granted"`
	Auto    bool   `json:"auto,omitempty"`
	Expired bool   `json:"expired,omitempty"`
}

// UsageAlertData accompanies usage.alert events.
type UsageAlertData struct {
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId"`
	Threshold int    `json:"threshold"`
	Percent   int    `json:"percent"`
	Message   string `json:"message"`
}
