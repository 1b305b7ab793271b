package protocol

import "encoding/json"

const ProtocolVersion = 3

// Frame types
const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"
)

// Methods
const (
	MethodConnect        = "connect"
	MethodChatSend       = "chat.send"
	MethodChatHistory    = "chat.history"
	MethodChatAbort      = "chat.abort"
	MethodSessionsList   = "sessions.list"
	MethodSessionsDelete = "sessions.delete"
	MethodSessionsReset  = "sessions.reset"
)

// Events
const (
	EventConnectChallenge = "connect.challenge"
	EventChat             = "chat"
	EventTick             = "tick"
)

// Client descriptor defaults for the control UI.
const (
	ClientIDControlUI = "openclaw-control-ui"
	ClientModeWebchat = "webchat"
	RoleOperator      = "operator"
)

// DefaultOperatorScopes is the scope list requested by the control UI.
var DefaultOperatorScopes = []string{"operator.admin", "operator.approvals", "operator.pairing"}

// Chat event states
const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateAborted = "aborted"
	ChatStateError   = "error"
)

// Error codes
const (
	ErrCodeUnknown        = "UNKNOWN"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotAuthorized  = "NOT_AUTHORIZED"
	ErrCodeNotPaired      = "NOT_PAIRED"
)

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code         string          `json:"code"`
	Message      string          `json:"message"`
	Details      json.RawMessage `json:"details,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
	RetryAfterMs int64           `json:"retryAfterMs,omitempty"`
}

type ConnectChallenge struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts,omitempty"`
}

type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Caps        []string    `json:"caps"`
	Device      *DeviceAuth `json:"device,omitempty"`
	Auth        ConnectAuth `json:"auth"`
	UserAgent   string      `json:"userAgent,omitempty"`
	Locale      string      `json:"locale,omitempty"`
}

type ClientInfo struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	Mode       string `json:"mode"`
	InstanceID string `json:"instanceId,omitempty"`
}

// DeviceAuth proves possession of the device key for one challenge.
type DeviceAuth struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce"`
}

// ConnectAuth is always sent, even with an empty token.
type ConnectAuth struct {
	Token string `json:"token"`
}

// HelloOK is the payload of a successful connect response.
type HelloOK struct {
	Type     string     `json:"type"`
	Protocol int        `json:"protocol"`
	Auth     *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	DeviceToken string   `json:"deviceToken,omitempty"`
	Role        string   `json:"role,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// ChatEvent is the payload of a "chat" event.
type ChatEvent struct {
	RunID        string          `json:"runId"`
	SessionKey   string          `json:"sessionKey"`
	Seq          int64           `json:"seq"`
	State        string          `json:"state"`
	Message      json.RawMessage `json:"message,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	Deliver        bool   `json:"deliver"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type ChatSendResult struct {
	RunID  string `json:"runId"`
	Status string `json:"status,omitempty"`
}

type ChatAbortParams struct {
	SessionKey string `json:"sessionKey"`
	RunID      string `json:"runId,omitempty"`
}

type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

type ChatHistoryResult struct {
	SessionKey    string            `json:"sessionKey,omitempty"`
	Messages      []json.RawMessage `json:"messages"`
	ThinkingLevel string            `json:"thinkingLevel,omitempty"`
}

// HistoryMessage is one transcript entry returned by chat.history.
type HistoryMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Text      string          `json:"text,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type SessionsListParams struct {
	IncludeGlobal  bool `json:"includeGlobal"`
	IncludeUnknown bool `json:"includeUnknown"`
	ActiveMinutes  int  `json:"activeMinutes,omitempty"`
	Limit          int  `json:"limit,omitempty"`
}

type SessionsListResult struct {
	TS       int64         `json:"ts,omitempty"`
	Count    int           `json:"count"`
	Sessions []SessionInfo `json:"sessions"`
}

type SessionInfo struct {
	Key          string `json:"key"`
	Kind         string `json:"kind,omitempty"`
	Label        string `json:"label,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	UpdatedAt    int64  `json:"updatedAt,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	Model        string `json:"model,omitempty"`
	InputTokens  int64  `json:"inputTokens,omitempty"`
	OutputTokens int64  `json:"outputTokens,omitempty"`
	TotalTokens  int64  `json:"totalTokens,omitempty"`
}

type SessionsDeleteParams struct {
	Key              string `json:"key"`
	DeleteTranscript bool   `json:"deleteTranscript"`
}

type SessionsResetParams struct {
	Key string `json:"key"`
}
