package bridge

import "encoding/json"

// FrameType identifies the kind of frame sent over the bridge connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeHello    FrameType = "hello"
	FrameTypeEvent    FrameType = "event"
)

// Methods the runtime invokes on the attached client.
const (
	MethodLoadExtension      = "loadExtension"
	MethodIsLoaded           = "isLoaded"
	MethodRunExtensionMethod = "runExtensionMethod"
)

// Frame is the envelope exchanged between runtime and client.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`      // request/response correlation ID
	Method  string          `json:"method,omitempty"`  // request only
	Payload json.RawMessage `json:"payload,omitempty"` // request params, response result or hello info
	Error   string          `json:"error,omitempty"`   // response only
	// Code is the machine-readable error category (domain.ErrorCode) of Error.
	Code    string          `json:"code,omitempty"`
}

// Hello is the payload of the first frame a client sends.
type Hello struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

type loadPayload struct {
	ID     string `json:"id"`
	Source []byte `json:"source"` // base64 on the wire
}

type idPayload struct {
	ID string `json:"id"`
}

type runPayload struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}
