package controlsocket

import "encoding/json"

// ProtocolVersion is the only envelope version this server accepts.
const ProtocolVersion = 1

// Envelope is one control-socket request frame: `{v,id,cmd,payload}`.
type Envelope struct {
	V       int             `json:"v"`
	ID      string          `json:"id"`
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorInfo is a structured command failure: the user-visible
// `{code, message, journal_height?, manifest_hash?}` query error shape.
type ErrorInfo struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	JournalHeight  *uint64 `json:"journal_height,omitempty"`
	ManifestHash   string  `json:"manifest_hash,omitempty"`
}

// Response is one control-socket reply frame: `{ok, result?, error?}`.
type Response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
}

func okResponse(id string, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{ID: id, OK: true, Result: raw}, nil
}

func errResponse(id, code, message string) *Response {
	return &Response{ID: id, OK: false, Error: &ErrorInfo{Code: code, Message: message}}
}
