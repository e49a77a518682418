package parser

// Message is a best-effort JSON-RPC 2.0 record pulled out of one text payload.
// A nil field was not found (or could not be read); a pointer to "" means the
// key was present with an empty value.
type Message struct {
	Version      *string `json:"jsonrpc,omitempty"`
	Method       *string `json:"method,omitempty"`
	ID           *string `json:"id,omitempty"`
	Params       *string `json:"params,omitempty"`
	Result       *string `json:"result,omitempty"`
	ErrorCode    *int32  `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	AgentID      *string `json:"agent_id,omitempty"`

	// Ciphertext, IV and RatchetHeader are only read when Encrypted is true.
	Encrypted     bool    `json:"encrypted"`
	Ciphertext    *string `json:"ciphertext,omitempty"`
	IV            *string `json:"iv,omitempty"`
	RatchetHeader *string `json:"ratchet_header,omitempty"`
}

// IsJSONRPC2 reports whether the version field is exactly "2.0".
func (m *Message) IsJSONRPC2() bool {
	return m.Version != nil && *m.Version == "2.0"
}

// MethodName returns the method or "".
func (m *Message) MethodName() string {
	return Value(m.Method)
}

// Code returns the error code or 0 when unset.
func (m *Message) Code() int32 {
	if m.ErrorCode == nil {
		return 0
	}
	return *m.ErrorCode
}

// Value dereferences an optional string field, returning "" for nil.
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
