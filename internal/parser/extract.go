// Package parser extracts JSON-RPC 2.0 fields from MCP text payloads.
//
// Extraction is a tolerant substring scan, not a JSON parse. Each field is
// located independently from the start of the payload, so duplicate keys
// resolve to their first textual occurrence. Known limitations, kept on purpose:
//   - string values end at the next '"' (escaped quotes end them early);
//   - object values are brace-balanced without regard to string literals;
//   - only spaces and tabs may separate ':' from the value;
//   - "code" and "message" are matched anywhere, not only inside "error".
package parser

import (
	"math"
	"strings"
)

// Quoted keys as they appear in the payload.
const (
	keyVersion       = `"jsonrpc"`
	keyMethod        = `"method"`
	keyID            = `"id"`
	keyParams        = `"params"`
	keyResult        = `"result"`
	keyCode          = `"code"`
	keyMessage       = `"message"`
	keyEncrypted     = `"encrypted"`
	keyCiphertext    = `"ciphertext"`
	keyIV            = `"iv"`
	keyRatchetHeader = `"ratchet_header"`
	keyAgentID       = `"agentId"`
	keyAgentIDAlt    = `"agent_id"`
)

// Extract scans text for the known JSON-RPC and MCP fields. It never fails;
// anything missing or unreadable is left unset. Scanning stops at the first
// NUL byte.
func Extract(text string) *Message {
	if i := strings.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}

	m := &Message{
		Version:      stringField(text, keyVersion),
		Method:       stringField(text, keyMethod),
		ID:           idField(text),
		Params:       objectField(text, keyParams),
		Result:       objectField(text, keyResult),
		ErrorCode:    codeField(text),
		ErrorMessage: stringField(text, keyMessage),
	}

	if m.Params != nil {
		m.AgentID = agentID(*m.Params)
	}

	if boolField(text, keyEncrypted) {
		m.Encrypted = true
		m.Ciphertext = stringField(text, keyCiphertext)
		m.IV = stringField(text, keyIV)
		m.RatchetHeader = objectField(text, keyRatchetHeader)
	}

	return m
}

// LookupString returns the first string value stored under name in text,
// using the same scanning rules as Extract.
func LookupString(text, name string) *string {
	return stringField(text, `"`+name+`"`)
}

// agentID looks for "agentId" and only falls back to "agent_id" when the
// first spelling does not occur at all. An empty identifier is absent.
func agentID(params string) *string {
	key := keyAgentID
	if !strings.Contains(params, key) {
		key = keyAgentIDAlt
	}
	id := stringField(params, key)
	if id == nil || *id == "" {
		return nil
	}
	return id
}

// valueStart returns the index of the value belonging to the first
// occurrence of key: past the next ':' and any spaces or tabs. It returns -1
// when the key or the colon is missing, and len(text) when nothing follows.
func valueStart(text, key string) int {
	i := strings.Index(text, key)
	if i < 0 {
		return -1
	}
	i += len(key)

	colon := strings.IndexByte(text[i:], ':')
	if colon < 0 {
		return -1
	}
	i += colon + 1

	for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
		i++
	}
	return i
}

func stringField(text, key string) *string {
	i := valueStart(text, key)
	if i < 0 || i >= len(text) || text[i] != '"' {
		return nil
	}
	return quoted(text, i)
}

// quoted returns the text between the quote at i and the next quote.
func quoted(text string, i int) *string {
	end := strings.IndexByte(text[i+1:], '"')
	if end < 0 {
		return nil
	}
	v := text[i+1 : i+1+end]
	return &v
}

func objectField(text, key string) *string {
	i := valueStart(text, key)
	if i < 0 || i >= len(text) || text[i] != '{' {
		return nil
	}
	return balanced(text, i)
}

// balanced returns the object starting at the '{' at i through its matching
// '}', or nil when the depth never returns to zero.
func balanced(text string, i int) *string {
	depth := 0
	for j := i; j < len(text); j++ {
		switch text[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				v := text[i : j+1]
				return &v
			}
		}
	}
	return nil
}

// idField reads a quoted id, or a numeric-looking id as its literal text up
// to the next ',' or '}'.
func idField(text string) *string {
	i := valueStart(text, keyID)
	if i < 0 || i >= len(text) {
		return nil
	}

	switch c := text[i]; {
	case c == '"':
		return quoted(text, i)
	case isDigit(c) || c == '-':
		end := i
		for end < len(text) && text[end] != ',' && text[end] != '}' {
			end++
		}
		v := text[i:end]
		return &v
	}
	return nil
}

// codeField parses the signed decimal prefix after "code", saturating at the
// int32 range. A lone '-' yields no value.
func codeField(text string) *int32 {
	i := valueStart(text, keyCode)
	if i < 0 || i >= len(text) {
		return nil
	}

	neg := false
	if text[i] == '-' {
		neg = true
		i++
	}
	if i >= len(text) || !isDigit(text[i]) {
		return nil
	}

	var n int64
	for ; i < len(text) && isDigit(text[i]); i++ {
		if n <= math.MaxInt32+1 {
			n = n*10 + int64(text[i]-'0')
		}
	}
	if neg {
		n = -n
	}

	switch {
	case n > math.MaxInt32:
		n = math.MaxInt32
	case n < math.MinInt32:
		n = math.MinInt32
	}
	v := int32(n)
	return &v
}

func boolField(text, key string) bool {
	i := valueStart(text, key)
	if i < 0 {
		return false
	}
	return strings.HasPrefix(text[i:], "true")
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
