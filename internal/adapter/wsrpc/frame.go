package wsrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"wsjsonrpc/internal/domain"
)

// inbound is a decoded server message. Field presence is tracked separately
// from value because `"result": null` is still a success reply.
type inbound struct {
	raw    json.RawMessage
	fields map[string]json.RawMessage
}

// decodeInbound parses a payload. Anything that is not a JSON object is a
// protocol violation.
func decodeInbound(data []byte) (*inbound, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", domain.ErrProtocol)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	return &inbound{raw: json.RawMessage(data), fields: fields}, nil
}

// id returns the message id. Only string ids can belong to this client, so a
// missing, null or numeric id reports false.
func (m *inbound) id() (string, bool) {
	raw, ok := m.fields["id"]
	if !ok {
		return "", false
	}
	// null unmarshals into a *string without error and leaves it nil.
	var id *string
	if err := json.Unmarshal(raw, &id); err != nil || id == nil {
		return "", false
	}
	return *id, true
}

// outcome converts a matched reply into the call's result.
func (m *inbound) outcome() callResult {
	if result, ok := m.fields["result"]; ok {
		return callResult{result: result}
	}

	raw := m.fields["error"]
	var rpcErr domain.RPCError
	if err := json.Unmarshal(raw, &rpcErr); err != nil || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		malformed := domain.NewRPCError(domain.ErrProtocol, domain.RPCInternalError, domain.MsgMalformedError)
		malformed.Data = m.raw
		return callResult{err: malformed}
	}
	return callResult{err: &rpcErr}
}

func (m *inbound) notification() domain.Notification {
	n := domain.Notification{
		Params: m.fields["params"],
		ID:     m.fields["id"],
		Result: m.fields["result"],
		Error:  m.fields["error"],
		Raw:    m.raw,
	}
	// Non-string values are left empty rather than rejected.
	_ = json.Unmarshal(m.fields["jsonrpc"], &n.JSONRPC)
	_ = json.Unmarshal(m.fields["method"], &n.Method)
	return n
}

// encodeRequest builds the wire form of a call. params must already be JSON.
func encodeRequest(id, method string, params json.RawMessage) ([]byte, error) {
	return json.Marshal(domain.Request{
		JSONRPC: domain.JSONRPCVersion,
		Method:  method,
		ID:      id,
		Params:  params,
	})
}

// encodeParams marshals call parameters, mapping nil to an empty array.
func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage("[]"), nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return data, nil
}
