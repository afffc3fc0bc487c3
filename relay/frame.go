package relay

import (
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/isabella232/mech/message"
)

// Frame is one websocket message in either direction.
//
//	command:  {"seq":7,"method":"legacy.approveRequest","session":"wc:..","params":{..}}
//	reply:    {"seq":7,"result":{..}}  or  {"seq":7,"error":{"code":..,"message":".."}}
//	event:    {"event":"legacy.call_request","session":"wc:..","payload":{..}}
//
// A frame with Event set is never a reply; its Seq is ignored.
type Frame struct {
	Seq     uint64                `json:"seq,omitempty"`
	Method  string                `json:"method,omitempty"`
	Session string                `json:"session,omitempty"`
	Params  json.RawMessage       `json:"params,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *message.JSONRPCError `json:"error,omitempty"`
	Event   string                `json:"event,omitempty"`
	Payload json.RawMessage       `json:"payload,omitempty"`
}

// Commands understood by the sidecar.
const (
	MethodHello = "hello"

	MethodLegacyConnect        = "legacy.connect"
	MethodLegacyApproveSession = "legacy.approveSession"
	MethodLegacyApproveRequest = "legacy.approveRequest"
	MethodLegacyRejectRequest  = "legacy.rejectRequest"
	MethodLegacyKillSession    = "legacy.killSession"
	MethodLegacyClose          = "legacy.close"

	MethodModernInit           = "modern.init"
	MethodModernPair           = "modern.pair"
	MethodModernApproveSession = "modern.approveSession"
	MethodModernActiveSessions = "modern.activeSessions"
	MethodModernRespond        = "modern.respond"
)

const (
	prefixLegacy = "legacy"
	prefixModern = "modern"
)

// recoverID reads the id of a request whose body did not decode. Integer
// strings are accepted; any other id cannot be answered.
func recoverID(r gjson.Result) (int64, bool) {
	var raw string
	switch r.Type {
	case gjson.Number:
		raw = r.Raw
	case gjson.String:
		raw = r.Str
	default:
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

func malformedRequest(err error) *message.JSONRPCError {
	return message.NewError(message.CodeInvalidRequest, "malformed request: "+err.Error())
}
