package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/wsrelayd/catalog"
)

func validEnvelopeJSON(t *testing.T, typ Type, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	env := struct {
		Header  Header          `json:"header"`
		Payload json.RawMessage `json:"payload"`
	}{
		Header: Header{
			Type:      typ,
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Payload: raw,
	}

	out, err := json.Marshal(env)
	require.NoError(t, err)
	return out
}

func TestParse_HappyData(t *testing.T) {
	raw := validEnvelopeJSON(t, TypeData, DataPayload{ContentType: "text", Data: "hello"})

	env, rawOut, catErr := Parse(raw, 1<<20)
	require.Nil(t, catErr)
	require.Equal(t, TypeData, env.Header.Type)
	require.Equal(t, raw, rawOut, "relay must forward byte-identical frames")
}

func TestParse_MessageTooLarge(t *testing.T) {
	raw := validEnvelopeJSON(t, TypeData, DataPayload{ContentType: "text", Data: "hello"})

	_, _, catErr := Parse(raw, 4)
	require.NotNil(t, catErr)
	require.Equal(t, catalog.MessageTooLarge, catErr.Code)
}

func TestParse_MalformedJSON(t *testing.T) {
	_, _, catErr := Parse([]byte("{not json"), 1<<20)
	require.NotNil(t, catErr)
	require.Equal(t, catalog.InvalidMessage, catErr.Code)
}

func TestParse_MissingHeaderFields(t *testing.T) {
	raw := []byte(`{"header":{"type":"data"},"payload":{}}`)
	_, _, catErr := Parse(raw, 1<<20)
	require.NotNil(t, catErr)
	require.Equal(t, catalog.InvalidMessage, catErr.Code)
}

func TestParse_InvalidTimestamp(t *testing.T) {
	raw := []byte(`{"header":{"type":"data","id":"` + uuid.NewString() +
		`","timestamp":"not-a-time"},"payload":{"contentType":"text","data":"x"}}`)
	_, _, catErr := Parse(raw, 1<<20)
	require.NotNil(t, catErr)
	require.Equal(t, catalog.InvalidMessage, catErr.Code)
}

func TestParse_UnknownEnvelopeType(t *testing.T) {
	raw := []byte(`{"header":{"type":"bogus","id":"` + uuid.NewString() +
		`","timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `"},"payload":{}}`)
	_, _, catErr := Parse(raw, 1<<20)
	require.NotNil(t, catErr)
	require.Equal(t, catalog.InvalidMessage, catErr.Code)
}

func TestValidatePayload_Data(t *testing.T) {
	raw := validEnvelopeJSON(t, TypeData, DataPayload{ContentType: "text", Data: "hello"})
	env, _, catErr := Parse(raw, 1<<20)
	require.Nil(t, catErr)

	payload, valErr := ValidatePayload(env)
	require.Nil(t, valErr)
	dp, ok := payload.(*DataPayload)
	require.True(t, ok)
	require.Equal(t, "hello", dp.Data)
}

func TestValidatePayload_BinaryRequiresBase64(t *testing.T) {
	raw := validEnvelopeJSON(t, TypeData, DataPayload{ContentType: "binary", Data: "not base64!!"})
	env, _, catErr := Parse(raw, 1<<20)
	require.Nil(t, catErr)

	_, valErr := ValidatePayload(env)
	require.NotNil(t, valErr)
	require.Equal(t, catalog.InvalidMessage, valErr.Code)
}

func TestValidatePayload_BinaryValidBase64(t *testing.T) {
	raw := validEnvelopeJSON(t, TypeData, DataPayload{ContentType: "binary", Data: "aGVsbG8="})
	env, _, catErr := Parse(raw, 1<<20)
	require.Nil(t, catErr)

	_, valErr := ValidatePayload(env)
	require.Nil(t, valErr)
}

func TestValidatePayload_Ack(t *testing.T) {
	raw := validEnvelopeJSON(t, TypeAck, AckPayload{MessageID: uuid.NewString(), Status: "success"})
	env, _, catErr := Parse(raw, 1<<20)
	require.Nil(t, catErr)

	payload, valErr := ValidatePayload(env)
	require.Nil(t, valErr)
	_, ok := payload.(*AckPayload)
	require.True(t, ok)
}

func TestValidatePayload_AckInvalidStatus(t *testing.T) {
	raw := validEnvelopeJSON(t, TypeAck, AckPayload{MessageID: uuid.NewString(), Status: "maybe"})
	env, _, catErr := Parse(raw, 1<<20)
	require.Nil(t, catErr)

	_, valErr := ValidatePayload(env)
	require.NotNil(t, valErr)
}

func TestValidatePayload_Control(t *testing.T) {
	raw := validEnvelopeJSON(t, TypeControl, ControlPayload{Command: "ping"})
	env, _, catErr := Parse(raw, 1<<20)
	require.Nil(t, catErr)

	payload, valErr := ValidatePayload(env)
	require.Nil(t, valErr)
	cp, ok := payload.(*ControlPayload)
	require.True(t, ok)
	require.Equal(t, "ping", cp.Command)
}

func TestValidatePayload_ControlMissingCommand(t *testing.T) {
	raw := validEnvelopeJSON(t, TypeControl, ControlPayload{})
	env, _, catErr := Parse(raw, 1<<20)
	require.Nil(t, catErr)

	_, valErr := ValidatePayload(env)
	require.NotNil(t, valErr)
}

func TestNewID_IsValidUUID(t *testing.T) {
	_, err := uuid.Parse(NewID())
	require.NoError(t, err)
}

func TestNowISO8601_Parses(t *testing.T) {
	_, err := time.Parse(time.RFC3339, NowISO8601())
	require.NoError(t, err)
}
