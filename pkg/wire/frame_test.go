package wire

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantErr  bool
	}{
		{"new message", `{"type":"new_message","message":{"id":"abc-1"}}`, FrameNewMessage, false},
		{"typing", `{"type":"typing","conversation_id":"c1","user_id":"u2"}`, FrameTyping, false},
		{"message read", `{"type":"message_read","conversation_id":"c1","read_by":"u2"}`, FrameMessageRead, false},
		{"unknown type", `{"type":"presence"}`, "", true},
		{"empty type", `{"conversation_id":"c1"}`, "", true},
		{"malformed json", `{"type":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantType, frame.Type)
			require.JSONEq(t, tt.raw, string(frame.Payload))
		})
	}
}

func TestDecodeFrame_UnknownTypeSentinel(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"type":"presence"}`))
	require.ErrorIs(t, err, ErrUnknownFrameType)
}

func TestIsConfirmedID(t *testing.T) {
	require.True(t, IsConfirmedID(uuid.NewString()))
	require.True(t, IsConfirmedID("7f2a1c34-9a1b-4c56-8def-0123456789ab"))
	require.False(t, IsConfirmedID("1716543210123"))
	require.False(t, IsConfirmedID(""))
}

func TestTypingFramePayloadRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"typing","conversation_id":"c1","user_id":"u2","user_name":"Ana"}`)
	frame, err := DecodeFrame(raw)
	require.NoError(t, err)

	var typed TypingFrame
	require.NoError(t, json.Unmarshal(frame.Payload, &typed))
	require.Equal(t, "c1", typed.ConversationID)
	require.Equal(t, "u2", typed.UserID)
	require.Equal(t, "Ana", typed.UserName)
}
