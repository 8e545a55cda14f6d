package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Messages(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"invalid with field", InvalidRequest("userId", "is required"), "InvalidRequest [userId]: is required"},
		{"forbidden withholds detail", &Error{Kind: KindForbiddenContent, Detail: "matched sql pattern"}, "content rejected"},
		{"too many", TooManyMessages(101, 100), "TooManyMessages [messages]: 101 messages exceeds limit of 100"},
		{"engine", EngineFailure(errors.New("timeout")), "engine failure: timeout"},
		{"bare engine", &Error{Kind: KindEngineFailure}, "engine failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("build: %w", InvalidRequest("messages", "empty"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.NotErrorIs(t, err, ErrForbiddenContent)
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	assert.NotErrorIs(t, ErrInvalidRequest, InvalidRequest("x", "y"))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("upstream")
	err := EngineFailure(cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrEngineFailure)
}

func TestKindOf_Unknown(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, "Unknown", Kind(42).String())
	assert.Equal(t, "ModelUnavailable", KindModelUnavailable.String())
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("tool").Valid())
	assert.False(t, Role("").Valid())
}

func TestLastUserMessage(t *testing.T) {
	st := &ExecutionState{Messages: []ChatMessage{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "reply 2"},
	}}
	msg, ok := st.LastUserMessage()
	assert.True(t, ok)
	assert.Equal(t, "second", msg.Content)

	_, ok = (&ExecutionState{}).LastUserMessage()
	assert.False(t, ok)
}
