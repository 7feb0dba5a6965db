package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"message-service/internal/models"
)

func TestDispatchRealtimeReceiverInside(t *testing.T) {
	env := newTestEnv(Options{})
	env.store.addConversation(conv, alice, bob)
	inside := true

	msg, err := env.svc.DispatchRealtime(context.Background(), RealtimeMessage{
		ConversationID: conv, SenderID: alice, ReceiverID: bob, Text: "hey", ReceiverInside: &inside,
	})
	require.NoError(t, err)

	require.Len(t, msg.SeenBy, 1)
	assert.Equal(t, bob, msg.SeenBy[0].User)
	c := env.store.conversations[conv]
	assert.Equal(t, "hey", c.LatestMessage)
	assert.Equal(t, 0, c.UnreadFor(bob))
}

func TestDispatchRealtimeReceiverOutside(t *testing.T) {
	env := newTestEnv(Options{})
	env.store.addConversation(conv, alice, bob)
	outside := false

	msg, err := env.svc.DispatchRealtime(context.Background(), RealtimeMessage{
		ConversationID: conv, SenderID: alice, ReceiverID: bob, Text: "hey", ReceiverInside: &outside,
	})
	require.NoError(t, err)

	assert.Empty(t, msg.SeenBy)
	assert.Equal(t, 1, env.store.conversations[conv].UnreadFor(bob))
}

func TestDispatchRealtimeUsesPresenceWhenFlagAbsent(t *testing.T) {
	env := newTestEnv(Options{})
	env.store.addConversation(conv, alice, bob)
	require.NoError(t, env.svc.presence.Enter(context.Background(), conv, bob))

	msg, err := env.svc.DispatchRealtime(context.Background(), RealtimeMessage{ConversationID: conv, SenderID: alice, Text: "hey"})
	require.NoError(t, err)

	assert.True(t, msg.SeenByUser(bob))
	assert.Equal(t, 0, env.store.conversations[conv].UnreadFor(bob))
}

func TestDispatchRealtimeHasNoBotGate(t *testing.T) {
	env := newTestEnv(Options{})
	env.store.addConversation(conv, alice, botID)
	env.store.addUser(models.User{ID: botID, Email: "bot@conversa.app"})

	_, err := env.svc.DispatchRealtime(context.Background(), RealtimeMessage{ConversationID: conv, SenderID: alice, Text: "hey"})
	require.NoError(t, err)
	assert.Len(t, env.store.messages, 1)
}

func TestDispatchRealtimeValidation(t *testing.T) {
	env := newTestEnv(Options{})
	env.store.addConversation(conv, alice, bob)

	_, err := env.svc.DispatchRealtime(context.Background(), RealtimeMessage{ConversationID: conv, SenderID: alice})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.DispatchRealtime(context.Background(), RealtimeMessage{ConversationID: conv, SenderID: alice, ReceiverID: "stranger", Text: "x"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.DispatchRealtime(context.Background(), RealtimeMessage{ConversationID: conv, SenderID: "stranger", Text: "x"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRetractRealtime(t *testing.T) {
	env := newTestEnv(Options{})
	env.store.addConversation(conv, alice, bob)
	env.store.addConversation("other", alice, bob)
	msg := env.store.seedMessage(conv, alice, "bye", env.clock)

	ok, err := env.svc.RetractRealtime(context.Background(), RealtimeDelete{ConversationID: "other", MessageID: msg.ID, DeleteFrom: []string{alice}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ok)

	ok, err = env.svc.RetractRealtime(context.Background(), RealtimeDelete{ConversationID: conv, MessageID: msg.ID, DeleteFrom: []string{alice}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, env.store.messages[msg.ID].HiddenFor(alice))
}

func TestDispatchRealtimeFlagWithoutReceiverID(t *testing.T) {
	env := newTestEnv(Options{})
	env.store.addConversation(conv, alice, bob)
	inside := true

	msg, err := env.svc.DispatchRealtime(context.Background(), RealtimeMessage{
		ConversationID: conv, SenderID: alice, Text: "x", ReceiverInside: &inside,
	})
	require.NoError(t, err)

	require.Len(t, msg.SeenBy, 1)
	assert.Equal(t, bob, msg.SeenBy[0].User)
	assert.Equal(t, 0, env.store.conversations[conv].UnreadFor(bob))
}

func TestDispatchRealtimeFlagWithoutReceiverIDInGroup(t *testing.T) {
	env := newTestEnv(Options{})
	env.store.addConversation(conv, alice, bob, "c4r01000000000000000000004")
	inside := true

	_, err := env.svc.DispatchRealtime(context.Background(), RealtimeMessage{
		ConversationID: conv, SenderID: alice, Text: "x", ReceiverInside: &inside,
	})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, env.store.messages)
}
