package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"message-service/internal/models"
	"message-service/internal/service"
	"message-service/internal/storage"
)

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) SubmitMessage(ctx context.Context, in service.SubmitInput) (service.SubmitResult, error) {
	args := m.Called(ctx, in)
	var res service.SubmitResult
	if val := args.Get(0); val != nil {
		res = val.(service.SubmitResult)
	}
	return res, args.Error(1)
}

func (m *MessageServiceMock) ListMessages(ctx context.Context, conversationID, viewerID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, viewerID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageServiceMock) DeleteForRequester(ctx context.Context, requesterID, messageID string, userIDs []string) (models.Message, error) {
	args := m.Called(ctx, requesterID, messageID, userIDs)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) IssueUploadCredential(ctx context.Context, userID, filename, filetype string) (storage.UploadCredential, error) {
	args := m.Called(ctx, userID, filename, filetype)
	var cred storage.UploadCredential
	if val := args.Get(0); val != nil {
		cred = val.(storage.UploadCredential)
	}
	return cred, args.Error(1)
}

func (m *MessageServiceMock) GenerateBotReply(ctx context.Context, in service.BotPrompt) (service.BotExchange, error) {
	args := m.Called(ctx, in)
	var ex service.BotExchange
	if val := args.Get(0); val != nil {
		ex = val.(service.BotExchange)
	}
	return ex, args.Error(1)
}

func (m *MessageServiceMock) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageServiceMock) DispatchRealtime(ctx context.Context, in service.RealtimeMessage) (models.Message, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) RetractRealtime(ctx context.Context, in service.RealtimeDelete) (bool, error) {
	args := m.Called(ctx, in)
	return args.Bool(0), args.Error(1)
}

type TokenValidatorMock struct {
	mock.Mock
}

func (m *TokenValidatorMock) ValidateToken(token string) (string, error) {
	args := m.Called(token)
	return args.String(0), args.Error(1)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) BroadcastMessage(conversationID string, msg models.Message) {
	m.Called(conversationID, msg)
}

func (m *BroadcasterMock) BroadcastBotReply(conversationID string, msg models.Message) {
	m.Called(conversationID, msg)
}

func (m *BroadcasterMock) BroadcastDeletion(conversationID, messageID string, deleteFrom []string) {
	m.Called(conversationID, messageID, deleteFrom)
}
