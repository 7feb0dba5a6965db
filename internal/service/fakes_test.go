package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"message-service/internal/inference"
	"message-service/internal/models"
	"message-service/internal/repositories"
	"message-service/internal/storage"
)

// memoryStore implements the three repositories with the same conditional
// semantics as the database implementations.
type memoryStore struct {
	mu            sync.Mutex
	seq           int
	messages      map[string]*models.Message
	conversations map[string]*models.Conversation
	users         map[string]models.User

	createErr   error
	failCreateN int
	markSeenN   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		messages:      map[string]*models.Message{},
		conversations: map[string]*models.Conversation{},
		users:         map[string]models.User{},
	}
}

func (s *memoryStore) addConversation(id string, members ...string) {
	unread := make([]models.UnreadCount, 0, len(members))
	for _, m := range members {
		unread = append(unread, models.UnreadCount{UserID: m})
	}
	s.conversations[id] = &models.Conversation{ID: id, Members: members, UnreadCounts: unread}
}

func (s *memoryStore) addUser(u models.User) {
	s.users[u.ID] = u
}

func (s *memoryStore) seedMessage(convID, senderID, text string, at time.Time) models.Message {
	s.seq++
	msg := models.Message{
		ID:             fmt.Sprintf("m%03d", s.seq),
		ConversationID: convID,
		SenderID:       senderID,
		Text:           text,
		SeenBy:         []models.SeenMarker{},
		DeletedFrom:    []string{},
		CreatedAt:      at,
	}
	s.messages[msg.ID] = &msg
	return msg
}

func copyMessage(m *models.Message) models.Message {
	out := *m
	out.SeenBy = append([]models.SeenMarker{}, m.SeenBy...)
	out.DeletedFrom = append([]string{}, m.DeletedFrom...)
	return out
}

func (s *memoryStore) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		if s.failCreateN == 0 {
			return models.Message{}, s.createErr
		}
		s.failCreateN--
	}
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return models.Message{}, repositories.ErrConversationNotFound
	}
	s.seq++
	msg.ID = fmt.Sprintf("m%03d", s.seq)
	msg.UpdatedAt = msg.CreatedAt
	stored := copyMessage(&msg)
	s.messages[msg.ID] = &stored
	return copyMessage(&stored), nil
}

func (s *memoryStore) sorted(convID string) []*models.Message {
	var out []*models.Message
	for _, m := range s.messages {
		if m.ConversationID == convID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memoryStore) ListVisible(_ context.Context, conversationID, viewerID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, m := range s.sorted(conversationID) {
		if !m.HiddenFor(viewerID) {
			out = append(out, copyMessage(m))
		}
	}
	return out, nil
}

func (s *memoryStore) ListRecent(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted(conversationID)
	out := []models.Message{}
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyMessage(all[i]))
	}
	return out, nil
}

func (s *memoryStore) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return copyMessage(m), nil
}

func (s *memoryStore) MarkSeen(_ context.Context, messageIDs []string, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markSeenN++
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.SeenByUser(userID) {
			continue
		}
		m.SeenBy = append(m.SeenBy, models.SeenMarker{User: userID, SeenAt: at})
	}
	return nil
}

func (s *memoryStore) AddDeletedFrom(_ context.Context, messageID string, userIDs []string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	for _, id := range userIDs {
		if !m.HiddenFor(id) {
			m.DeletedFrom = append(m.DeletedFrom, id)
		}
	}
	return copyMessage(m), nil
}

func (s *memoryStore) GetConversation(_ context.Context, conversationID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	out := *c
	out.UnreadCounts = append([]models.UnreadCount{}, c.UnreadCounts...)
	return out, nil
}

func (s *memoryStore) RecordMessage(_ context.Context, conversationID, latest string, at time.Time, unreadFor []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return repositories.ErrConversationNotFound
	}
	c.LatestMessage = latest
	c.UpdatedAt = at
	for _, id := range unreadFor {
		for i := range c.UnreadCounts {
			if c.UnreadCounts[i].UserID == id {
				c.UnreadCounts[i].Count++
			}
		}
	}
	return nil
}

func (s *memoryStore) ResetUnread(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return repositories.ErrConversationNotFound
	}
	for i := range c.UnreadCounts {
		if c.UnreadCounts[i].UserID == userID {
			c.UnreadCounts[i].Count = 0
		}
	}
	return nil
}

func (s *memoryStore) GetUsers(_ context.Context, ids []string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.User{}
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type completerMock struct {
	mock.Mock
}

func (m *completerMock) Complete(ctx context.Context, req inference.CompletionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type signerMock struct {
	mock.Mock
}

func (m *signerMock) PresignUpload(ctx context.Context, key string, maxBytes int64, ttl time.Duration) (storage.UploadCredential, error) {
	args := m.Called(ctx, key, maxBytes, ttl)
	var cred storage.UploadCredential
	if val := args.Get(0); val != nil {
		cred = val.(storage.UploadCredential)
	}
	return cred, args.Error(1)
}

type uploaderMock struct {
	mock.Mock
}

func (m *uploaderMock) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	args := m.Called(ctx, key, contentType, body)
	return args.String(0), args.Error(1)
}

type eventRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *eventRecorder) Publish(_ context.Context, routingKey string, _ any, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, routingKey)
	return nil
}

type testEnv struct {
	store     *memoryStore
	completer *completerMock
	signer    *signerMock
	uploader  *uploaderMock
	events    *eventRecorder
	svc       *MessageService
	clock     time.Time
}

func newTestEnv(opts Options) *testEnv {
	env := &testEnv{
		store:     newMemoryStore(),
		completer: new(completerMock),
		signer:    new(signerMock),
		uploader:  new(uploaderMock),
		events:    &eventRecorder{},
		clock:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	env.svc = NewMessageService(Deps{
		Messages:      env.store,
		Conversations: env.store,
		Users:         env.store,
		Completer:     env.completer,
		Signer:        env.signer,
		Uploader:      env.uploader,
		Events:        env.events,
	}, opts, zap.NewNop().Sugar())
	env.svc.now = func() time.Time {
		env.clock = env.clock.Add(time.Second)
		return env.clock
	}
	return env
}
