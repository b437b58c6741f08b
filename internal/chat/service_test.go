package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for exercising the service without
// Postgres. It enforces the same private-pair uniqueness the real schema
// does.
type memStore struct {
	mu     sync.Mutex
	convs  map[string]*Conversation
	byPair map[string]string
	msgs   map[string][]*Message
	clock  time.Time
}

func newMemStore() *memStore {
	return &memStore{
		convs:  make(map[string]*Conversation),
		byPair: make(map[string]string),
		msgs:   make(map[string][]*Message),
		clock:  time.Now().UTC(),
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *memStore) FindConversationByPair(_ context.Context, a, b string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPair[pairKey(a, b)]
	if !ok {
		return nil, nil
	}
	return s.convs[id], nil
}

func (s *memStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[id], nil
}

func (s *memStore) InsertConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !conv.IsGroup {
		key := pairKey(conv.Participants[0], conv.Participants[1])
		if _, exists := s.byPair[key]; exists {
			return errDuplicatePair
		}
		defer func() { s.byPair[key] = conv.ID }()
	}
	conv.ID = uuid.NewString()
	conv.LastActivity = s.tick()
	s.convs[conv.ID] = conv
	return nil
}

func (s *memStore) InsertMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.CreatedAt = s.tick()
	s.msgs[msg.ConversationID] = append(s.msgs[msg.ConversationID], msg)
	return nil
}

func (s *memStore) UpdateConversationActivity(_ context.Context, id string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[id]; ok {
		conv.LastActivity = ts
	}
	return nil
}

func (s *memStore) ListConversationsForUser(_ context.Context, userID string) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Conversation
	for _, conv := range s.convs {
		if conv.HasParticipant(userID) {
			out = append(out, conv)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].LastActivity.After(out[i].LastActivity) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (s *memStore) ListMessages(_ context.Context, conversationID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Message(nil), s.msgs[conversationID]...), nil
}

func (s *memStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[id]; ok && !conv.IsGroup {
		delete(s.byPair, pairKey(conv.Participants[0], conv.Participants[1]))
	}
	delete(s.convs, id)
	delete(s.msgs, id)
	return nil
}

func (s *memStore) messageCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs[conversationID])
}

func newTestService() (*Service, *memStore, *Hub) {
	log := testLogger()
	store := newMemStore()
	hub := NewHub(log)
	svc := NewService(store, NewRegistry(store, nil, log), NewMRUIndex(), hub, log)
	return svc, store, hub
}

func Test_StartPrivate_Deduplicates_Unordered_Pair(t *testing.T) {
	req := require.New(t)
	svc, store, _ := newTestService()
	ctx := context.Background()

	first, err := svc.StartPrivate(ctx, "alice", "bob")
	req.NoError(err)
	req.NotEmpty(first.ID)
	req.Equal([]string{"alice", "bob"}, first.Participants)
	req.False(first.IsGroup)

	second, err := svc.StartPrivate(ctx, "bob", "alice")
	req.NoError(err)
	req.Equal(first.ID, second.ID)
	req.Len(store.convs, 1)
}

func Test_StartPrivate_Concurrent_Creates_One(t *testing.T) {
	req := require.New(t)
	svc, store, _ := newTestService()

	var wg sync.WaitGroup
	ids := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := svc.StartPrivate(context.Background(), a, b)
			if err == nil {
				ids <- conv.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	req.Len(store.convs, 1)
	var last string
	for id := range ids {
		if last != "" {
			req.Equal(last, id)
		}
		last = id
	}
}

func Test_StartPrivate_Rejects_Self_And_Blank(t *testing.T) {
	req := require.New(t)
	svc, store, _ := newTestService()

	_, err := svc.StartPrivate(context.Background(), "alice", "alice")
	req.ErrorIs(err, ErrInvalidConversation)

	_, err = svc.StartPrivate(context.Background(), "alice", "")
	req.ErrorIs(err, ErrInvalidConversation)

	req.Empty(store.convs)
}

func Test_StartPrivate_Touches_MRU_And_Notifies(t *testing.T) {
	req := require.New(t)
	svc, _, hub := newTestService()

	a, b := testClient(), testClient()
	hub.Connect("alice", a)
	hub.Connect("bob", b)

	conv, err := svc.StartPrivate(context.Background(), "alice", "bob")
	req.NoError(err)

	req.Equal([]string{conv.ID}, svc.mru.List("alice"))
	req.Equal([]string{conv.ID}, svc.mru.List("bob"))

	for _, c := range []*Client{a, b} {
		ev := recvEvent(t, c)
		req.Equal("new_chat", ev["type"])
		req.Equal(conv.ID, ev["chat_id"])
	}
}

func Test_StartGroup_Validates_Name_And_Size(t *testing.T) {
	req := require.New(t)
	svc, store, hub := newTestService()
	c := testClient()
	hub.Connect("alice", c)

	_, err := svc.StartGroup(context.Background(), "alice", []string{"bob"}, "   ")
	req.ErrorIs(err, ErrInvalidConversation)

	_, err = svc.StartGroup(context.Background(), "alice", []string{"alice", ""}, "Team")
	req.ErrorIs(err, ErrInvalidConversation)

	// No persistence, no notification.
	req.Empty(store.convs)
	req.Empty(c.send)
}

func Test_StartGroup_Creates_And_Touches_All(t *testing.T) {
	req := require.New(t)
	svc, _, _ := newTestService()

	conv, err := svc.StartGroup(context.Background(), "alice", []string{"bob", "carol", "bob"}, "Team")
	req.NoError(err)
	req.True(conv.IsGroup)
	req.Equal("Team", conv.GroupName)
	req.ElementsMatch([]string{"alice", "bob", "carol"}, conv.Participants)

	for _, u := range []string{"alice", "bob", "carol"} {
		req.Equal([]string{conv.ID}, svc.mru.List(u))
	}
}

func Test_SendMessage_Unknown_Conversation(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.SendMessage(context.Background(), "nope", "alice", "hi")
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func Test_SendMessage_Rejects_Non_Participant(t *testing.T) {
	req := require.New(t)
	svc, store, _ := newTestService()
	ctx := context.Background()

	conv, err := svc.StartPrivate(ctx, "alice", "bob")
	req.NoError(err)

	_, err = svc.SendMessage(ctx, conv.ID, "mallory", "hi")
	req.ErrorIs(err, ErrNotAParticipant)
	req.Zero(store.messageCount(conv.ID))
}

func Test_SendMessage_Rejects_Blank_Text(t *testing.T) {
	req := require.New(t)
	svc, store, _ := newTestService()
	ctx := context.Background()

	conv, err := svc.StartPrivate(ctx, "alice", "bob")
	req.NoError(err)

	for _, text := range []string{"", "   ", "\n\t "} {
		_, err = svc.SendMessage(ctx, conv.ID, "alice", text)
		req.ErrorIs(err, ErrEmptyMessage)
	}
	req.Zero(store.messageCount(conv.ID))
}

func Test_SendMessage_Persists_Touches_And_Fans_Out(t *testing.T) {
	req := require.New(t)
	svc, store, hub := newTestService()
	ctx := context.Background()

	conv, err := svc.StartPrivate(ctx, "alice", "bob")
	req.NoError(err)

	// bob has a live session, alice has a second tab.
	bobWs, aliceTab := testClient(), testClient()
	hub.Connect("bob", bobWs)
	hub.Connect("alice", aliceTab)

	msg, err := svc.SendMessage(ctx, conv.ID, "alice", "hello")
	req.NoError(err)
	req.NotEmpty(msg.ID)
	req.False(msg.CreatedAt.IsZero())
	req.Equal(1, store.messageCount(conv.ID))
	req.Equal(msg.CreatedAt, store.convs[conv.ID].LastActivity)

	// MRU fronted for both participants, sender included.
	req.Equal([]string{conv.ID}, svc.mru.List("alice"))
	req.Equal([]string{conv.ID}, svc.mru.List("bob"))

	// Exactly one new_message event per live session.
	for _, c := range []*Client{bobWs, aliceTab} {
		ev := recvEvent(t, c)
		req.Equal("new_message", ev["type"])
		req.Equal(conv.ID, ev["conversation_id"])
		payload := ev["message"].(map[string]any)
		req.Equal("alice", payload["sender_id"])
		req.Equal("hello", payload["text"])
		req.Equal(msg.ID, payload["id"])
		req.Empty(c.send)
	}
}

func Test_SendMessage_Fronts_Most_Recent_Conversation(t *testing.T) {
	req := require.New(t)
	svc, _, _ := newTestService()
	ctx := context.Background()

	c1, err := svc.StartPrivate(ctx, "alice", "bob")
	req.NoError(err)
	c2, err := svc.StartPrivate(ctx, "alice", "carol")
	req.NoError(err)
	req.Equal([]string{c2.ID, c1.ID}, svc.mru.List("alice"))

	_, err = svc.SendMessage(ctx, c1.ID, "bob", "ping")
	req.NoError(err)
	req.Equal([]string{c1.ID, c2.ID}, svc.mru.List("alice"))
}

func Test_DeleteConversation(t *testing.T) {
	req := require.New(t)
	svc, store, _ := newTestService()
	ctx := context.Background()

	conv, err := svc.StartPrivate(ctx, "alice", "bob")
	req.NoError(err)
	_, err = svc.SendMessage(ctx, conv.ID, "alice", "hello")
	req.NoError(err)

	req.ErrorIs(svc.DeleteConversation(ctx, conv.ID, "mallory"), ErrNotAParticipant)
	req.ErrorIs(svc.DeleteConversation(ctx, "nope", "alice"), ErrConversationNotFound)

	req.NoError(svc.DeleteConversation(ctx, conv.ID, "bob"))
	req.Empty(store.convs)
	req.Zero(store.messageCount(conv.ID))

	_, err = svc.SendMessage(ctx, conv.ID, "alice", "too late")
	req.ErrorIs(err, ErrConversationNotFound)
}

func Test_ListRecent_Prefers_Live_MRU_Order(t *testing.T) {
	req := require.New(t)
	svc, _, _ := newTestService()
	ctx := context.Background()

	c1, err := svc.StartPrivate(ctx, "alice", "bob")
	req.NoError(err)
	c2, err := svc.StartPrivate(ctx, "alice", "carol")
	req.NoError(err)

	// Store order alone would put c2 first (more recent activity); a send in
	// c1 promotes it in alice's live index.
	_, err = svc.SendMessage(ctx, c1.ID, "bob", "ping")
	req.NoError(err)

	convs, err := svc.ListRecent(ctx, "alice")
	req.NoError(err)
	req.Len(convs, 2)
	req.Equal(c1.ID, convs[0].ID)
	req.Equal(c2.ID, convs[1].ID)

	// dave never touched anything live; pure store order.
	c3, err := svc.StartPrivate(ctx, "dave", "erin")
	req.NoError(err)
	convs, err = svc.ListRecent(ctx, "dave")
	req.NoError(err)
	req.Len(convs, 1)
	req.Equal(c3.ID, convs[0].ID)
}

func Test_ListMessages_Oldest_First_Participants_Only(t *testing.T) {
	req := require.New(t)
	svc, _, _ := newTestService()
	ctx := context.Background()

	conv, err := svc.StartPrivate(ctx, "alice", "bob")
	req.NoError(err)

	for _, text := range []string{"one", "two", "three"} {
		_, err = svc.SendMessage(ctx, conv.ID, "alice", text)
		req.NoError(err)
	}

	_, err = svc.ListMessages(ctx, conv.ID, "mallory")
	req.ErrorIs(err, ErrNotAParticipant)

	msgs, err := svc.ListMessages(ctx, conv.ID, "bob")
	req.NoError(err)
	req.Len(msgs, 3)
	req.Equal("one", msgs[0].Text)
	req.Equal("three", msgs[2].Text)
	req.True(msgs[0].CreatedAt.Before(msgs[2].CreatedAt))
}
