package chat

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/lo"
)

const pairLockStripes = 64

// Service is the message router and conversation factory. All mutating
// operations validate first, persist second, and only then touch the MRU
// index and fan out; a rejected call leaves no partial state behind.
type Service struct {
	store    Store
	registry *Registry
	mru      *MRUIndex
	hub      *Hub
	log      *slog.Logger

	// pairLocks closes the check-then-act race in StartPrivate: two
	// concurrent starts for the same unordered pair hash to the same stripe.
	// The pair_key unique index backstops collisions across stripes.
	pairLocks [pairLockStripes]sync.Mutex
}

func NewService(store Store, registry *Registry, mru *MRUIndex, hub *Hub, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		mru:      mru,
		hub:      hub,
		log:      log,
	}
}

// StartPrivate returns the existing private conversation between the
// unordered pair, creating one if needed. Both participants' MRU lists are
// touched and both are notified over their live connections, so open clients
// refresh their conversation list without polling.
func (s *Service) StartPrivate(ctx context.Context, userA, userB string) (*Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, ErrInvalidConversation
	}

	lock := s.pairLock(userA, userB)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.store.FindConversationByPair(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	conv = &Conversation{Participants: []string{userA, userB}}
	err = s.store.InsertConversation(ctx, conv)
	if errors.Is(err, errDuplicatePair) {
		// Someone on another stripe beat us to it.
		return s.store.FindConversationByPair(ctx, userA, userB)
	}
	if err != nil {
		return nil, err
	}

	s.announce(conv)
	return conv, nil
}

// StartGroup creates a group conversation for the initiator plus the given
// participants. The effective set must hold at least two distinct members
// and the name must be non-empty; otherwise nothing is persisted or sent.
func (s *Service) StartGroup(ctx context.Context, initiator string, participants []string, name string) (*Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidConversation
	}

	members := lo.Uniq(lo.Compact(append([]string{initiator}, participants...)))
	if len(members) < 2 {
		return nil, ErrInvalidConversation
	}

	conv := &Conversation{
		Participants: members,
		IsGroup:      true,
		GroupName:    name,
	}
	if err := s.store.InsertConversation(ctx, conv); err != nil {
		return nil, err
	}

	s.announce(conv)
	return conv, nil
}

func (s *Service) announce(conv *Conversation) {
	for _, userID := range conv.Participants {
		s.mru.Touch(userID, conv.ID)
	}
	s.hub.SendToParticipants(conv, newChatEvent(conv.ID))
	s.log.Info("conversation created",
		"conversation_id", conv.ID,
		"is_group", conv.IsGroup,
		"participants", len(conv.Participants),
	)
}

// SendMessage validates, persists, and fans out one message. Persistence is
// authoritative: a partial fan-out failure never rolls the message back.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, text string) (*Message, error) {
	conv, err := s.registry.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotAParticipant
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	msg := &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.UpdateConversationActivity(ctx, conversationID, msg.CreatedAt); err != nil {
		// The message itself is already durable; a stale last_activity only
		// skews cold-start ordering.
		s.log.Warn("update conversation activity", "conversation_id", conversationID, "error", err)
	}
	conv.LastActivity = msg.CreatedAt
	s.registry.Invalidate(ctx, conversationID)

	for _, userID := range conv.Participants {
		s.mru.Touch(userID, conversationID)
	}
	s.hub.SendToParticipants(conv, newMessageEvent(msg))

	return msg, nil
}

// DeleteConversation hard-deletes a conversation and its messages. Only a
// participant may delete.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, requesterID string) error {
	conv, err := s.registry.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}
	if !conv.HasParticipant(requesterID) {
		return ErrNotAParticipant
	}

	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	s.registry.Invalidate(ctx, conversationID)
	return nil
}

// ListRecent returns the user's conversations for a cold-start client. The
// store gives last_activity order; conversations the live MRU index has seen
// since startup are ranked ahead of that, in touch order.
func (s *Service) ListRecent(ctx context.Context, userID string) ([]*Conversation, error) {
	convs, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	recent := s.mru.List(userID)
	if len(recent) == 0 {
		return convs, nil
	}
	rank := make(map[string]int, len(recent))
	for i, id := range recent {
		rank[id] = i
	}

	var front, rest []*Conversation
	for _, id := range recent {
		for _, conv := range convs {
			if conv.ID == id {
				front = append(front, conv)
				break
			}
		}
	}
	for _, conv := range convs {
		if _, ok := rank[conv.ID]; !ok {
			rest = append(rest, conv)
		}
	}
	return append(front, rest...), nil
}

// ListMessages returns a conversation's messages oldest first. Only a
// participant may read.
func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID string) ([]*Message, error) {
	conv, err := s.registry.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(requesterID) {
		return nil, ErrNotAParticipant
	}
	return s.store.ListMessages(ctx, conversationID)
}

func (s *Service) pairLock(userA, userB string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(pairKey(userA, userB)))
	return &s.pairLocks[h.Sum32()%pairLockStripes]
}
