package chat

import "sync"

// mruNode is one conversation in a user's recency list. Nodes are threaded
// into a doubly linked list and indexed by the owning list's map, so both
// membership checks and move-to-front are O(1).
type mruNode struct {
	conversationID string
	prev           *mruNode
	next           *mruNode
}

// mruList holds one user's conversations, most-recently-touched first.
type mruList struct {
	mu    sync.Mutex
	nodes map[string]*mruNode
	head  *mruNode
	tail  *mruNode
}

func newMRUList() *mruList {
	return &mruList{nodes: make(map[string]*mruNode)}
}

func (l *mruList) touch(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if node, ok := l.nodes[conversationID]; ok {
		l.moveToFront(node)
		return
	}
	node := &mruNode{conversationID: conversationID}
	l.nodes[conversationID] = node
	l.pushFront(node)
}

func (l *mruList) pushFront(node *mruNode) {
	if l.head == nil {
		l.head = node
		l.tail = node
		return
	}
	node.next = l.head
	l.head.prev = node
	l.head = node
}

func (l *mruList) moveToFront(node *mruNode) {
	if node == l.head {
		return
	}
	if node == l.tail {
		l.tail = node.prev
		l.tail.next = nil
	} else {
		node.prev.next = node.next
		node.next.prev = node.prev
	}
	node.prev = nil
	node.next = l.head
	l.head.prev = node
	l.head = node
}

func (l *mruList) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.nodes))
	for node := l.head; node != nil; node = node.next {
		ids = append(ids, node.conversationID)
	}
	return ids
}

// MRUIndex tracks, per user, which conversations were touched most recently.
// Each user owns an independent list with its own lock; the outer lock only
// guards the user map, so unrelated users never contend.
type MRUIndex struct {
	mu    sync.RWMutex
	users map[string]*mruList
}

func NewMRUIndex() *MRUIndex {
	return &MRUIndex{users: make(map[string]*mruList)}
}

// Touch moves the conversation to the front of the user's recency list,
// inserting it if absent. The user's list is created lazily on first touch.
func (idx *MRUIndex) Touch(userID, conversationID string) {
	idx.userList(userID).touch(conversationID)
}

// List returns the user's conversation ids, most-recently-touched first.
// A user that was never touched gets an empty list.
func (idx *MRUIndex) List(userID string) []string {
	idx.mu.RLock()
	l, ok := idx.users[userID]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	return l.list()
}

func (idx *MRUIndex) userList(userID string) *mruList {
	idx.mu.RLock()
	l, ok := idx.users[userID]
	idx.mu.RUnlock()
	if ok {
		return l
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if l, ok = idx.users[userID]; ok {
		return l
	}
	l = newMRUList()
	idx.users[userID] = l
	return l
}
