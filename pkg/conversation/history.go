package conversation

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MaxMessages is the number of messages kept per user
const MaxMessages = 20

// Role identifies who wrote a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a user's conversation
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Config configures a Store
type Config struct {
	MaxMessages int
	// MaxUsers bounds how many conversations are kept; the least recently active is evicted first
	MaxUsers int
	// IdleTTL evicts a conversation this long after its last message
	IdleTTL time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxMessages: MaxMessages,
		MaxUsers:    10000,
		IdleTTL:     24 * time.Hour,
	}
}

// Store keeps a bounded message history per user
type Store struct {
	mu          sync.Mutex
	users       *lru.LRU[string, []Message]
	maxMessages int
	clock       func() time.Time
}

// NewStore creates a new Store
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = def.MaxUsers
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}

	return &Store{
		users:       lru.NewLRU[string, []Message](cfg.MaxUsers, nil, cfg.IdleTTL),
		maxMessages: cfg.MaxMessages,
		clock:       time.Now,
	}
}

// Add appends a message to the user's history. Blank messages are ignored;
// the oldest messages are dropped once the history is full.
func (s *Store) Add(userID string, role Role, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, _ := s.users.Get(userID)
	history = append(history, Message{Role: role, Content: content, Timestamp: s.clock()})
	if excess := len(history) - s.maxMessages; excess > 0 {
		history = append([]Message(nil), history[excess:]...)
	}
	s.users.Add(userID, history)
}

// Get returns a copy of the user's history, oldest first
func (s *Store) Get(userID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.users.Peek(userID)
	if !ok {
		return []Message{}
	}
	return append([]Message(nil), history...)
}

// Clear forgets the user's history
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users.Remove(userID)
}

// Size returns the number of messages kept for the user
func (s *Store) Size(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, _ := s.users.Peek(userID)
	return len(history)
}

// Users returns the number of conversations currently kept
func (s *Store) Users() int {
	return s.users.Len()
}

// String renders the history as "User: ..." and "Assistant: ..." lines
func (s *Store) String(userID string) string {
	history := s.Get(userID)
	lines := make([]string, 0, len(history))
	for _, m := range history {
		speaker := "Assistant"
		if m.Role == RoleUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// EstimateTokens estimates the token count of the history at four characters per token
func (s *Store) EstimateTokens(userID string) int {
	return estimateTokens(s.Get(userID))
}

func estimateTokens(history []Message) int {
	chars := 0
	for _, m := range history {
		chars += len([]rune(m.Content))
	}
	return (chars + 3) / 4
}

func pruneTokens(history []Message, maxTokens int) []Message {
	for len(history) > 0 && estimateTokens(history) > maxTokens {
		history = history[1:]
	}
	return history
}

// Preview returns the user's history as it would be after adding content
// and pruning to maxTokens, without storing anything.
func (s *Store) Preview(userID string, role Role, content string, maxTokens int) []Message {
	history := s.Get(userID)
	if content = strings.TrimSpace(content); content != "" {
		history = append(history, Message{Role: role, Content: content, Timestamp: s.clock()})
	}
	if excess := len(history) - s.maxMessages; excess > 0 {
		history = history[excess:]
	}
	return append([]Message{}, pruneTokens(history, maxTokens)...)
}

// PruneToTokens drops the oldest messages until the estimate fits maxTokens
func (s *Store) PruneToTokens(userID string, maxTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.users.Peek(userID)
	if !ok {
		return
	}
	history = pruneTokens(history, maxTokens)
	if len(history) == 0 {
		s.users.Remove(userID)
		return
	}
	s.users.Add(userID, append([]Message(nil), history...))
}
