package memory

import (
	"strconv"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/vibe-coding-tgbot-go/internal/models"
)

// chatLog is one chat's bounded turn history
type chatLog struct {
	mu    sync.Mutex
	turns []models.Message
}

// Store keeps the last N turns of every chat in process memory
type Store struct {
	logs     *cache.Cache
	capacity int
	logger   logrus.FieldLogger
}

// NewStore creates a store that keeps 2*maxTurns messages per chat.
// maxTurns <= 0 keeps no history at all.
func NewStore(maxTurns int, logger logrus.FieldLogger) *Store {
	capacity := 2 * maxTurns
	if capacity < 0 {
		capacity = 0
	}
	return &Store{
		logs:     cache.New(cache.NoExpiration, 0),
		capacity: capacity,
		logger:   logger,
	}
}

// Capacity returns the maximum number of stored turns per chat
func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) log(chatID int64, create bool) *chatLog {
	key := strconv.FormatInt(chatID, 10)
	if v, found := s.logs.Get(key); found {
		return v.(*chatLog)
	}
	if !create {
		return nil
	}

	l := &chatLog{}
	if err := s.logs.Add(key, l, cache.NoExpiration); err != nil {
		v, _ := s.logs.Get(key)
		return v.(*chatLog)
	}
	return l
}

// Remember appends one turn, evicting the oldest when the chat is full
func (s *Store) Remember(chatID int64, role, content string) {
	s.RememberAll(chatID, models.Message{Role: role, Content: content})
}

// RememberExchange appends a user turn and the reply to it as one step
func (s *Store) RememberExchange(chatID int64, user, assistant string) {
	s.RememberAll(chatID,
		models.Message{Role: models.RoleUser, Content: user},
		models.Message{Role: models.RoleAssistant, Content: assistant},
	)
}

// RememberAll appends the turns in order under a single lock
func (s *Store) RememberAll(chatID int64, turns ...models.Message) {
	if s.capacity == 0 || len(turns) == 0 {
		return
	}

	l := s.log(chatID, true)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.turns = append(l.turns, turns...)
	if over := len(l.turns) - s.capacity; over > 0 {
		// copy down so the backing array does not grow without bound
		l.turns = append(l.turns[:0], l.turns[over:]...)
		s.logger.WithFields(logrus.Fields{
			"chat_id": chatID,
			"evicted": over,
		}).Debug("Evicted oldest turns")
	}
}

// Get returns a copy of the chat's turns, oldest first
func (s *Store) Get(chatID int64) []models.Message {
	l := s.log(chatID, false)
	if l == nil {
		return []models.Message{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Message, len(l.turns))
	copy(out, l.turns)
	return out
}

// Clear forgets everything about the chat
func (s *Store) Clear(chatID int64) {
	s.logs.Delete(strconv.FormatInt(chatID, 10))
}

// BuildPromptContext returns the system prompt, the stored history and the new user turn.
// It does not store the new turn.
func (s *Store) BuildPromptContext(chatID int64, systemPrompt, userText string) []models.Message {
	history := s.Get(chatID)

	messages := make([]models.Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: userText})
	return messages
}

// ChatCount returns the number of chats with stored history
func (s *Store) ChatCount() int {
	return s.logs.ItemCount()
}
