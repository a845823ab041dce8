// Package todo persists per-conversation task lists. Todo tracking is
// best-effort bookkeeping: disk failures are logged and swallowed, and a
// corrupted or missing file reads as an empty list.
package todo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is a todo's lifecycle state. Transitions are free-form; the turn
// loop only ever asks whether any non-completed item exists.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Todo is one tracked task. IDs are unique within a conversation.
type Todo struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  Status `json:"status"`
}

// Patch is a partial todo used by Merge. Nil fields are left untouched on an
// existing todo with the same id.
type Patch struct {
	ID      string  `json:"id"`
	Content *string `json:"content,omitempty"`
	Status  *Status `json:"status,omitempty"`
}

// document is the on-disk layout: one JSON file per conversation.
type document struct {
	Todos     []Todo    `json:"todos"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store reads and writes todo lists keyed by conversation id. Safe for
// concurrent use; a single mutex per store is enough because todo traffic is
// tiny.
type Store struct {
	mu  sync.Mutex
	dir string
	log *zap.Logger
}

// NewStore creates a store writing under root/.appforge/todos.
func NewStore(root string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: filepath.Join(root, ".appforge", "todos"), log: log}
}

// validID rejects conversation ids that could name a file outside the todo
// directory. Ids are opaque tokens (uuids, "sub:"-prefixed uuids); anything
// with a path separator or dot-dot segment is hostile input.
func validID(conversationID string) bool {
	return conversationID != "" &&
		!strings.ContainsAny(conversationID, `/\`) &&
		!strings.Contains(conversationID, "..")
}

func (s *Store) path(conversationID string) string {
	return filepath.Join(s.dir, conversationID+".json")
}

// Load returns the conversation's todos. Missing or corrupted files are an
// empty list, never an error.
func (s *Store) Load(conversationID string) []Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(conversationID)
}

func (s *Store) load(conversationID string) []Todo {
	if !validID(conversationID) {
		return nil
	}
	data, err := os.ReadFile(s.path(conversationID))
	if err != nil {
		return nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn("todo file corrupted, treating as empty",
			zap.String("conversation", conversationID), zap.Error(err))
		return nil
	}
	return doc.Todos
}

// Save replaces the conversation's full list. When every todo is completed
// the file is removed instead; the list has served its purpose.
func (s *Store) Save(conversationID string, todos []Todo) []Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist(conversationID, todos)
	return todos
}

// Merge upserts the given patches by id: existing todos take only the
// provided fields, unknown ids insert as new todos (which then need both
// content and status). Untouched items are preserved. Returns the resulting
// list; on persistence failure the merged list is still returned, matching
// the "list unchanged on disk" policy.
func (s *Store) Merge(conversationID string, patches []Patch) ([]Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	todos := s.load(conversationID)
	index := make(map[string]int, len(todos))
	for i, t := range todos {
		index[t.ID] = i
	}

	for _, p := range patches {
		if p.ID == "" {
			return nil, fmt.Errorf("todo patch missing id")
		}
		if i, ok := index[p.ID]; ok {
			if p.Content != nil {
				todos[i].Content = *p.Content
			}
			if p.Status != nil {
				todos[i].Status = *p.Status
			}
			continue
		}
		if p.Content == nil || p.Status == nil {
			return nil, fmt.Errorf("new todo %q requires content and status", p.ID)
		}
		index[p.ID] = len(todos)
		todos = append(todos, Todo{ID: p.ID, Content: *p.Content, Status: *p.Status})
	}

	s.persist(conversationID, todos)
	return todos, nil
}

// Clear removes the conversation's todo file.
func (s *Store) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validID(conversationID) {
		return
	}
	if err := os.Remove(s.path(conversationID)); err != nil && !os.IsNotExist(err) {
		s.log.Warn("todo clear failed", zap.String("conversation", conversationID), zap.Error(err))
	}
}

// AnyIncomplete reports whether the conversation has a todo that is not yet
// completed.
func (s *Store) AnyIncomplete(conversationID string) bool {
	for _, t := range s.Load(conversationID) {
		if t.Status != StatusCompleted {
			return true
		}
	}
	return false
}

func allCompleted(todos []Todo) bool {
	for _, t := range todos {
		if t.Status != StatusCompleted {
			return false
		}
	}
	return len(todos) > 0
}

// persist writes the document, or removes it when the list is fully
// completed or empty. Failures are logged and swallowed.
func (s *Store) persist(conversationID string, todos []Todo) {
	if !validID(conversationID) {
		s.log.Warn("todo persist skipped for unsafe conversation id",
			zap.String("conversation", conversationID))
		return
	}
	path := s.path(conversationID)

	if len(todos) == 0 || allCompleted(todos) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("todo file remove failed", zap.String("conversation", conversationID), zap.Error(err))
		}
		return
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Warn("todo dir create failed", zap.String("conversation", conversationID), zap.Error(err))
		return
	}
	doc := document{Todos: todos, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.log.Warn("todo marshal failed", zap.String("conversation", conversationID), zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Warn("todo write failed", zap.String("conversation", conversationID), zap.Error(err))
	}
}
