package sweep

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zenlist/notifier/internal/notification"
	"github.com/zenlist/notifier/pkg/database"
)

// Todo is an incomplete todo with a due date, as the sweep sees it.
type Todo struct {
	ID       string
	UserID   string
	Title    string
	Priority string
	DueDate  time.Time
	// Email of the owner, empty when the profile has none.
	Email string
}

func (t Todo) ref() notification.TodoRef {
	due := t.DueDate
	return notification.TodoRef{ID: t.ID, Title: t.Title, DueDate: &due, Priority: t.Priority}
}

// TodoSource queries incomplete todos by due date.
type TodoSource interface {
	// DueBetween returns todos due in [from, to).
	DueBetween(ctx context.Context, from, to time.Time) ([]Todo, error)
	// DueBefore returns todos due strictly before t.
	DueBefore(ctx context.Context, t time.Time) ([]Todo, error)
}

// PostgresTodoSource reads the todo service's tables.
type PostgresTodoSource struct {
	db database.DB
}

func NewPostgresTodoSource(db *sql.DB) *PostgresTodoSource {
	return &PostgresTodoSource{db: database.Wrap(db)}
}

func NewTestPostgresTodoSource(db database.DB) *PostgresTodoSource {
	return &PostgresTodoSource{db: db}
}

const todoQuery = `SELECT t.id, t.user_id, t.title, COALESCE(t.priority, ''), t.due_date, COALESCE(p.email, '')
	FROM todos t
	LEFT JOIN user_profiles p ON p.user_id = t.user_id
	WHERE t.is_completed = FALSE AND t.due_date IS NOT NULL`

func (s *PostgresTodoSource) DueBetween(ctx context.Context, from, to time.Time) ([]Todo, error) {
	return s.query(ctx, todoQuery+` AND t.due_date >= $1 AND t.due_date < $2 ORDER BY t.due_date`, from, to)
}

func (s *PostgresTodoSource) DueBefore(ctx context.Context, t time.Time) ([]Todo, error) {
	return s.query(ctx, todoQuery+` AND t.due_date < $1 ORDER BY t.due_date`, t)
}

func (s *PostgresTodoSource) query(ctx context.Context, q string, args ...any) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	var todos []Todo
	for rows.Next() {
		var t Todo
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Priority, &t.DueDate, &t.Email); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// MemoryTodoSource is an in-process TodoSource for tests and local runs.
type MemoryTodoSource struct {
	mu    sync.RWMutex
	todos map[string]memTodo
}

type memTodo struct {
	Todo
	completed bool
}

func NewMemoryTodoSource() *MemoryTodoSource {
	return &MemoryTodoSource{todos: make(map[string]memTodo)}
}

// Put adds or replaces a todo.
func (m *MemoryTodoSource) Put(t Todo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.todos[t.ID] = memTodo{Todo: t}
}

// Complete marks a todo done so it drops out of both queries.
func (m *MemoryTodoSource) Complete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.todos[id]; ok {
		t.completed = true
		m.todos[id] = t
	}
}

// Apply keeps the source in step with a todo lifecycle event. Todos without a due date
// are dropped since neither sweep query can match them.
func (m *MemoryTodoSource) Apply(e *notification.TodoEvent) {
	switch e.Kind {
	case "todo.completed":
		m.Complete(e.Todo.ID)
	case "todo.deleted":
		m.mu.Lock()
		delete(m.todos, e.Todo.ID)
		m.mu.Unlock()
	case "todo.created", "todo.updated":
		if e.Todo.DueDate == nil {
			m.mu.Lock()
			delete(m.todos, e.Todo.ID)
			m.mu.Unlock()
			return
		}
		m.Put(Todo{
			ID:       e.Todo.ID,
			UserID:   e.UserID,
			Title:    e.Todo.Title,
			Priority: e.Todo.Priority,
			DueDate:  *e.Todo.DueDate,
			Email:    e.Email,
		})
	}
}

func (m *MemoryTodoSource) DueBetween(_ context.Context, from, to time.Time) ([]Todo, error) {
	return m.filter(func(t Todo) bool { return !t.DueDate.Before(from) && t.DueDate.Before(to) }), nil
}

func (m *MemoryTodoSource) DueBefore(_ context.Context, before time.Time) ([]Todo, error) {
	return m.filter(func(t Todo) bool { return t.DueDate.Before(before) }), nil
}

func (m *MemoryTodoSource) filter(match func(Todo) bool) []Todo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Todo
	for _, t := range m.todos {
		if !t.completed && match(t.Todo) {
			out = append(out, t.Todo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}
