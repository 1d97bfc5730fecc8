package memory

import (
	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/wire"
)

// Message is one stored utterance. Similarity is set on query results.
type Message struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	Content    string   `json:"content"`
	IsBot      bool     `json:"is_bot"`
	Timestamp  int64    `json:"timestamp"`
	Similarity *float32 `json:"similarity,omitempty"`
}

// UserInfo counts the memories held for a user.
type UserInfo struct {
	UserID      string `json:"user_id"`
	MemoryCount int    `json:"memory_count"`
}

// ModelInfo describes an embedding model the sidecar can load.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Dimension   int    `json:"dimension"`
	IsLoaded    bool   `json:"is_loaded"`
}

// Store saves content for a user. A zero Timestamp means now.
type Store struct {
	Content   string `json:"content"`
	UserID    string `json:"user_id"`
	IsBot     bool   `json:"is_bot"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (Store) MessageType() string { return "store" }

// Query searches one user's memories.
type Query struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

func (Query) MessageType() string { return "query" }

// QueryAll searches every user's memories.
type QueryAll struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (QueryAll) MessageType() string { return "query_all" }

// BrowseRecent lists the newest memories, optionally filtered.
type BrowseRecent struct {
	Limit  int     `json:"limit"`
	UserID *string `json:"user_id,omitempty"`
	IsBot  *bool   `json:"is_bot,omitempty"`
}

func (BrowseRecent) MessageType() string { return "browse_recent" }

type ListUsers struct{}

func (ListUsers) MessageType() string { return "list_users" }

type CountRequest struct{}

func (CountRequest) MessageType() string { return "count" }

type ClearAll struct{}

func (ClearAll) MessageType() string { return "clear_all" }

// Cleanup deletes memories older than TTLDays.
type Cleanup struct {
	TTLDays int `json:"ttl_days"`
}

func (Cleanup) MessageType() string { return "cleanup" }

type StatusRequest struct{}

func (StatusRequest) MessageType() string { return "status" }

type ListModels struct{}

func (ListModels) MessageType() string { return "list_models" }

// LoadModel switches the embedding model.
type LoadModel struct {
	ModelID string `json:"model_id"`
}

func (LoadModel) MessageType() string { return "load_model" }

type GetCurrentModel struct{}

func (GetCurrentModel) MessageType() string { return "get_current_model" }

// Stored acknowledges a store with the new record id.
type Stored struct {
	ID string `json:"id"`
}

func (Stored) MessageType() string { return "stored" }

type Results struct {
	Messages []Message `json:"messages"`
}

func (Results) MessageType() string { return "results" }

type Users struct {
	Users []UserInfo `json:"users"`
}

func (Users) MessageType() string { return "users" }

type Count struct {
	Total int `json:"total"`
}

func (Count) MessageType() string { return "count" }

type Cleared struct {
	Deleted int `json:"deleted"`
}

func (Cleared) MessageType() string { return "cleared" }

type CleanupDone struct {
	Deleted int `json:"deleted"`
}

func (CleanupDone) MessageType() string { return "cleanup_done" }

type Status struct {
	Ready          bool   `json:"ready"`
	ModelLoaded    bool   `json:"model_loaded"`
	CurrentModelID string `json:"current_model_id,omitempty"`
}

func (Status) MessageType() string { return "status" }

type Models struct {
	Models []ModelInfo `json:"models"`
}

func (Models) MessageType() string { return "models" }

type CurrentModel struct {
	ModelID string `json:"model_id"`
}

func (CurrentModel) MessageType() string { return "current_model" }

type ModelLoaded struct {
	ModelID string `json:"model_id"`
}

func (ModelLoaded) MessageType() string { return "model_loaded" }

// Requests decodes what the parent sends.
var Requests = wire.NewTable("memory request",
	func() wire.Message { return new(Store) },
	func() wire.Message { return new(Query) },
	func() wire.Message { return new(QueryAll) },
	func() wire.Message { return new(BrowseRecent) },
	func() wire.Message { return new(ListUsers) },
	func() wire.Message { return new(CountRequest) },
	func() wire.Message { return new(ClearAll) },
	func() wire.Message { return new(Cleanup) },
	func() wire.Message { return new(StatusRequest) },
	func() wire.Message { return new(ListModels) },
	func() wire.Message { return new(LoadModel) },
	func() wire.Message { return new(GetCurrentModel) },
	func() wire.Message { return new(wire.Shutdown) },
)

// Responses decodes what the sidecar sends back.
var Responses = wire.NewTable("memory response",
	func() wire.Message { return new(wire.Ok) },
	func() wire.Message { return new(wire.Error) },
	func() wire.Message { return new(Stored) },
	func() wire.Message { return new(Results) },
	func() wire.Message { return new(Users) },
	func() wire.Message { return new(Count) },
	func() wire.Message { return new(Cleared) },
	func() wire.Message { return new(CleanupDone) },
	func() wire.Message { return new(Status) },
	func() wire.Message { return new(Models) },
	func() wire.Message { return new(CurrentModel) },
	func() wire.Message { return new(ModelLoaded) },
)

// Protocol is the memory sidecar's framing. It has no events.
var Protocol = sidecar.Protocol{Responses: Responses}
