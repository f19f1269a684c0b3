package domain

import "time"

// ModelConfig describes a generation model and the backend that serves it.
type ModelConfig struct {
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// RemoteModel is the model identifier sent to the backend.
	RemoteModel string `json:"remote_model"`
	BackendURL  string `json:"backend_url"`
	APIKey      string `json:"-"`
	// Cost is the number of points deducted per generation.
	Cost      int64     `json:"cost"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequestModel returns the model identifier to send to the backend,
// falling back to the config ID when no remote name is configured.
func (m *ModelConfig) RequestModel() string {
	if m.RemoteModel != "" {
		return m.RemoteModel
	}
	return m.ID
}
