package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEntry est une ligne de `console.audit` : copie fidèle d'une
// transition métier avec son état complet.
type AuditEntry struct {
	Timestamp string          `json:"timestamp"`
	EventType string          `json:"event_type"`
	Subject   string          `json:"subject"`
	Actor     string          `json:"actor,omitempty"`
	Published bool            `json:"published"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AuditLog implémente la piste d'audit.
type AuditLog struct {
	mu      sync.Mutex
	encoder *json.Encoder
	closer  io.Closer
	now     func() time.Time
}

// NewAuditLog crée une piste d'audit sur un writer.
func NewAuditLog(out io.Writer) *AuditLog {
	return &AuditLog{encoder: json.NewEncoder(out), now: time.Now}
}

// OpenAuditLog ouvre la piste d'audit en mode ajout ; "" ou "-" vise stdout.
func OpenAuditLog(path string) (*AuditLog, error) {
	if path == "" || path == "-" {
		return NewAuditLog(os.Stdout), nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("impossible d'ouvrir le fichier %s: %w", path, err)
	}
	a := NewAuditLog(file)
	a.closer = file
	return a, nil
}

// WithClock remplace l'horloge utilisée pour l'horodatage (tests).
func (a *AuditLog) WithClock(now func() time.Time) *AuditLog {
	a.now = now
	return a
}

// Record enregistre une transition. payload est sérialisé tel quel ;
// publishErr signale un échec de publication sur le bus.
func (a *AuditLog) Record(eventType, subject string, payload any, publishErr error) {
	if a == nil {
		return
	}
	entry := AuditEntry{
		EventType: eventType,
		Subject:   subject,
		Published: publishErr == nil,
	}
	if publishErr != nil {
		entry.Error = publishErr.Error()
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			entry.Error = fmt.Sprintf("sérialisation impossible: %v", err)
		} else {
			entry.Payload = raw
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	entry.Timestamp = a.now().UTC().Format(time.RFC3339)
	_ = a.encoder.Encode(entry)
}

// Close ferme le fichier sous-jacent s'il y en a un.
func (a *AuditLog) Close() {
	if a != nil && a.closer != nil {
		_ = a.closer.Close()
	}
}
