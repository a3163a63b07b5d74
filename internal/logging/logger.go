/*
Package logging fournit les deux journaux de la console :

  - le journal applicatif (`console.log`) : entrées JSON structurées
    (démarrage, arrêt, erreurs, métriques) destinées au monitoring ;
  - la piste d'audit (`console.audit`) : une ligne JSON par transition de
    contrat ou commande, avec l'état complet, qui sert de source de vérité
    pour le rejeu et le débogage.

Les deux écrivains sont sûrs en concurrence et acceptent n'importe quel io.Writer.
*/
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level définit les niveaux de sévérité des logs structurés.
type Level string

const (
	LevelINFO  Level = "INFO"
	LevelWARN  Level = "WARN"
	LevelERROR Level = "ERROR"
)

// Entry est la structure d'une ligne du journal applicatif.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Service   string         `json:"service"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger écrit des entrées JSON, une par ligne.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	closer  io.Closer
	encoder *json.Encoder
	service string
	now     func() time.Time
}

// New crée un logger sur un writer quelconque.
func New(out io.Writer, service string) *Logger {
	return &Logger{
		out:     out,
		encoder: json.NewEncoder(out),
		service: service,
		now:     time.Now,
	}
}

// Open ouvre (ou crée) un fichier en mode ajout. Un chemin vide ou "-"
// journalise sur la sortie standard.
func Open(path, service string) (*Logger, error) {
	if path == "" || path == "-" {
		return New(os.Stdout, service), nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("impossible d'ouvrir le fichier %s: %w", path, err)
	}
	l := New(file, service)
	l.closer = file
	return l, nil
}

// WithClock remplace l'horloge utilisée pour l'horodatage (tests).
func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}

// Log écrit une entrée structurée.
func (l *Logger) Log(level Level, message string, metadata map[string]any) {
	l.write(Entry{Level: level, Message: message, Metadata: metadata})
}

// Info est un raccourci pour Log(LevelINFO, ...).
func (l *Logger) Info(message string, metadata map[string]any) {
	l.Log(LevelINFO, message, metadata)
}

// Warn est un raccourci pour Log(LevelWARN, ...).
func (l *Logger) Warn(message string, metadata map[string]any) {
	l.Log(LevelWARN, message, metadata)
}

// Error écrit une entrée ERROR accompagnée du message de l'erreur.
func (l *Logger) Error(message string, err error, metadata map[string]any) {
	entry := Entry{Level: LevelERROR, Message: message, Metadata: metadata}
	if err != nil {
		entry.Error = err.Error()
	}
	l.write(entry)
}

func (l *Logger) write(entry Entry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = l.now().UTC().Format(time.RFC3339)
	entry.Service = l.service
	_ = l.encoder.Encode(entry)
}

// Close ferme le fichier sous-jacent s'il y en a un.
func (l *Logger) Close() {
	if l != nil && l.closer != nil {
		_ = l.closer.Close()
	}
}
