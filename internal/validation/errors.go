package validation

import (
	"errors"
	"fmt"
)

// ErrInvalid est la cause commune de toutes les erreurs de validation.
var ErrInvalid = errors.New("entrée invalide")

// FieldError identifie le champ fautif d'une entrée rejetée.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap permet errors.Is(err, ErrInvalid).
func (e *FieldError) Unwrap() error {
	return ErrInvalid
}

// Field construit une erreur de validation pour un champ.
func Field(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// Fieldf construit une erreur de validation avec un message formaté.
func Fieldf(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FieldOf renvoie le champ fautif si err contient une FieldError.
func FieldOf(err error) (string, bool) {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field, true
	}
	return "", false
}
