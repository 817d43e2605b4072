// Package storage manages the local directory holding article copies.
package storage

import (
	"os"

	"github.com/starford/distwiki/internal/models"
)

// Provider is the interface for local article file operations.
// Every name is a path relative to the article directory.
type Provider interface {
	// List returns every article copy, skipping in-flight temp files.
	List() ([]models.LocalArticle, error)
	Read(name string) ([]byte, error)
	// Write atomically writes content to name.
	Write(name string, content []byte) error
	Delete(name string) error
	Move(oldName, newName string) error
	Exists(name string) (bool, error)
	// Abs resolves name to an absolute path inside the directory.
	Abs(name string) (string, error)
	// CreateTemp creates a hidden temp file in the directory and returns it
	// together with its relative name.
	CreateTemp() (*os.File, string, error)
}
