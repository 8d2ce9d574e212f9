// Package prompts holds the system prompt for each pipeline stage. Built-in
// prompts are embedded; a directory can override any of them file by file.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

type Stage string

const (
	StageIntent  Stage = "intent"
	StageQuery   Stage = "query"
	StageExplain Stage = "explain"
	StageChart   Stage = "chart"
	StageSummary Stage = "summary"
)

// Stages lists every stage that has a prompt.
var Stages = []Stage{StageIntent, StageQuery, StageExplain, StageChart, StageSummary}

const identityFile = "identity.md"

//go:embed defaults/*.md
var defaults embed.FS

type Manager struct {
	Directory string
}

// NewManager returns a Manager that prefers files in dir over the embedded
// defaults. An empty dir uses the defaults only.
func NewManager(dir string) *Manager {
	return &Manager{Directory: dir}
}

// Get returns the system prompt for stage: the shared identity followed by
// the stage directive.
func (m *Manager) Get(stage Stage) (string, error) {
	identity, err := m.read(identityFile)
	if err != nil {
		return "", err
	}
	directive, err := m.read(string(stage) + ".md")
	if err != nil {
		return "", fmt.Errorf("prompt for stage %s: %w", stage, err)
	}
	return strings.TrimSpace(identity) + "\n\n---\n\n" + strings.TrimSpace(directive), nil
}

// Validate checks that every stage resolves to a prompt.
func (m *Manager) Validate() error {
	for _, s := range Stages {
		if _, err := m.Get(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) read(name string) (string, error) {
	if m.Directory != "" {
		path := filepath.Join(m.Directory, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
		}
	}
	data, err := defaults.ReadFile("defaults/" + name)
	if err != nil {
		return "", fmt.Errorf("no prompt named %s", name)
	}
	return string(data), nil
}
