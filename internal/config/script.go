package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_script.yaml
var defaultScript []byte

// Script errors
var (
	ErrNoQuestions        = errors.New("script must contain at least one question")
	ErrEmptyGreeting      = errors.New("script greeting cannot be empty")
	ErrEmptyContactPrompt = errors.New("script contact request cannot be empty")
)

// Script holds every user-facing line of the conversation.
type Script struct {
	Greeting       string   `yaml:"greeting"`
	Questions      []string `yaml:"questions"`
	QuestionLabels []string `yaml:"question_labels"`
	ContactRequest string   `yaml:"contact_request"`
	Messages       Messages `yaml:"messages"`
}

// Messages are the fixed replies used outside the question sequence.
type Messages struct {
	ResumeQuestion string `yaml:"resume_question"`
	ResumeContact  string `yaml:"resume_contact"`
	PhoneInvalid   string `yaml:"phone_invalid"`
	Confirmation   string `yaml:"confirmation"`
	SurveyReminder string `yaml:"survey_reminder"`
	FirstReminder  string `yaml:"first_reminder"`
	FinalReminder  string `yaml:"final_reminder"`
	Apology        string `yaml:"apology"`
}

// DefaultScript returns the embedded script.
func DefaultScript() (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(defaultScript, &s); err != nil {
		return nil, fmt.Errorf("failed to parse embedded script: %w", err)
	}
	return &s, nil
}

// LoadScript reads a YAML script from path layered over the embedded default.
// An empty path returns the default script.
func LoadScript(path string) (*Script, error) {
	s, err := DefaultScript()
	if err != nil {
		return nil, err
	}
	if path == "" {
		slog.Debug("No script path configured, using embedded script", "questions", len(s.Questions))
		return s, s.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse script %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", path, err)
	}
	slog.Info("Conversation script loaded", "path", path, "questions", len(s.Questions), "labels", len(s.QuestionLabels))
	return s, nil
}

// Validate checks the fields the conversation cannot run without.
func (s *Script) Validate() error {
	if len(s.Questions) == 0 {
		return ErrNoQuestions
	}
	if strings.TrimSpace(s.Greeting) == "" {
		return ErrEmptyGreeting
	}
	if strings.TrimSpace(s.ContactRequest) == "" {
		return ErrEmptyContactPrompt
	}
	return nil
}

// Render substitutes {key} placeholders with the given key/value pairs.
func Render(tmpl string, kv ...string) string {
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
