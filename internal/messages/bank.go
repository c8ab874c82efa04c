package messages

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"
)

// AuthorPlaceholder is replaced with the author's display name in intro lines.
const AuthorPlaceholder = "{author}"

//go:embed messages.yaml
var defaultBank []byte

// Bank holds the alternative phrasings for each section of a feedback comment.
type Bank struct {
	Intro      []string `yaml:"intro"`
	MissingAlt []string `yaml:"missing_alt"`
	EmptyAlt   []string `yaml:"empty_alt"`
	AriaIssue  []string `yaml:"aria_issue"`
	Closing    []string `yaml:"closing"`
}

// Rand is the source of randomness used to pick a phrasing. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

// Default returns the built-in message bank.
func Default() *Bank {
	b, err := Parse(defaultBank)
	if err != nil {
		panic(fmt.Sprintf("messages: embedded bank is invalid: %v", err))
	}
	return b
}

// Load reads a message bank from a YAML file. Every phrasing is passed
// through a user-generated-content sanitizer, which drops scripts and
// entity-encodes quotes and apostrophes in text.
func Load(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read message bank: %w", err)
	}
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("message bank %s: unmarshal: %w", path, err)
	}
	b.sanitize(bluemonday.UGCPolicy())
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("message bank %s: %w", path, err)
	}
	return &b, nil
}

func (b *Bank) sanitize(policy *bluemonday.Policy) {
	for _, section := range []*[]string{&b.Intro, &b.MissingAlt, &b.EmptyAlt, &b.AriaIssue, &b.Closing} {
		for i, e := range *section {
			(*section)[i] = policy.Sanitize(e)
		}
	}
}

// Parse decodes a YAML message bank and checks that every section has at
// least one phrasing.
func Parse(data []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal message bank: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Bank) validate() error {
	sections := []struct {
		name    string
		entries []string
	}{
		{"intro", b.Intro},
		{"missing_alt", b.MissingAlt},
		{"empty_alt", b.EmptyAlt},
		{"aria_issue", b.AriaIssue},
		{"closing", b.Closing},
	}
	for _, s := range sections {
		if len(s.entries) == 0 {
			return fmt.Errorf("section %q needs at least one phrasing", s.name)
		}
		for i, e := range s.entries {
			if e == "" {
				return fmt.Errorf("section %q: entry %d is empty", s.name, i)
			}
		}
	}
	return nil
}

// Pick returns one of options chosen uniformly by rng. It returns "" when
// options is empty.
func Pick(options []string, rng Rand) string {
	if len(options) == 0 {
		return ""
	}
	return options[rng.IntN(len(options))]
}

// SyncRand serializes access to a Rand so one source can be shared by
// concurrent callers.
type SyncRand struct {
	mu  sync.Mutex
	rng Rand
}

// NewSyncRand wraps rng.
func NewSyncRand(rng Rand) *SyncRand {
	return &SyncRand{rng: rng}
}

func (s *SyncRand) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}
