package service

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fieldcrew/backend/internal/models"
)

type MatchMode string

const (
	// MatchExact accepts a worker skill only when it equals an alias.
	MatchExact MatchMode = "exact"
	// MatchContains also accepts substring containment in either direction.
	MatchContains MatchMode = "contains"
)

func ParseMatchMode(value string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", MatchExact:
		return MatchExact, nil
	case MatchContains:
		return MatchContains, nil
	default:
		return "", fmt.Errorf("unknown skill match mode %q", value)
	}
}

var equipmentKeywords = []string{"mower", "chainsaw", "truck", "excavator", "grinder", "skid steer"}

//go:embed skill_aliases.yaml
var defaultAliasesYAML []byte

type skillAliasFile struct {
	Version  int                 `yaml:"version"`
	Services map[string][]string `yaml:"services"`
}

// SkillAliases maps a service type to the skill names that qualify a
// worker for it.
type SkillAliases struct {
	Version int
	index   map[string][]string
}

func ParseSkillAliases(data []byte) (*SkillAliases, error) {
	var f skillAliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse skill aliases: %w", err)
	}
	if f.Version < 1 {
		return nil, fmt.Errorf("skill aliases: missing or invalid version %d", f.Version)
	}
	a := &SkillAliases{Version: f.Version, index: make(map[string][]string, len(f.Services))}
	for service, names := range f.Services {
		key := normalizeName(service)
		if key == "" {
			continue
		}
		for _, n := range names {
			if n = normalizeName(n); n != "" {
				a.index[key] = append(a.index[key], n)
			}
		}
	}
	return a, nil
}

// LoadSkillAliases reads the alias table from path, or the built-in table
// when path is empty.
func LoadSkillAliases(path string) (*SkillAliases, error) {
	if strings.TrimSpace(path) == "" {
		return ParseSkillAliases(defaultAliasesYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill aliases: %w", err)
	}
	return ParseSkillAliases(data)
}

func DefaultSkillAliases() *SkillAliases {
	a, err := ParseSkillAliases(defaultAliasesYAML)
	if err != nil {
		panic(err)
	}
	return a
}

// Acceptable returns the normalized skill names for serviceType, or nil
// when the table has no entry.
func (a *SkillAliases) Acceptable(serviceType string) []string {
	if a == nil {
		return nil
	}
	return a.index[normalizeName(serviceType)]
}

func (a *SkillAliases) Len() int {
	if a == nil {
		return 0
	}
	return len(a.index)
}

func hasAcceptableSkill(skills []models.WorkerSkill, acceptable []string, mode MatchMode) bool {
	for _, s := range skills {
		name := normalizeName(s.Name)
		if name == "" {
			continue
		}
		for _, want := range acceptable {
			if name == want {
				return true
			}
			if mode == MatchContains && (strings.Contains(name, want) || strings.Contains(want, name)) {
				return true
			}
		}
	}
	return false
}

// equipmentSatisfied checks one required equipment tag. A tag naming a known
// equipment keyword needs a skill carrying the same keyword; any other tag
// needs a skill whose name contains it.
func equipmentSatisfied(tag string, skills []models.WorkerSkill) bool {
	tag = normalizeName(tag)
	if tag == "" {
		return true
	}
	for _, kw := range equipmentKeywords {
		if !strings.Contains(tag, kw) {
			continue
		}
		for _, s := range skills {
			if strings.Contains(normalizeName(s.Name), kw) {
				return true
			}
		}
		return false
	}
	for _, s := range skills {
		if strings.Contains(normalizeName(s.Name), tag) {
			return true
		}
	}
	return false
}

func normalizeName(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}
