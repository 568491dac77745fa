package skills

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/codexec/codexec/internal/apperrors"
)

// Skill is a versioned Markdown document with front-matter metadata. ID is
// the directory name under the skills root; Body is the Markdown after the
// front-matter block.
type Skill struct {
	ID           string `json:"skill_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Version      string `json:"version"`
	Dependencies string `json:"dependencies,omitempty"`
	Body         string `json:"-"`
}

type frontMatter struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Version      string `yaml:"version"`
	Dependencies string `yaml:"dependencies"`
}

// Registry holds the skill set loaded from a directory tree. The loaded set
// is immutable; Reload swaps the whole set at once so readers never observe
// a partial scan.
type Registry struct {
	root string
	log  *zap.Logger

	mu     sync.RWMutex
	byID   map[string]Skill
	sorted []Skill
}

func NewRegistry(root string, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{root: root, log: log}
	r.Reload()
	return r
}

// Reload rescans the skills root and atomically replaces the loaded set.
// Unreadable or malformed skills are skipped with a warning rather than
// failing the whole scan.
func (r *Registry) Reload() {
	byID := make(map[string]Skill)

	entries, err := os.ReadDir(r.root)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("failed to read skills directory", zap.String("root", r.root), zap.Error(err))
		}
		entries = nil
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		skill, err := loadSkill(r.root, id)
		if err != nil {
			if apperrors.KindOf(err) != apperrors.KindSkillNotFound {
				r.log.Warn("skipping skill", zap.String("skill", id), zap.Error(err))
			}
			continue
		}
		byID[id] = skill
	}

	sorted := make([]Skill, 0, len(byID))
	for _, s := range byID {
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r.mu.Lock()
	r.byID = byID
	r.sorted = sorted
	r.mu.Unlock()

	r.log.Info("skills loaded", zap.String("root", r.root), zap.Int("count", len(sorted)))
}

// List returns all skills sorted by ID.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// Get returns the skill with the given ID.
func (r *Registry) Get(id string) (Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return Skill{}, apperrors.Newf(apperrors.KindSkillNotFound, "skill %q not found", id)
	}
	return s, nil
}

// Count returns the number of loaded skills.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sorted)
}

func loadSkill(root, id string) (Skill, error) {
	path := filepath.Join(root, id, "Skill.md")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Skill{}, apperrors.Newf(apperrors.KindSkillNotFound, "skill %q not found", id)
		}
		return Skill{}, apperrors.New(apperrors.KindFileOperation, "failed to read skill file", err)
	}

	meta, body := parseFrontMatter(string(raw))
	skill := Skill{
		ID:           id,
		Name:         meta.Name,
		Description:  meta.Description,
		Version:      meta.Version,
		Dependencies: meta.Dependencies,
		Body:         body,
	}
	if skill.Name == "" {
		skill.Name = id
	}
	if skill.Version == "" {
		skill.Version = "1.0.0"
	}
	return skill, nil
}

// parseFrontMatter splits a Skill.md into its front-matter block and body.
// A file without a leading --- block has no metadata; the whole content is
// the body.
func parseFrontMatter(content string) (frontMatter, string) {
	var meta frontMatter

	if !strings.HasPrefix(content, "---") {
		return meta, strings.TrimSpace(content)
	}
	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return meta, strings.TrimSpace(content)
	}
	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
		return frontMatter{}, strings.TrimSpace(content)
	}
	return meta, strings.TrimSpace(parts[2])
}
