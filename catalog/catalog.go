package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"scriptroom/domain"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrMissingId         = errors.New("missing-id")
	ErrNoCharacters      = errors.New("no-characters")
	ErrDuplicateCast     = errors.New("duplicate-character")
	ErrUnknownCharacter  = errors.New("unknown-character")
	ErrDuplicateScriptId = errors.New("duplicate-script-id")
)

// Catalog is a read-only index of scripts. It is safe for concurrent use
// because nothing writes to it after Load returns.
type Catalog struct {
	scripts []*domain.Script
	byId    map[string]*domain.Script
}

// Summary is the list view of a script.
type Summary struct {
	Id         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Characters []string `json:"characters"`
	LineCount  int      `json:"lineCount"`
}

// New builds a catalog from already decoded scripts. Invalid scripts are
// skipped with a warning.
func New(scripts ...*domain.Script) *Catalog {
	c := &Catalog{byId: make(map[string]*domain.Script, len(scripts))}
	for _, s := range scripts {
		if s == nil {
			log.Warn().Msg("skipping nil script")
			continue
		}
		if err := c.add(s); err != nil {
			log.Warn().Err(err).Str("script", s.Id).Msg("skipping script")
		}
	}
	return c
}

// Load reads every *.json file at the root of fsys. A file that fails to
// parse or validate is skipped and logged; it never fails the whole load.
func Load(fsys fs.FS) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	c := &Catalog{byId: make(map[string]*domain.Script)}

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".json" {
			continue
		}

		script, err := parseFile(fsys, entry.Name())
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping malformed script")
			continue
		}

		if err := c.add(script); err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping script")
		}
	}

	sort.SliceStable(c.scripts, func(i, j int) bool {
		return c.scripts[i].Name < c.scripts[j].Name
	})

	log.Info().Int("count", len(c.scripts)).Msg("script catalog loaded")
	return c, nil
}

func parseFile(fsys fs.FS, name string) (*domain.Script, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}

	script := &domain.Script{}
	if err := json.Unmarshal(data, script); err != nil {
		return nil, err
	}

	if script.Id == "" {
		script.Id = strings.TrimSuffix(name, path.Ext(name))
	}
	return script, nil
}

func (c *Catalog) add(s *domain.Script) error {
	if err := normalize(s); err != nil {
		return err
	}
	if _, exists := c.byId[s.Id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateScriptId, s.Id)
	}
	c.byId[s.Id] = s
	c.scripts = append(c.scripts, s)
	return nil
}

// normalize validates the script and puts every text in NFC so that the
// reveal cursor counts the same runes clients render.
func normalize(s *domain.Script) error {
	s.Id = strings.TrimSpace(s.Id)
	if s.Id == "" {
		return ErrMissingId
	}
	if s.Name == "" {
		s.Name = s.Id
	}
	if len(s.Characters) == 0 {
		return ErrNoCharacters
	}

	cast := make(map[string]struct{}, len(s.Characters))
	for i, c := range s.Characters {
		c = norm.NFC.String(strings.TrimSpace(c))
		if _, dup := cast[c]; dup || c == "" {
			return fmt.Errorf("%w: %q", ErrDuplicateCast, c)
		}
		cast[c] = struct{}{}
		s.Characters[i] = c
	}

	for i := range s.Lines {
		line := &s.Lines[i]
		line.Character = norm.NFC.String(strings.TrimSpace(line.Character))
		if _, ok := cast[line.Character]; !ok {
			return fmt.Errorf("%w: line %d: %q", ErrUnknownCharacter, i, line.Character)
		}
		line.Text = norm.NFC.String(line.Text)
	}
	return nil
}

// ListAll returns the scripts ordered by name.
func (c *Catalog) ListAll() []*domain.Script {
	out := make([]*domain.Script, len(c.scripts))
	copy(out, c.scripts)
	return out
}

func (c *Catalog) Find(id string) (*domain.Script, bool) {
	s, ok := c.byId[id]
	return s, ok
}

func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, 0, len(c.scripts))
	for _, s := range c.scripts {
		out = append(out, Summary{
			Id:         s.Id,
			Name:       s.Name,
			Type:       s.Type,
			Characters: s.Characters,
			LineCount:  len(s.Lines),
		})
	}
	return out
}
