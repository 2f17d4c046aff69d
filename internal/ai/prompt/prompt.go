// Package prompt loads versioned per-role prompt templates from disk and
// renders them against a Context.
//
// Templates live at <dir>/<role>/v<N>.txt. The highest N is the latest
// version. Placeholders are written {{fieldName}}.
package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// DefaultVersion is reported when a role has no templates installed.
const DefaultVersion = "v1"

// ErrTemplateNotFound is returned when a role has no template at all.
var ErrTemplateNotFound = fmt.Errorf("prompt template: %w", domain.ErrNotFound)

// Context is the transient bag of named values a template is rendered with.
type Context map[string]any

var (
	versionFile = regexp.MustCompile(`^v(\d+)\.txt$`)
	placeholder = regexp.MustCompile(`\{\{(.*?)\}\}`)
)

// Store reads templates from a directory, caching loaded text for ttl.
type Store struct {
	dir   string
	cache *cache.Cache
}

// NewStore returns a Store rooted at dir. ttl <= 0 disables caching.
func NewStore(dir string, ttl time.Duration) *Store {
	s := &Store{dir: dir}
	if ttl > 0 {
		s.cache = cache.New(ttl, 2*ttl)
	}
	return s
}

// Versions lists the installed versions of role, highest first. A missing
// directory yields an empty list.
func (s *Store) Versions(role domain.Role) []string {
	entries, err := os.ReadDir(filepath.Join(s.dir, string(role)))
	if err != nil {
		return []string{}
	}
	type ver struct {
		name string
		n    int
	}
	vs := make([]ver, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := versionFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		vs = append(vs, ver{name: "v" + m[1], n: n})
	}
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].n > vs[j].n })
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.name
	}
	return out
}

// LatestVersion returns the highest installed version, or DefaultVersion.
func (s *Store) LatestVersion(role domain.Role) string {
	if vs := s.Versions(role); len(vs) > 0 {
		return vs[0]
	}
	return DefaultVersion
}

// Load returns the template text of role at version and the version that
// was actually loaded. An empty version means latest. A missing version
// falls back to latest with a warning.
func (s *Store) Load(ctx context.Context, role domain.Role, version string) (string, string, error) {
	if version == "" {
		version = s.LatestVersion(role)
	}
	if text, ok := s.read(role, version); ok {
		return text, version, nil
	}

	latest := s.LatestVersion(role)
	if latest != version {
		if text, ok := s.read(role, latest); ok {
			zerolog.Ctx(ctx).Warn().
				Str("role", string(role)).
				Str("requested", version).
				Str("using", latest).
				Msg("prompt version not found, using latest")
			return text, latest, nil
		}
	}
	return "", "", fmt.Errorf("%w: role %s", ErrTemplateNotFound, role)
}

func (s *Store) read(role domain.Role, version string) (string, bool) {
	if !versionFile.MatchString(version + ".txt") {
		return "", false
	}
	key := string(role) + "/" + version
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.(string), true
		}
	}
	b, err := os.ReadFile(filepath.Join(s.dir, string(role), version+".txt"))
	if err != nil {
		return "", false
	}
	text := string(b)
	if s.cache != nil {
		s.cache.Set(key, text, cache.DefaultExpiration)
	}
	return text, true
}

// Inject replaces every {{key}} in template with the stringified value of
// c[key] and drops placeholders with no value, in a single pass. Injected
// values are inserted verbatim and never scanned for placeholders.
func Inject(template string, c Context) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		v, ok := c[m[2:len(m)-2]]
		if !ok {
			return ""
		}
		return Stringify(v)
	})
}

// Build loads role's template (latest when version is empty) and renders it.
// The returned version is the one actually rendered.
func (s *Store) Build(ctx context.Context, role domain.Role, c Context, version string) (string, string, error) {
	tmpl, used, err := s.Load(ctx, role, version)
	if err != nil {
		return "", "", err
	}
	return Inject(tmpl, c), used, nil
}

// Stringify renders a context value for a template. nil renders empty.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case []string:
		return strings.Join(x, ", ")
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
