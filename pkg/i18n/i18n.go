// Package i18n loads site translations and picks the language of a request.
package i18n

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"

	"github.com/CTAG07/Ulysse/pkg/reqctx"
	"github.com/CTAG07/Ulysse/pkg/settings"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// LanguageQueryParam is the query parameter selecting a language explicitly.
const LanguageQueryParam = "language"

// Bundle maps string identifiers to localized strings. The source file is
// read on first use.
type Bundle struct {
	logger   *slog.Logger
	path     string
	settings *settings.Store
	once     sync.Once
	dict     map[string]map[string]string
}

// NewBundle creates a Bundle reading the YAML file at path, shaped as
// id -> language -> text.
func NewBundle(logger *slog.Logger, path string, st *settings.Store) *Bundle {
	return &Bundle{
		logger:   logger,
		path:     path,
		settings: st,
	}
}

func (b *Bundle) ensure() {
	b.once.Do(func() {
		dict, err := loadFile(b.path)
		if err != nil {
			b.logger.Warn("Translations not loaded", "path", b.path, "error", err)
			dict = map[string]map[string]string{}
		}
		b.dict = dict
	})
}

func loadFile(path string) (map[string]map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dict := map[string]map[string]string{}
	if err = yaml.Unmarshal(raw, &dict); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return dict, nil
}

// T returns the translation of id in lang, falling back to the default
// language and finally to id itself.
func (b *Bundle) T(id, lang string) string {
	b.ensure()
	m, ok := b.dict[id]
	if !ok {
		return id
	}
	if v, ok := m[lang]; ok && lang != "" {
		return v
	}
	if v, ok := m[b.settings.String(settings.KeyLanguageDefault)]; ok {
		return v
	}
	return id
}

// Translate returns the translation of id in the language of the current request.
func (b *Bundle) Translate(ctx context.Context, id string) string {
	return b.T(id, reqctx.FromContext(ctx).String(reqctx.KeyLanguage))
}

// CurrentLanguage picks the language for r: an explicit ?language= matching
// a configured language query, else the best Accept-Language match among the
// configured languages, else language_default.
func CurrentLanguage(r *http.Request, st *settings.Store) string {
	fallback := st.String(settings.KeyLanguageDefault)
	defined := st.Map(settings.KeyLanguages)
	if len(defined) == 0 {
		return fallback
	}

	if requested := r.URL.Query().Get(LanguageQueryParam); requested != "" {
		for code, data := range defined {
			if m, ok := data.(map[string]any); ok && m["query"] == requested {
				return code
			}
		}
	}

	accept := r.Header.Get("Accept-Language")
	if accept == "" {
		return fallback
	}

	// fallback first so that a failed match resolves to it
	codes := make([]string, 0, len(defined))
	for code := range defined {
		if code != fallback {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	codes = append([]string{fallback}, codes...)

	tags := make([]language.Tag, 0, len(codes))
	for _, c := range codes {
		tags = append(tags, language.Make(c))
	}
	_, idx := language.MatchStrings(language.NewMatcher(tags), accept)
	if idx < 0 || idx >= len(codes) {
		return fallback
	}
	return codes[idx]
}

// Language is a language enabled in the languages setting.
type Language struct {
	Code  string
	Query string
}

// Languages returns the enabled languages sorted by code. A language without
// a query value is selected by its code.
func (b *Bundle) Languages() []Language {
	defined := b.settings.Map(settings.KeyLanguages)
	out := make([]Language, 0, len(defined))
	for code, data := range defined {
		l := Language{Code: code, Query: code}
		if m, ok := data.(map[string]any); ok {
			if q, ok := m["query"].(string); ok && q != "" {
				l.Query = q
			}
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Code < out[j].Code
	})
	return out
}
