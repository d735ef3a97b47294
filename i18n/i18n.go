/*
i18n.go - Notification message catalog

PURPOSE:
  Renders the title and body of a notification in the active language.
  Messages are text/template strings keyed by notification type and fed
  with the event params (description, amount, currency, group, reason).

CACHE:
  Parsed templates are kept in an injected Cache keyed by message key only,
  so the cache always belongs to one language. SetLanguage clears it when
  the language actually changes; rendering never sees a template parsed for
  another language.

SEE ALSO:
  - catalog.go: the messages
  - notify/service.go: renders every stored notification
*/
package i18n

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/language"
)

// Language is a supported catalog language.
type Language string

const (
	Portuguese Language = "pt"
	English    Language = "en"
)

// DefaultLanguage is used when nothing else matches.
const DefaultLanguage = Portuguese

var supported = []Language{Portuguese, English}

var matcher = language.NewMatcher([]language.Tag{language.Portuguese, language.English})

// ErrUnknownMessage is returned for a key missing from the catalog.
var ErrUnknownMessage = errors.New("unknown message")

// Match picks the supported language closest to the given preferences,
// which may be BCP 47 tags or Accept-Language values.
func Match(prefs ...string) Language {
	_, i := language.MatchStrings(matcher, prefs...)
	return supported[i]
}

// Message is a rendered notification text.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// =============================================================================
// CACHE
// =============================================================================

// Cache stores parsed templates for the active language.
type Cache interface {
	Get(key string) (*template.Template, bool)
	Put(key string, t *template.Template)
	Clear()
	Len() int
}

// MapCache is a Cache backed by a map.
type MapCache struct {
	mu sync.RWMutex
	m  map[string]*template.Template
}

func NewMapCache() *MapCache {
	return &MapCache{m: make(map[string]*template.Template)}
}

func (c *MapCache) Get(key string) (*template.Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.m[key]
	return t, ok
}

func (c *MapCache) Put(key string, t *template.Template) {
	c.mu.Lock()
	c.m[key] = t
	c.mu.Unlock()
}

func (c *MapCache) Clear() {
	c.mu.Lock()
	clear(c.m)
	c.mu.Unlock()
}

func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// =============================================================================
// TRANSLATOR
// =============================================================================

// Translator renders catalog messages in one language at a time.
type Translator struct {
	mu      sync.RWMutex
	lang    Language
	cache   Cache
	catalog map[Language]map[string]Message
}

// New creates a Translator. A nil cache gets a fresh MapCache.
func New(lang Language, cache Cache) (*Translator, error) {
	if cache == nil {
		cache = NewMapCache()
	}
	t := &Translator{lang: DefaultLanguage, cache: cache, catalog: catalog}
	if err := t.SetLanguage(lang); err != nil {
		return nil, err
	}
	return t, nil
}

// Language returns the active language.
func (t *Translator) Language() Language {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lang
}

// SetLanguage switches the active language and empties the cache.
func (t *Translator) SetLanguage(lang Language) error {
	if _, ok := t.catalog[lang]; !ok {
		return fmt.Errorf("unsupported language %q", lang)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lang != lang {
		t.cache.Clear()
	}
	t.lang = lang
	return nil
}

// Render formats the message for key with params.
func (t *Translator) Render(key string, params map[string]string) (Message, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	title, err := t.execute(key+".title", params)
	if err != nil {
		return Message{}, err
	}
	body, err := t.execute(key+".body", params)
	if err != nil {
		return Message{}, err
	}
	return Message{Title: title, Body: body}, nil
}

func (t *Translator) execute(key string, params map[string]string) (string, error) {
	tmpl, ok := t.cache.Get(key)
	if !ok {
		src, err := t.source(key)
		if err != nil {
			return "", err
		}
		tmpl, err = template.New(key).Option("missingkey=zero").Parse(src)
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", key, err)
		}
		t.cache.Put(key, tmpl)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return buf.String(), nil
}

func (t *Translator) source(key string) (string, error) {
	msgs := t.catalog[t.lang]
	if base, ok := strings.CutSuffix(key, ".title"); ok {
		if m, ok := msgs[base]; ok {
			return m.Title, nil
		}
	}
	if base, ok := strings.CutSuffix(key, ".body"); ok {
		if m, ok := msgs[base]; ok {
			return m.Body, nil
		}
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrUnknownMessage, key, t.lang)
}
