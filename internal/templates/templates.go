// Package templates отвечает за поиск шаблонов писем и подстановку токенов.
//
// Разрешение содержимого: переопределение в каталоге переопределений,
// затем встроенный шаблон; первый найденный побеждает. Подстановка —
// плоская замена {{token}}, остатки нераспознанных токенов вырезаются,
// чтобы сырые плейсхолдеры никогда не попадали в отправленное письмо.
package templates

import (
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/magabrotheeeer/membership-notifier/internal/config"
)

// Ошибки работы с шаблонами.
var (
	// ErrUnknownTemplate слаг не зарегистрирован в каталоге шаблонов.
	ErrUnknownTemplate = errors.New("unknown template slug")
	// ErrStorageUnavailable каталог переопределений не задан или недоступен.
	ErrStorageUnavailable = errors.New("override storage unavailable")
)

const legacyPrefix = "email-"

var (
	unresolvedRe = regexp.MustCompile(`\{\{[^{}]*\}\}`)
	scriptRe     = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)
	iframeRe     = regexp.MustCompile(`(?is)<iframe\b.*?</iframe\s*>`)
	onAttrRe     = regexp.MustCompile(`(?i)\s+on\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	jsHrefRe     = regexp.MustCompile(`(?i)(href|src)\s*=\s*("javascript:[^"]*"|'javascript:[^']*')`)
)

// Store разрешает шаблоны по слагу и подставляет значения токенов.
type Store struct {
	overrideDir string
	defaults    map[string]string
}

// New создает Store с настройками сайта по умолчанию для контекста подстановки.
func New(cfg config.Notifier) *Store {
	return &Store{
		overrideDir: cfg.TemplateOverrideDir,
		defaults: map[string]string{
			"site_name":       cfg.SiteName,
			"site_url":        cfg.SiteURL,
			"support_email":   cfg.SupportEmail,
			"unsubscribe_url": "",
		},
	}
}

// NormalizeSlug приводит слаг к каноническому виду, срезая устаревший
// префикс email-, чтобы старые и новые идентификаторы совпадали.
func NormalizeSlug(slug string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(slug)), legacyPrefix)
}

// Catalog возвращает слаги зарегистрированных шаблонов.
func (s *Store) Catalog() []string {
	slugs := make([]string, 0, len(builtin))
	for slug := range builtin {
		slugs = append(slugs, slug)
	}
	return slugs
}

// Render возвращает HTML шаблона slug с подставленным контекстом.
// Пустая строка означает «нечего отправлять», это не ошибка.
// Значения контекста вызывающего всегда имеют приоритет над значениями
// по умолчанию, включая явно пустые; пустое значение не подставляется,
// его токен вырезается на финальном проходе.
func (s *Store) Render(slug string, context map[string]string) string {
	slug = NormalizeSlug(slug)

	content, ok := s.resolve(slug)
	if !ok {
		return ""
	}

	merged := make(map[string]string, len(s.defaults)+len(context))
	for k, v := range s.defaults {
		merged[k] = v
	}
	for k, v := range context {
		merged[k] = v
	}

	for key, value := range merged {
		if value == "" {
			continue
		}
		re := regexp.MustCompile(`\{\{\s*` + regexp.QuoteMeta(key) + `\s*\}\}`)
		content = re.ReplaceAllString(content, html.EscapeString(value))
	}

	return unresolvedRe.ReplaceAllString(content, "")
}

// SaveOverride проверяет слаг по каталогу, очищает HTML от запрещенной
// разметки и сохраняет переопределение в каталог переопределений.
func (s *Store) SaveOverride(slug, htmlContent string) error {
	const op = "templates.SaveOverride"
	slug = NormalizeSlug(slug)

	if _, ok := builtin[slug]; !ok {
		return fmt.Errorf("%s: %w: %s", op, ErrUnknownTemplate, slug)
	}
	if s.overrideDir == "" {
		return fmt.Errorf("%s: %w", op, ErrStorageUnavailable)
	}
	if err := os.MkdirAll(s.overrideDir, 0o755); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
	}

	sanitized := Sanitize(htmlContent)
	if err := os.WriteFile(s.overridePath(slug), []byte(sanitized), 0o644); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteOverride удаляет переопределение шаблона, возвращая слаг к встроенному содержимому.
func (s *Store) DeleteOverride(slug string) error {
	const op = "templates.DeleteOverride"
	slug = NormalizeSlug(slug)

	if _, ok := builtin[slug]; !ok {
		return fmt.Errorf("%s: %w: %s", op, ErrUnknownTemplate, slug)
	}
	if s.overrideDir == "" {
		return fmt.Errorf("%s: %w", op, ErrStorageUnavailable)
	}
	if err := os.Remove(s.overridePath(slug)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Sanitize вырезает из HTML скрипты, фреймы и обработчики событий.
func Sanitize(htmlContent string) string {
	out := scriptRe.ReplaceAllString(htmlContent, "")
	out = iframeRe.ReplaceAllString(out, "")
	out = onAttrRe.ReplaceAllString(out, "")
	out = jsHrefRe.ReplaceAllString(out, `$1="#"`)
	return out
}

func (s *Store) resolve(slug string) (string, bool) {
	if s.overrideDir != "" {
		raw, err := os.ReadFile(s.overridePath(slug))
		if err == nil {
			return string(raw), true
		}
	}
	content, ok := builtin[slug]
	return content, ok
}

func (s *Store) overridePath(slug string) string {
	return filepath.Join(s.overrideDir, slug+".html")
}
