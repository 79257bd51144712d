package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/smartcathome/whisker/pkg/models"
)

type contextKey string

// LanguageKey is the context key for the reply language.
const LanguageKey contextKey = "language"

// LanguageExtractor resolves the reply language for the request.
// It checks the X-Language header, then the lang query parameter.
// An empty value means auto-detect from the message text.
func LanguageExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := strings.TrimSpace(r.Header.Get("X-Language"))
		if lang == "" {
			lang = strings.TrimSpace(r.URL.Query().Get("lang"))
		}

		var resolved models.Language
		switch strings.ToLower(lang) {
		case "en", "english":
			resolved = models.LangEN
		case "zh", "zh-tw", "zh-hant", "chinese":
			resolved = models.LangZH
		}

		ctx := context.WithValue(r.Context(), LanguageKey, resolved)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLanguage returns the language resolved for this request, or empty
// for auto-detection.
func GetLanguage(ctx context.Context) models.Language {
	if lang, ok := ctx.Value(LanguageKey).(models.Language); ok {
		return lang
	}
	return ""
}
