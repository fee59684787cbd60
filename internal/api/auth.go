package api

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
)

// tokenCookie carries the API token for browser sessions.
const tokenCookie = "dreamsynth_token"

func tokenMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return auth[len(prefix):]
}

// BearerAuth rejects /api requests whose Authorization header does not carry token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tokenMatches(bearerToken(r), token) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PageAuth guards the HTML pages with the same token, read from the session
// cookie set by /login or from a bearer header. Unauthenticated GETs are sent
// to the login page; other methods get 401.
func PageAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenMatches(bearerToken(r), token) {
				next.ServeHTTP(w, r)
				return
			}
			if c, err := r.Cookie(tokenCookie); err == nil && tokenMatches(c.Value, token) {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}
			renderError(w, http.StatusUnauthorized, "accès refusé : connectez-vous avec le jeton d'accès")
		})
	}
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

type loginPage struct {
	Next   string
	Failed bool
}

func handleLoginPage(w http.ResponseWriter, r *http.Request) {
	render(w, http.StatusOK, "login.html", view{
		Title: "Connexion",
		Data:  loginPage{Next: safeNext(r.URL.Query().Get("next"))},
	})
}

func handleLogin(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
		if err := r.ParseForm(); err != nil {
			renderError(w, http.StatusBadRequest, "formulaire invalide")
			return
		}
		next := safeNext(r.PostFormValue("next"))

		if deps.Token == "" {
			http.Redirect(w, r, next, http.StatusSeeOther)
			return
		}
		if !tokenMatches(r.PostFormValue("token"), deps.Token) {
			render(w, http.StatusUnauthorized, "login.html", view{
				Title: "Connexion",
				Data:  loginPage{Next: next, Failed: true},
			})
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     tokenCookie,
			Value:    deps.Token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		http.Redirect(w, r, next, http.StatusSeeOther)
	}
}
