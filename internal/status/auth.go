package status

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// jsonMarshal is split out so the ws feed shares the encoder choice.
func jsonMarshal(v any) ([]byte, error) { return json.Marshal(v) }

// basicAuth guards the API with HTTP basic auth against a single
// password. The password is hashed once at startup and requests compare
// against the hash, so the plaintext never sits around longer than
// needed. An empty password disables the check.
func basicAuth(password string) func(http.Handler) http.Handler {
	var (
		once sync.Once
		hash []byte
	)

	return func(next http.Handler) http.Handler {
		if password == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			once.Do(func() {
				hash, _ = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			})

			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte("watchhound")) != 1 ||
				bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="watchhound"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
