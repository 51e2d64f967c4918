package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMissingAPIKey is returned when no API key is provided in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned when a key matches no configured hash.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrInvalidKeyHash is returned when a configured entry is not a bcrypt hash.
	ErrInvalidKeyHash = errors.New("invalid upload key hash")
)

// maxKeyLength is bcrypt's input limit; longer keys would be silently truncated.
const maxKeyLength = 72

type (
	// KeyVerifier checks a presented API key and returns the caller it belongs to.
	KeyVerifier interface {
		Verify(key string) (Caller, bool)
	}

	// BcryptKeys verifies keys against a fixed set of bcrypt hashes. Only hashes
	// are configured, so a leaked environment does not leak usable keys.
	BcryptKeys struct {
		entries []keyEntry
	}

	keyEntry struct {
		name string
		hash []byte
	}
)

// ParseBcryptKeys builds BcryptKeys from "name:hash" entries. An entry without a
// name is labelled by position. An empty list yields nil, which disables auth.
func ParseBcryptKeys(entries []string) (*BcryptKeys, error) {
	if len(entries) == 0 {
		return nil, nil //nolint: nilnil
	}

	keys := &BcryptKeys{entries: make([]keyEntry, 0, len(entries))}

	for i, entry := range entries {
		name, hash, found := strings.Cut(entry, ":")
		if !found {
			name, hash = fmt.Sprintf("key-%d", i+1), entry
		}

		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("%w: entry %d (%s): %w", ErrInvalidKeyHash, i+1, name, err)
		}

		keys.entries = append(keys.entries, keyEntry{name: name, hash: []byte(hash)})
	}

	return keys, nil
}

// Verify compares key against every hash. Every hash is always checked so the
// response time does not reveal which entry matched.
func (k *BcryptKeys) Verify(key string) (Caller, bool) {
	var (
		matched Caller
		ok      bool
	)

	for _, entry := range k.entries {
		if bcrypt.CompareHashAndPassword(entry.hash, []byte(key)) == nil && !ok {
			matched = Caller{Name: entry.name, AuthTime: time.Now()}
			ok = true
		}
	}

	return matched, ok
}

// Len returns the number of configured keys.
func (k *BcryptKeys) Len() int {
	return len(k.entries)
}

// extractAPIKey reads X-Api-Key, falling back to "Authorization: Bearer".
// Keys containing CR or LF are rejected.
func extractAPIKey(r *http.Request) (string, bool) {
	key := r.Header.Get("X-Api-Key")

	if key == "" {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			return "", false
		}

		key = strings.TrimPrefix(auth, "Bearer ")
	}

	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" || len(key) > maxKeyLength {
		return "", false
	}

	return key, true
}

// Authenticate rejects requests to non-public paths that do not carry a valid key.
// Authenticated requests carry a Caller in their context.
func Authenticate(verifier KeyVerifier, public *PublicPaths, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public.Contains(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			start := time.Now()

			key, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, ErrMissingAPIKey)

				return
			}

			caller, ok := verifier.Verify(key)
			if !ok {
				writeAuthError(w, r, logger, ErrInvalidAPIKey)

				return
			}

			logger.Debug("API key authenticated",
				slog.String("caller", caller.Name),
				slog.Duration("auth_latency", time.Since(start)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
			)

			next.ServeHTTP(w, r.WithContext(SetCaller(r.Context(), caller)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	w.Header().Set("WWW-Authenticate", `Bearer realm="sheetpipe"`)

	if err := writeProblem(w, r, http.StatusUnauthorized, "authentication failed: "+err.Error()); err != nil {
		logger.Error("Failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.Any("encode_error", err),
		)
	}
}
