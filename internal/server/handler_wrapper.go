// Provides middleware for standardizing HTTP handlers.

package server

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nb-music/server/internal/server/dto"
	"github.com/nb-music/server/internal/server/handlers"
	"github.com/nb-music/server/internal/server/ipgeo"
	"github.com/nb-music/server/internal/server/ratelimit"
	"github.com/nb-music/server/internal/server/reqctx"
	"github.com/nb-music/server/internal/storage/history"
	"github.com/nb-music/server/internal/storage/identity"
)

// deps is what every wrapped handler needs besides its own handler.
type deps struct {
	svc      *handlers.Services
	cfg      *handlers.Config
	limiters *ratelimit.Limiters
	geo      *ipgeo.Checker
}

// addRequestMetadataToContext adds client IP, User-Agent and country to the context.
func addRequestMetadataToContext(ctx context.Context, r *http.Request, geo *ipgeo.Checker) context.Context {
	ip := reqctx.GetClientIP(r)
	ctx = reqctx.WithClientIP(ctx, ip)
	ctx = reqctx.WithUserAgent(ctx, r.Header.Get("User-Agent"))
	if cc := geo.CountryCode(ip); cc != "" {
		ctx = reqctx.WithCountryCode(ctx, cc)
	}
	return ctx
}

// isMutating returns true for HTTP methods that modify state.
func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}

// commitIfMutating records the data directory changes of a mutating request.
//
// It runs regardless of the handler outcome: a handler that failed after
// writing still left the change on disk. A clean tree is a no-op.
func commitIfMutating(ctx context.Context, r *http.Request, repo *history.Repo, author history.Author) {
	if repo == nil || !isMutating(r.Method) {
		return
	}
	msg := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
	if err := repo.CommitAll(ctx, author, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to commit data changes", "err", err)
	}
}

// historyAuthor returns the commit author for a session.
func historyAuthor(s *identity.Session) history.Author {
	if s == nil {
		return history.Author{}
	}
	name := s.Nickname
	if name == "" {
		name = string(s.UID)
	}
	return history.Author{Name: name, Email: string(s.UID) + "@bilibili"}
}

// checkRateLimit checks rate limit and wraps the response writer if needed.
// Returns the (possibly wrapped) writer and whether the request should proceed.
func checkRateLimit(ctx context.Context, w http.ResponseWriter, r *http.Request, tier *ratelimit.Tier, identifier string) (http.ResponseWriter, bool) {
	if tier == nil {
		return w, true
	}
	key := ratelimit.BuildKey(tier.Scope, identifier, tier.Name)
	result := tier.Limiter.Allow(key)
	w = ratelimit.NewResponseWriter(w, result)
	if !result.Allowed {
		slog.WarnContext(ctx, "Rate limited", "tier", tier.Name, "key", key)
		writeError(ctx, w, r, dto.RateLimitExceeded(max(int(result.RetryAfter.Seconds()), 1)))
		return w, false
	}
	return w, true
}

// rateLimitIdentifier returns the bucket identifier for the tier's scope.
func rateLimitIdentifier(tier *ratelimit.Tier, s *identity.Session, r *http.Request) string {
	if tier.Scope == ratelimit.ScopeUser && s != nil {
		return string(s.UID)
	}
	return reqctx.GetClientIP(r)
}

// readAndDecodeBody reads the request body with size limit and decodes JSON into input.
// Returns false if an error occurred and was written to the response.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, cfg *handlers.Config) bool {
	if cfg != nil && cfg.Quotas.MaxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Quotas.MaxRequestBodyBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(ctx, w, r, dto.PayloadTooLarge(maxBytesErr.Limit))
			return false
		}
		writeError(ctx, w, r, dto.BadRequest("Failed to read request body").Wrap(err))
		return false
	}
	if len(bytes.TrimSpace(body)) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.DisallowUnknownFields()
		if err := d.Decode(input); err != nil {
			writeError(ctx, w, r, dto.BadRequest("Invalid request body").Wrap(err))
			return false
		}
	}
	return true
}

// decodeRequest fills input from the body, path and query and validates it.
// Returns false if an error occurred and was written to the response.
func decodeRequest[In any, PtrIn interface {
	*In
	dto.Validatable
}](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, cfg *handlers.Config) bool {
	if !readAndDecodeBody(ctx, w, r, input, cfg) {
		return false
	}
	populatePathParams(r, input)
	populateQueryParams(r, input)
	if err := PtrIn(input).Validate(); err != nil {
		var ews dto.ErrorWithStatus
		if !errors.As(err, &ews) {
			err = dto.BadRequest(err.Error())
		}
		writeError(ctx, w, r, err)
		return false
	}
	return true
}

// Wrap wraps a handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Path parameters are extracted into struct fields tagged with `path:"name"`
// and query parameters into fields tagged with `query:"name"`.
// *In must implement dto.Validatable.
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), d *deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := addRequestMetadataToContext(r.Context(), r, d.geo)

		var ok bool
		if w, ok = checkRateLimit(ctx, w, r, d.limiters.MatchUnauth(r.Method, r.URL.Path), reqctx.GetClientIP(r)); !ok {
			return
		}
		input := new(In)
		if !decodeRequest[In, PtrIn](ctx, w, r, input, d.cfg) {
			return
		}
		output, err := fn(ctx, PtrIn(input))
		commitIfMutating(ctx, r, d.svc.History, history.Author{})
		writeJSONResponse(ctx, w, r, output, err)
		observeDuration(r, start)
	})
}

// WrapAuth wraps an authenticated handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *identity.Session, *In) (*Out, error)
// *In must implement dto.Validatable.
func WrapAuth[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, *identity.Session, PtrIn) (*Out, error), d *deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := addRequestMetadataToContext(r.Context(), r, d.geo)

		session, token, err := authenticate(ctx, r, d.svc.Sessions, d.cfg.JWTSecret)
		if err != nil {
			writeError(ctx, w, r, err)
			return
		}
		ctx = reqctx.WithTokenString(ctx, token)
		ctx = reqctx.WithSession(ctx, session)

		if tier := d.limiters.MatchAuth(r.Method, r.URL.Path); tier != nil {
			var ok bool
			if w, ok = checkRateLimit(ctx, w, r, tier, rateLimitIdentifier(tier, session, r)); !ok {
				return
			}
		}
		input := new(In)
		if !decodeRequest[In, PtrIn](ctx, w, r, input, d.cfg) {
			return
		}
		output, err := fn(ctx, session, PtrIn(input))
		commitIfMutating(ctx, r, d.svc.History, historyAuthor(session))
		writeJSONResponse(ctx, w, r, output, err)
		observeDuration(r, start)
	})
}

var (
	errUnauthorized   = errors.New("missing bearer token")
	errInvalidToken   = errors.New("invalid token")
	errInvalidClaims  = errors.New("invalid claims")
	errSessionMissing = errors.New("session revoked or expired")
	errClaimsMismatch = errors.New("token does not match session")
)

// authenticate validates the bearer JWT and returns its session and token.
//
// The token must be signed with HS256 by secret, be unexpired, and map to a
// live session whose ID and uid match its sid and sub claims.
func authenticate(ctx context.Context, r *http.Request, sessions *identity.SessionService, secret []byte) (*identity.Session, string, error) {
	tokenString, ok := reqctx.BearerToken(r)
	if !ok {
		return nil, "", dto.Unauthorized("Authentication required").Wrap(errUnauthorized)
	}
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, "", dto.Unauthorized("Invalid or expired token").Wrap(errors.Join(errInvalidToken, err))
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, "", dto.Unauthorized("Invalid or expired token").Wrap(errInvalidClaims)
	}
	sub, _ := claims["sub"].(string)
	sid, _ := claims["sid"].(string)
	if sub == "" || sid == "" {
		return nil, "", dto.Unauthorized("Invalid or expired token").Wrap(errInvalidClaims)
	}
	session, err := sessions.Get(ctx, tokenString)
	if err != nil {
		if errors.Is(err, identity.ErrSessionNotFound) || errors.Is(err, identity.ErrSessionExpired) {
			return nil, "", dto.Unauthorized("Session is invalid or expired").Wrap(errors.Join(errSessionMissing, err))
		}
		return nil, "", err
	}
	if string(session.UID) != sub || session.ID.String() != sid {
		return nil, "", dto.Unauthorized("Invalid or expired token").Wrap(errClaimsMismatch)
	}
	return session, tokenString, nil
}

// populatePathParams extracts path parameters from the request and populates
// struct fields tagged with `path:"paramName"`.
func populatePathParams(r *http.Request, input any) {
	populateTagged(input, "path", r.PathValue)
}

// populateQueryParams extracts query parameters from the request and populates
// struct fields tagged with `query:"paramName"`.
func populateQueryParams(r *http.Request, input any) {
	query := r.URL.Query()
	populateTagged(input, "query", query.Get)
}

// populateTagged sets the fields of the struct pointed to by input tagged with
// tag to get(name). Empty values are skipped and so are values that fail to
// parse, leaving validation to the request type.
func populateTagged(input any, tag string, get func(string) string) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		name := typ.Field(i).Tag.Get(tag)
		if name == "" {
			continue
		}
		v := get(name)
		if v == "" {
			continue
		}
		f := elem.Field(i)
		switch f.Kind() {
		case reflect.String:
			f.SetString(v)
		case reflect.Int, reflect.Int64:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				f.SetInt(n)
			}
		default:
			if f.CanAddr() {
				if u, ok := f.Addr().Interface().(encoding.TextUnmarshaler); ok {
					_ = u.UnmarshalText([]byte(v))
				}
			}
		}
	}
}

// writeJSONResponse writes the enveloped output, or the error response.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, r *http.Request, output *Out, err error) {
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	writeEnvelope(ctx, w, r, http.StatusOK, dto.Response{Success: true, Data: output})
}

// writeError writes err as an error envelope. Only the client facing message
// of err is sent; the full chain is logged.
func writeError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	var ews dto.ErrorWithStatus
	if !errors.As(err, &ews) {
		ews = dto.InternalWithError(err)
	}
	code := ews.StatusCode()
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", code, "path", r.URL.Path)
	} else {
		slog.InfoContext(ctx, "Request rejected", "err", err, "statusCode", code, "path", r.URL.Path)
	}
	writeEnvelope(ctx, w, r, code, dto.ErrorResponse{Error: dto.ErrorDetails{Code: code, Message: ews.Message()}})
}

func writeEnvelope(ctx context.Context, w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`nbserver_http_requests_total{route=%q,code="%d"}`, routeName(r), code)).Inc()
}

// observeDuration records the handling time of a request that reached its handler.
func observeDuration(r *http.Request, start time.Time) {
	metrics.GetOrCreateHistogram(fmt.Sprintf(`nbserver_http_request_duration_seconds{route=%q}`, routeName(r))).UpdateDuration(start)
}

// routeName returns the mux pattern that matched r, bounding label cardinality.
func routeName(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}
