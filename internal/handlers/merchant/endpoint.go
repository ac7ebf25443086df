package merchant

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/essaypay/internal/handlers/render"
	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/models"
	"github.com/nkiryanov/essaypay/internal/service/engine"
)

const (
	DefaultLogin = "Paycom"

	maxBodyBytes = 1 << 20
)

type transactionEngine interface {
	CheckCanCreate(ctx context.Context, userID int64, amount int64) error
	Create(ctx context.Context, p engine.CreateParams) (models.Transaction, error)
	Perform(ctx context.Context, externalID string, performTime int64) (models.Transaction, error)
	Cancel(ctx context.Context, externalID string, reason int, cancelTime int64) (models.Transaction, error)
	Status(ctx context.Context, externalID string) (models.Transaction, error)
	Statement(ctx context.Context, from int64, to int64) ([]models.Transaction, error)
}

type callbackRecorder interface {
	Callback(method string, outcome string)
}

type Config struct {
	// Login the gateway sends in Basic auth
	// If not set than DefaultLogin is used
	Login string

	// Merchant key shared with the gateway, required
	Key string
}

type methodFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Endpoint serves gateway callbacks
// Every response is HTTP 200 with the request id echoed
type Endpoint struct {
	login   string
	key     string
	engine  transactionEngine
	methods map[string]methodFunc
	metrics callbackRecorder
	logger  logger.Logger
}

func New(cfg Config, e transactionEngine, m callbackRecorder, l logger.Logger) (*Endpoint, error) {
	if cfg.Key == "" {
		return nil, errors.New("merchant key must not be empty")
	}
	if cfg.Login == "" {
		cfg.Login = DefaultLogin
	}

	endpoint := &Endpoint{
		login:   cfg.Login,
		key:     cfg.Key,
		engine:  e,
		metrics: m,
		logger:  l,
	}
	endpoint.methods = endpoint.routes()

	if err := checkRoutes(endpoint.methods); err != nil {
		return nil, err
	}

	return endpoint, nil
}

// Routing table has to cover exactly the gateway method set
func checkRoutes(methods map[string]methodFunc) error {
	for _, name := range gatewayMethods {
		if _, ok := methods[name]; !ok {
			return fmt.Errorf("no handler for gateway method %q", name)
		}
	}
	for name := range methods {
		if !slices.Contains(gatewayMethods, name) {
			return fmt.Errorf("handler for unknown gateway method %q", name)
		}
	}
	return nil
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	parseErr := err

	switch {
	case !e.authorized(r):
		e.reply(w, req, nil, newError(CodeAuthFailed, "Insufficient privilege", ""))
		return
	case parseErr != nil:
		e.reply(w, req, nil, newError(CodeParseError, "Parse error", ""))
		return
	}

	method, ok := e.methods[req.Method]
	if !ok {
		e.reply(w, req, nil, newError(CodeMethodNotFound, "Method not found", req.Method))
		return
	}

	result, err := method(r.Context(), req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		switch rpcErr.Code {
		case CodeInternal:
			e.logger.Error("gateway callback failed", "method", req.Method, "error", err)
		default:
			e.logger.Warn("gateway callback rejected", "method", req.Method, "code", rpcErr.Code, "error", err)
		}
		e.reply(w, req, nil, rpcErr)
		return
	}

	e.reply(w, req, result, nil)
}

// Check 'Authorization: Basic base64(login:key)'
func (e *Endpoint) authorized(r *http.Request) bool {
	encoded, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Basic ")
	if !ok {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}

	login, key, ok := strings.Cut(string(decoded), ":")
	if !ok || login != e.login {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(key), []byte(e.key)) == 1
}

func (e *Endpoint) reply(w http.ResponseWriter, req request, result any, rpcErr *Error) {
	outcome := "ok"
	if rpcErr != nil {
		outcome = strconv.Itoa(rpcErr.Code)
	}
	e.metrics.Callback(e.methodLabel(req.Method), outcome)

	id := req.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}

	render.JSON(w, response{Result: result, Error: rpcErr, ID: id})
}

// Keep metric label cardinality bounded
func (e *Endpoint) methodLabel(method string) string {
	if _, ok := e.methods[method]; ok {
		return method
	}
	return "unknown"
}

// bind decodes and validates params before calling the typed handler
func bind[T any](fn func(context.Context, T) (any, error)) methodFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params T

		if len(raw) == 0 {
			return nil, newError(CodeInvalidRequest, "Params are missing", "params")
		}

		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, newError(CodeInvalidRequest, "Invalid params", err.Error())
		}

		if err := render.Validate.Struct(params); err != nil {
			var errs validator.ValidationErrors
			if errors.As(err, &errs) && len(errs) > 0 {
				return nil, newError(CodeInvalidRequest, "Invalid params", errs[0].Field())
			}
			return nil, newError(CodeInvalidRequest, "Invalid params", err.Error())
		}

		return fn(ctx, params)
	}
}
