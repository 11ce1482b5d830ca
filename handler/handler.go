package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"shikkha-messages/internal/auth"
	"shikkha-messages/internal/domain"
	"shikkha-messages/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerPollInterval  = "X-Poll-Interval-Ms"

	routePrefix = "/api/messages"

	errorMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// Service is the messaging use case surface exposed over HTTP.
type Service interface {
	Inbox(ctx context.Context, viewerID string) (usecase.InboxOutput, error)
	MarkRead(ctx context.Context, viewerID, counterpartyID string) (int, error)
	UnreadTotal(ctx context.Context, viewerID string) (int, error)
	Send(ctx context.Context, in usecase.SendInput) (domain.Message, error)
	Conversation(ctx context.Context, viewerID, counterpartyID string) ([]domain.Message, error)
	Delete(ctx context.Context, viewerID, messageID string) error
}

// Authenticator turns a bearer token into a user id. It returns an error
// wrapping auth.ErrInvalidToken when the token itself is rejected.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type Handler struct {
	svc    Service
	auth   Authenticator
	logger *slog.Logger

	inboxPoll        time.Duration
	conversationPoll time.Duration
}

type Option func(*Handler)

// WithPollIntervals sets the X-Poll-Interval-Ms hints returned to clients.
// Non-positive values keep the defaults.
func WithPollIntervals(inbox, conversation time.Duration) Option {
	return func(h *Handler) {
		if inbox > 0 {
			h.inboxPoll = inbox
		}
		if conversation > 0 {
			h.conversationPoll = conversation
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(svc Service, authenticator Authenticator, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	if authenticator == nil {
		return nil, errors.New("handler: authenticator must not be nil")
	}
	h := &Handler{
		svc:              svc,
		auth:             authenticator,
		logger:           slog.Default(),
		inboxPoll:        10 * time.Second,
		conversationPoll: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type markReadRequest struct {
	ConversationUserID string `json:"conversationUserId"`
}

type markReadResponse struct {
	Updated int `json:"updated"`
}

type unreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

type sendRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type userView struct {
	ID        string `json:"_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type messageView struct {
	ID        string     `json:"_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	Sender    string     `json:"sender"`
	Receiver  string     `json:"receiver"`
	IsRead    bool       `json:"isRead"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

type conversationView struct {
	User        userView    `json:"user"`
	LastMessage messageView `json:"lastMessage"`
	UnreadCount int         `json:"unreadCount"`
}

// request carries what every route needs once routing and authentication
// have succeeded.
type request struct {
	viewerID string
	param    string
	body     []byte
	log      *slog.Logger
}

type routeFunc func(ctx context.Context, req request) (events.APIGatewayProxyResponse, error)

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.logger.With("correlationId", correlationID, "method", event.HTTPMethod, "path", event.Path)

	resp := h.dispatch(ctx, event, log)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[headerCorrelationID] = correlationID
	return resp, nil
}

func (h *Handler) dispatch(ctx context.Context, event events.APIGatewayProxyRequest, log *slog.Logger) events.APIGatewayProxyResponse {
	route, param, status := h.match(event.HTTPMethod, event.Path)
	switch status {
	case http.StatusNotFound:
		return jsonResponse(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "route_not_found"})
	case http.StatusMethodNotAllowed:
		return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: errorMethodNotAllowed, Message: "method_not_allowed"})
	}

	token, ok := bearerFromHeaders(event.Headers)
	if !ok {
		return jsonResponse(http.StatusUnauthorized, errorResponse{Error: string(usecase.ErrorNotAuthenticated), Message: "missing_token"})
	}
	viewerID, err := h.auth.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			log.Info("rejected token", "err", err)
			return jsonResponse(http.StatusUnauthorized, errorResponse{Error: string(usecase.ErrorNotAuthenticated), Message: "invalid_token"})
		}
		log.Error("authentication failed", "err", err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: "internal error"})
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded && event.Body != "" {
		body, err = base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid_body"})
		}
	}

	req := request{viewerID: viewerID, param: param, body: body, log: log.With("viewerId", viewerID)}
	resp, err := route(ctx, req)
	if err != nil {
		return h.errorResponse(req.log, err)
	}
	return resp
}

// match resolves method and path to a route. The returned status is 0 on a
// match, 404 for unknown paths and 405 for known paths with another method.
func (h *Handler) match(method, path string) (routeFunc, string, int) {
	path = strings.TrimRight(path, "/")
	rest, ok := strings.CutPrefix(path, routePrefix)
	if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
		return nil, "", http.StatusNotFound
	}
	rest = strings.TrimPrefix(rest, "/")

	type candidate struct {
		method string
		fn     routeFunc
	}
	var (
		candidates []candidate
		param      string
	)
	switch {
	case rest == "":
		candidates = []candidate{{http.MethodPost, h.send}}
	case rest == "inbox":
		candidates = []candidate{{http.MethodGet, h.inbox}}
	case rest == "mark-read":
		candidates = []candidate{{http.MethodPost, h.markRead}}
	case rest == "unread-count":
		candidates = []candidate{{http.MethodGet, h.unreadCount}}
	case strings.HasPrefix(rest, "conversation/"):
		param = strings.TrimPrefix(rest, "conversation/")
		if param == "" || strings.Contains(param, "/") {
			return nil, "", http.StatusNotFound
		}
		candidates = []candidate{{http.MethodGet, h.conversation}}
	case !strings.Contains(rest, "/"):
		param = rest
		candidates = []candidate{{http.MethodDelete, h.deleteMessage}}
	default:
		return nil, "", http.StatusNotFound
	}

	for _, c := range candidates {
		if strings.EqualFold(c.method, method) {
			return c.fn, param, 0
		}
	}
	return nil, "", http.StatusMethodNotAllowed
}

func (h *Handler) inbox(ctx context.Context, req request) (events.APIGatewayProxyResponse, error) {
	out, err := h.svc.Inbox(ctx, req.viewerID)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	if len(out.Unresolved) > 0 {
		req.log.Warn("inbox counterparties without a profile", "ids", out.Unresolved)
	}

	views := make([]conversationView, 0, len(out.Conversations))
	for _, c := range out.Conversations {
		views = append(views, conversationView{
			User: userView{
				ID:        c.Counterparty.ID,
				Username:  c.Counterparty.Username,
				Role:      c.Counterparty.Role,
				AvatarURL: c.Counterparty.AvatarURL,
			},
			LastMessage: toMessageView(c.LastMessage),
			UnreadCount: c.UnreadCount,
		})
	}
	resp := jsonResponse(http.StatusOK, views)
	resp.Headers[headerPollInterval] = millis(h.inboxPoll)
	return resp, nil
}

func (h *Handler) markRead(ctx context.Context, req request) (events.APIGatewayProxyResponse, error) {
	var in markReadRequest
	if err := json.Unmarshal(req.body, &in); err != nil {
		return invalidBody(), nil
	}
	n, err := h.svc.MarkRead(ctx, req.viewerID, in.ConversationUserID)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusOK, markReadResponse{Updated: n}), nil
}

func (h *Handler) unreadCount(ctx context.Context, req request) (events.APIGatewayProxyResponse, error) {
	n, err := h.svc.UnreadTotal(ctx, req.viewerID)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	resp := jsonResponse(http.StatusOK, unreadCountResponse{UnreadCount: n})
	resp.Headers[headerPollInterval] = millis(h.inboxPoll)
	return resp, nil
}

func (h *Handler) send(ctx context.Context, req request) (events.APIGatewayProxyResponse, error) {
	var in sendRequest
	if err := json.Unmarshal(req.body, &in); err != nil {
		return invalidBody(), nil
	}
	msg, err := h.svc.Send(ctx, usecase.SendInput{SenderID: req.viewerID, ReceiverID: in.ReceiverID, Content: in.Content})
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusCreated, toMessageView(msg)), nil
}

func (h *Handler) conversation(ctx context.Context, req request) (events.APIGatewayProxyResponse, error) {
	msgs, err := h.svc.Conversation(ctx, req.viewerID, req.param)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, toMessageView(m))
	}
	resp := jsonResponse(http.StatusOK, views)
	resp.Headers[headerPollInterval] = millis(h.conversationPoll)
	return resp, nil
}

func (h *Handler) deleteMessage(ctx context.Context, req request) (events.APIGatewayProxyResponse, error) {
	if err := h.svc.Delete(ctx, req.viewerID, req.param); err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent, Headers: map[string]string{}}, nil
}

func (h *Handler) errorResponse(log *slog.Logger, err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		log.Error("unexpected error", "err", err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: "internal error"})
	}

	status := statusFor(ue.Code)
	msg := ue.Reason
	switch {
	case ue.Code == usecase.ErrorStoreUnavailable:
		log.Error("store unavailable", "reason", ue.Reason, "err", ue.Err)
		msg = "messages are temporarily unavailable, please retry"
	case status >= http.StatusInternalServerError:
		log.Error("request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
		msg = "internal error"
	default:
		log.Info("request rejected", "code", ue.Code, "reason", ue.Reason)
	}
	return jsonResponse(status, errorResponse{Error: string(ue.Code), Message: msg})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotAuthenticated:
		return http.StatusUnauthorized
	case usecase.ErrorForbidden:
		return http.StatusForbidden
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toMessageView(m domain.Message) messageView {
	return messageView{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC(),
		Sender:    m.SenderID,
		Receiver:  m.ReceiverID,
		IsRead:    m.IsRead,
		ReadAt:    m.ReadAt,
	}
}

func invalidBody() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid_body"})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"internal error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func bearerFromHeaders(headers map[string]string) (string, bool) {
	return auth.BearerToken(headerValue(headers, "Authorization"))
}

// headerValue looks a header up case-insensitively; API Gateway passes
// headers through with whatever casing the client used.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
