package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"echochat/internal/metrics"
	"echochat/internal/usecase"
)

const (
	ChatPath = "/echoChat"

	headerCorrelationID = "X-Correlation-Id"
	headerAuthorization = "Authorization"
	detailInvalidBody   = "invalid request body"
	detailInternal      = "internal error"
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type Handler struct {
	uc  ChatUseCase
	log *zap.SugaredLogger
}

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Reply          string `json:"reply"`
	UserMessageID  string `json:"userMessageId"`
	ReplyMessageID string `json:"replyMessageId"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func NewHandler(uc ChatUseCase, log *zap.SugaredLogger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: usecase must not be nil")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{uc: uc, log: log}, nil
}

// Handle serves POST /echoChat behind API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(header(req.Headers, headerCorrelationID))
	log := h.log.With("correlation_id", corrID)

	var status int
	var payload any
	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodPost {
		status = http.StatusMethodNotAllowed
		payload = errorResponse{Error: "METHOD_NOT_ALLOWED", Detail: "use POST"}
	} else {
		status, payload = h.chat(ctx, log, header(req.Headers, headerAuthorization), requestBody(req))
	}

	metrics.ResponseCodes.WithLabelValues(ChatPath, strconv.Itoa(status)).Inc()
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			headerCorrelationID: corrID,
		},
		Body: encode(payload),
	}, nil
}

// chat decodes the body, runs the usecase and returns the status and JSON
// payload. Both transports share it.
func (h *Handler) chat(ctx context.Context, log *zap.SugaredLogger, authorization string, body []byte) (int, any) {
	var in chatRequest
	if err := decodeRequest(body, &in); err != nil {
		log.Infow("invalid request body", "err", err)
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Detail: detailInvalidBody}
	}

	out, err := h.uc.Chat(ctx, usecase.ChatInput{Authorization: authorization, Text: in.Text})
	if err != nil {
		status, resp := mapError(err)
		if status >= http.StatusInternalServerError {
			log.Errorw("chat failed", "code", resp.Error, "err", err)
		} else {
			log.Infow("chat rejected", "code", resp.Error, "err", err)
		}
		return status, resp
	}
	return http.StatusOK, chatResponse{Reply: out.Reply, UserMessageID: out.UserMessageID, ReplyMessageID: out.ReplyMessageID}
}

// requestBody returns the raw body, undoing API Gateway's base64 encoding
// of binary payloads.
func requestBody(req events.APIGatewayProxyRequest) []byte {
	if !req.IsBase64Encoded {
		return []byte(req.Body)
	}
	b, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil
	}
	return b
}

func decodeRequest(body []byte, v *chatRequest) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Detail: detailInternal}
	}
	resp := errorResponse{Error: string(ucErr.Code), Detail: ucErr.Detail}
	switch ucErr.Code {
	case usecase.ErrorAuthMissing, usecase.ErrorAuthInvalid:
		return http.StatusUnauthorized, resp
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, resp
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"INTERNAL_ERROR","detail":"internal error"}`
	}
	return string(b)
}

// header finds a header value regardless of the key's case.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func correlationID(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return uuid.NewString()
}
