package usecase

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"echochat/internal/domain"
	"echochat/internal/integrations/sagemaker"
	"echochat/internal/repository"
)

const (
	defaultMaxText = 4000
	bearerScheme   = "bearer"

	SourceClient   = "client"
	SourceEchoChat = "echochat"

	detailAuthMissing  = "Missing Authorization: Bearer <token>"
	detailAuthInvalid  = "Invalid Firebase ID token"
	detailMissingUID   = "Token missing uid"
	detailTextRequired = "text required"
	detailTextTooLong  = "text too long"
	detailStoreMessage = "failed to store message"
	detailStoreReply   = "failed to store reply"
	detailNoEndpoint   = "inference endpoint not configured"
)

type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (domain.Identity, error)
}

type InferenceClient interface {
	Invoke(ctx context.Context, prompt string, parameters map[string]any, endpointOverride string) (string, error)
}

type ChatService struct {
	verifier   TokenVerifier
	inference  InferenceClient
	store      repository.Appender
	log        *zap.SugaredLogger
	maxTextLen int
	parameters map[string]any
}

type ChatInput struct {
	Authorization string
	Text          string
}

type ChatOutput struct {
	Reply          string
	UserMessageID  string
	ReplyMessageID string
}

type ChatOption func(*ChatService)

// WithMaxTextLength bounds the message length in characters.
func WithMaxTextLength(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxTextLen = n
		}
	}
}

// WithInferenceParameters sets the parameters sent with every inference call.
func WithInferenceParameters(params map[string]any) ChatOption {
	return func(s *ChatService) {
		s.parameters = params
	}
}

func WithLogger(log *zap.SugaredLogger) ChatOption {
	return func(s *ChatService) {
		if log != nil {
			s.log = log
		}
	}
}

func NewChatService(v TokenVerifier, inf InferenceClient, store repository.Appender, opts ...ChatOption) (*ChatService, error) {
	if v == nil {
		return nil, errors.New("usecase: token verifier must not be nil")
	}
	if inf == nil {
		return nil, errors.New("usecase: inference client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	s := &ChatService{
		verifier:   v,
		inference:  inf,
		store:      store,
		log:        zap.NewNop().Sugar(),
		maxTextLen: defaultMaxText,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Chat authenticates the caller, records the message, asks the model and
// records the reply. The user message is stored before inference and is kept
// even if inference fails.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	token, ok := extractBearer(in.Authorization)
	if !ok {
		return ChatOutput{}, newError(ErrorAuthMissing, "missing_bearer", detailAuthMissing, nil)
	}
	ident, err := s.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		s.log.Infow("token rejected", "err", err)
		return ChatOutput{}, newError(ErrorAuthInvalid, "token_rejected", detailAuthInvalid, err)
	}
	if strings.TrimSpace(ident.Subject) == "" {
		return ChatOutput{}, newError(ErrorAuthInvalid, "missing_subject", detailMissingUID, nil)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_text", detailTextRequired, nil)
	}
	if utf8.RuneCountInString(text) > s.maxTextLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "text_too_long", detailTextTooLong, nil)
	}

	userID, err := s.store.AppendMessage(ctx, domain.ChatMessage{
		Subject: ident.Subject,
		Role:    domain.RoleUser,
		Text:    text,
		Source:  SourceClient,
	})
	if err != nil {
		s.log.Errorw("store user message failed", "subject", ident.Subject, "err", err)
		return ChatOutput{}, newError(ErrorInternal, "store_message_error", detailStoreMessage, err)
	}

	reply, err := s.inference.Invoke(ctx, text, s.parameters, "")
	if err != nil {
		return ChatOutput{}, s.inferenceFailure(userID, err)
	}

	replyID, err := s.store.AppendMessage(ctx, domain.ChatMessage{
		Subject: ident.Subject,
		Role:    domain.RoleAssistant,
		Text:    reply,
		ReplyTo: userID,
		Source:  SourceEchoChat,
	})
	if err != nil {
		s.log.Errorw("store reply failed", "subject", ident.Subject, "reply_to", userID, "err", err)
		return ChatOutput{}, newError(ErrorInternal, "store_reply_error", detailStoreReply, err)
	}

	return ChatOutput{Reply: reply, UserMessageID: userID, ReplyMessageID: replyID}, nil
}

func (s *ChatService) inferenceFailure(userID string, err error) *Error {
	var cfgErr *sagemaker.ConfigurationError
	if errors.As(err, &cfgErr) {
		s.log.Errorw("inference not configured", "message_id", userID, "err", err)
		return newError(ErrorConfiguration, "inference_config_error", detailNoEndpoint, err)
	}
	s.log.Warnw("inference failed", "message_id", userID, "err", err)
	var infErr *sagemaker.InferenceError
	if errors.As(err, &infErr) {
		return newError(ErrorUpstream, "inference_error", infErr.Message, err)
	}
	return newError(ErrorUpstream, "inference_error", err.Error(), err)
}

// extractBearer returns the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func extractBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
