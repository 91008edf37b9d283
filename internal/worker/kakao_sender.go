package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/db"
)

const memoSendPath = "/v2/api/talk/memo/default/send"

// TokenSource resolves a user's Kakao access token. An empty token means
// the user has no linked account.
type TokenSource interface {
	KakaoToken(ctx context.Context, userID string) (string, error)
}

// RateLimiter caps outbound API calls. Implemented by the redis sliding
// window limiter; nil disables limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, err error)
}

// KakaoConfig holds Kakao delivery settings.
type KakaoConfig struct {
	BaseURL string
	AppKey  string // empty = simulated delivery, no external calls
	Timeout time.Duration
}

// KakaoSender delivers messages through the KakaoTalk "to me" memo API
// using each recipient's own access token.
type KakaoSender struct {
	tokens  TokenSource
	limiter RateLimiter
	client  *http.Client
	baseURL string
	appKey  string
	logger  *zap.Logger
}

// NewKakaoSender creates a Kakao sender.
func NewKakaoSender(cfg KakaoConfig, tokens TokenSource, limiter RateLimiter, logger *zap.Logger) *KakaoSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://kapi.kakao.com"
	}

	return &KakaoSender{
		tokens:  tokens,
		limiter: limiter,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		appKey:  cfg.AppKey,
		logger:  logger,
	}
}

// kakaoTemplate is the text template_object of the memo send API.
type kakaoTemplate struct {
	ObjectType  string    `json:"object_type"`
	Text        string    `json:"text"`
	Link        kakaoLink `json:"link"`
	ButtonTitle string    `json:"button_title,omitempty"`
}

type kakaoLink struct {
	WebURL       string `json:"web_url,omitempty"`
	MobileWebURL string `json:"mobile_web_url,omitempty"`
}

// Send delivers one message. Users without a linked token fail with
// ErrNotLinked before any external call. Without an app key configured the
// delivery is simulated.
func (s *KakaoSender) Send(ctx context.Context, msg *db.QueuedMessage) (*SendResult, error) {
	token, err := s.tokens.KakaoToken(ctx, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve kakao token: %w", err)
	}
	if token == "" {
		return nil, ErrNotLinked
	}

	if s.appKey == "" {
		s.logger.Info("kakao delivery simulated (no app key configured)",
			zap.String("message_id", msg.ID.String()),
			zap.String("user_id", msg.UserID),
		)
		return &SendResult{Simulated: true}, nil
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "kakao:send")
		if err != nil {
			s.logger.Warn("rate limiter unavailable, proceeding", zap.Error(err))
		} else if !allowed {
			return nil, fmt.Errorf("kakao send rate limited")
		}
	}

	template := kakaoTemplate{
		ObjectType: "text",
		Text:       msg.Content,
		Link: kakaoLink{
			WebURL:       msg.ProgramURL,
			MobileWebURL: msg.ProgramURL,
		},
		ButtonTitle: "자세히 보기",
	}

	templateJSON, err := json.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("marshal kakao template: %w", err)
	}

	form := url.Values{}
	form.Set("template_object", string(templateJSON))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+memoSendPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create kakao request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kakao request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kakao returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		ResultCode int `json:"result_code"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode kakao response: %w", err)
	}
	if result.ResultCode != 0 {
		return nil, fmt.Errorf("kakao send rejected: result_code=%d", result.ResultCode)
	}

	s.logger.Info("kakao message delivered",
		zap.String("message_id", msg.ID.String()),
		zap.String("user_id", msg.UserID),
	)

	return &SendResult{}, nil
}
