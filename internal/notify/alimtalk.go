package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"dotori-monitor-backend/config"
)

// AlimtalkSender sends one kakao alimtalk message.
type AlimtalkSender interface {
	Send(ctx context.Context, msg Message) error
}

// AlimtalkClient delivers alimtalks through the solapi message API.
type AlimtalkClient struct {
	cfg    *config.AlimtalkConfig
	client *http.Client
}

// NewAlimtalkClient creates a solapi-backed alimtalk sender.
func NewAlimtalkClient(cfg *config.AlimtalkConfig) *AlimtalkClient {
	return &AlimtalkClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type alimtalkRequest struct {
	Messages []alimtalkMessage `json:"messages"`
}

type alimtalkMessage struct {
	To           string       `json:"to"`
	From         string       `json:"from"`
	KakaoOptions kakaoOptions `json:"kakaoOptions"`
}

type kakaoOptions struct {
	PfID       string            `json:"pfId"`
	TemplateID string            `json:"templateId"`
	Variables  map[string]string `json:"variables"`
}

// Send posts a single-message batch to solapi. The HMAC-SHA256 signature
// covers date+salt per the solapi auth scheme.
func (c *AlimtalkClient) Send(ctx context.Context, msg Message) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" || c.cfg.SenderKey == "" {
		return fmt.Errorf("alimtalk credentials are not configured")
	}

	body, err := json.Marshal(alimtalkRequest{
		Messages: []alimtalkMessage{{
			To:   msg.Phone,
			From: c.cfg.SenderPhone,
			KakaoOptions: kakaoOptions{
				PfID:       c.cfg.SenderKey,
				TemplateID: msg.TemplateID,
				Variables:  msg.Variables,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alimtalk request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create alimtalk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authorizationHeader())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("alimtalk request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alimtalk API returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *AlimtalkClient) authorizationHeader() string {
	date := time.Now().UTC().Format(time.RFC3339)
	salt := uuid.NewString()
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(date + salt))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("HMAC-SHA256 apiKey=%s, date=%s, salt=%s, signature=%s",
		c.cfg.APIKey, date, salt, signature)
}
