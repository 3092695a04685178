package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// GenerateResult 生成请求的结果
type GenerateResult struct {
	Success        bool
	RequestedCount int
	GeneratedCount int
}

// DiscountClient 折扣码服务 HTTP 客户端
type DiscountClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDiscountClient 创建客户端
func NewDiscountClient(baseURL string, timeout time.Duration) *DiscountClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DiscountClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL 服务地址
func (c *DiscountClient) BaseURL() string {
	return c.baseURL
}

// Generate 同步生成折扣码
func (c *DiscountClient) Generate(count int) (*GenerateResult, error) {
	body, err := c.post("/api/v1/codes/generate", map[string]int{"count": count})
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(body, "data")
	return &GenerateResult{
		Success:        data.Get("result").Bool(),
		RequestedCount: int(data.Get("requested_count").Int()),
		GeneratedCount: int(data.Get("generated_count").Int()),
	}, nil
}

// Redeem 兑换折扣码
func (c *DiscountClient) Redeem(code string) (bool, error) {
	body, err := c.post("/api/v1/codes/redeem", map[string]string{"code": code})
	if err != nil {
		return false, err
	}
	return gjson.GetBytes(body, "data.redeemed").Bool(), nil
}

func (c *DiscountClient) post(path string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected http status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid response body")
	}
	if code := gjson.GetBytes(body, "status_code").Int(); code != 0 {
		return nil, fmt.Errorf("server error %d: %s", code, gjson.GetBytes(body, "msg").String())
	}
	return body, nil
}
