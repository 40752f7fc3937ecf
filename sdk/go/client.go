package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config 运维API客户端配置
type Config struct {
	// 运维API地址，host:port
	ServerAddr string `json:"server_addr"`
	// 单次请求超时时间
	Timeout time.Duration `json:"timeout"`
	// 是否使用HTTPS
	Secure bool `json:"secure"`
}

// Client 运维API客户端
type Client struct {
	config     *Config
	httpClient *http.Client
}

// Response API响应结构
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// APIError 非预期状态码
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API请求失败: %s (状态码: %d)", e.Message, e.StatusCode)
}

// NewClient 创建运维API客户端
func NewClient(config *Config) (*Client, error) {
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("服务器地址不能为空")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// 构建API地址
func (c *Client) buildURL(path string) string {
	protocol := "http"
	if c.config.Secure {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s%s", protocol, c.config.ServerAddr, path)
}

// doRequest 发送请求并把data解析到out，accept中的状态码视为成功
func (c *Client) doRequest(ctx context.Context, method, path string, out any, accept ...int) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(respBody))
	}

	if !accepted(resp.StatusCode, accept) {
		return &apiResp, &APIError{StatusCode: resp.StatusCode, Message: apiResp.Message}
	}

	if out != nil && len(apiResp.Data) > 0 {
		if err := json.Unmarshal(apiResp.Data, out); err != nil {
			return &apiResp, fmt.Errorf("解析响应数据失败: %w", err)
		}
	}
	return &apiResp, nil
}

func accepted(code int, accept []int) bool {
	if code == http.StatusOK {
		return true
	}
	for _, c := range accept {
		if c == code {
			return true
		}
	}
	return false
}
