// Package binance 基于 go-binance SDK 实现 exchange.Exchange（USDⓈ-M 合约）。
package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"crest/internal/gateway/exchange"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

// Client 实现 exchange.Exchange。
type Client struct {
	cfg    Config
	client *futures.Client

	limitsMu sync.RWMutex
	limits   map[string]exchange.Limits
}

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Client{
		cfg:    final,
		client: client,
		limits: make(map[string]exchange.Limits),
	}, nil
}

func (c *Client) Name() string { return "binance" }

// classify 将 SDK 错误映射为带 Kind 的 exchange.Error。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return exchange.Wrap(op, kindForCode(apiErr.Code), err)
	}
	if errors.Is(err, context.Canceled) {
		return exchange.Wrap(op, exchange.KindUnclassified, err)
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return exchange.Wrap(op, exchange.KindTransient, err)
	}
	return exchange.Wrap(op, exchange.KindUnclassified, err)
}

// kindForCode 按币安错误码归类。未列出的码一律视为不可重试。
func kindForCode(code int64) exchange.Kind {
	switch code {
	case -1000, -1001, -1003, -1007, -1016, -1021:
		// 服务端内部错误、限频、超时与时间戳漂移都值得重试。
		return exchange.KindTransient
	case -1022, -2014, -2015:
		return exchange.KindAuth
	case -2018, -2019:
		return exchange.KindInsufficientFunds
	case -2011, -2013:
		return exchange.KindNotFound
	case -1013, -1102, -1106, -1111, -2022, -4003, -4061, -4164:
		return exchange.KindInvalidRequest
	}
	return exchange.KindUnclassified
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
