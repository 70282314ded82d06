package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"crest/internal/logger"
)

const fearGreedEndpoint = "https://api.alternative.me/fng/?limit=1"

// FearGreedService 拉取 alternative.me 的恐慌贪婪指数并按 TTL 缓存。
// 拿不到数据时返回 nil，市场情绪缺失不阻塞顾问调用。
type FearGreedService struct {
	endpoint string
	ttl      time.Duration
	client   *http.Client
	now      func() time.Time

	mu        sync.Mutex
	cached    *FearGreed
	fetchedAt time.Time
}

func NewFearGreedService(ttl time.Duration) *FearGreedService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FearGreedService{
		endpoint: fearGreedEndpoint,
		ttl:      ttl,
		client:   &http.Client{Timeout: 5 * time.Second},
		now:      time.Now,
	}
}

// Current 返回缓存内的指数，过期则同步刷新。刷新失败返回 nil。
func (s *FearGreedService) Current(ctx context.Context) *FearGreed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		return s.cached
	}
	fg, err := s.fetch(ctx)
	if err != nil {
		logger.Warnf("获取恐慌贪婪指数失败: %v", err)
		return nil
	}
	s.cached = fg
	s.fetchedAt = s.now()
	logger.Infof("恐慌贪婪指数: %d (%s)", fg.Value, fg.Classification)
	return fg
}

type fearGreedResponse struct {
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
	} `json:"data"`
	Metadata struct {
		Error any `json:"error"`
	} `json:"metadata"`
}

func (s *FearGreedService) fetch(ctx context.Context) (*FearGreed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var payload fearGreedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload.Metadata.Error != nil {
		return nil, fmt.Errorf("api error: %v", payload.Metadata.Error)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("api data empty")
	}
	item := payload.Data[0]
	value, err := strconv.Atoi(strings.TrimSpace(item.Value))
	if err != nil {
		return nil, fmt.Errorf("api value invalid: %q", item.Value)
	}
	return &FearGreed{
		Value:          value,
		Classification: strings.TrimSpace(item.ValueClassification),
	}, nil
}
