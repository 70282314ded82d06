package advisor

import (
	"context"
	"fmt"
	"time"

	"crest/internal/config"
)

// Service 生产顾问实现：OpenAI 兼容客户端 + 恐慌贪婪指数 + 响应校验。
type Service struct {
	client *ChatClient
	fng    *FearGreedService
	now    func() time.Time
}

func NewService(cfg config.AdvisorConfig) *Service {
	return &Service{
		client: NewChatClient(cfg),
		fng:    NewFearGreedService(cfg.FearGreedTTL()),
		now:    time.Now,
	}
}

// Analyze 组装提示词、调用模型并解析结论。
// 快照未带情绪数据时就地补拉，拉不到照常分析。
func (s *Service) Analyze(ctx context.Context, snap MarketSnapshot, trackScore int) (Opinion, error) {
	if snap.Sentiment == nil {
		snap.Sentiment = s.fng.Current(ctx)
	}
	user, err := buildUserPrompt(snap, trackScore, s.now())
	if err != nil {
		return Opinion{}, err
	}
	raw, err := s.client.Chat(ctx, systemPrompt, user, snap.ChartURI)
	if err != nil {
		return Opinion{}, fmt.Errorf("顾问调用失败: %w", err)
	}
	return ParseOpinion(raw)
}
