package widgets

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"
)

// Headline 一条新闻标题
type Headline struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Source    string    `json:"source"`
	Published time.Time `json:"published"`
}

// NewsClient RSS 新闻客户端，可聚合多个订阅源
type NewsClient struct {
	feedURLs []string
	parser   *gofeed.Parser
}

// NewNewsClient 创建新闻客户端
func NewNewsClient(feedURLs []string) *NewsClient {
	return &NewsClient{
		feedURLs: feedURLs,
		parser:   gofeed.NewParser(),
	}
}

// Fetch 拉取并聚合全部订阅源的标题，按发布时间倒序
// 单个源失败不影响其它源，全部失败才返回错误
func (n *NewsClient) Fetch(ctx context.Context, limit int) ([]Headline, error) {
	if limit <= 0 {
		limit = 10
	}

	var headlines []Headline
	var lastErr error
	for _, url := range n.feedURLs {
		feed, err := n.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			lastErr = err
			logrus.WithFields(logrus.Fields{
				"url":   url,
				"error": err,
			}).Warn("Failed to fetch news feed")
			continue
		}
		for _, item := range feed.Items {
			h := Headline{
				Title:  item.Title,
				Link:   item.Link,
				Source: feed.Title,
			}
			if item.PublishedParsed != nil {
				h.Published = *item.PublishedParsed
			}
			headlines = append(headlines, h)
		}
	}

	if len(headlines) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("news fetch: %w", lastErr)
		}
		return nil, nil
	}

	sort.Slice(headlines, func(i, j int) bool {
		return headlines[i].Published.After(headlines[j].Published)
	})
	if len(headlines) > limit {
		headlines = headlines[:limit]
	}
	return headlines, nil
}
