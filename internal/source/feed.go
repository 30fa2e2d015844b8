package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/model"
)

const (
	DefaultFeedTimeout  = 30 * time.Second
	DefaultMaxFeedItems = 200
	maxSummaryChars     = 4000
)

type FeedOptions struct {
	// Name overrides the article source name. The feed title is used when empty.
	Name string
	// Country is applied to items of single-country feeds.
	Country  string
	MaxItems int
	// FetchMissingSummaries fetches the linked page when an item carries no description.
	FetchMissingSummaries bool
	Timeout               time.Duration
	UserAgent             string
	HTTPClient            *http.Client
}

// FeedSource reads an RSS or Atom feed.
type FeedSource struct {
	url    string
	opts   FeedOptions
	logger zerolog.Logger
}

func NewFeedSource(feedURL string, opts FeedOptions, logger zerolog.Logger) *FeedSource {
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxFeedItems
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFeedTimeout
	}
	return &FeedSource{url: strings.TrimSpace(feedURL), opts: opts, logger: logger}
}

func (s *FeedSource) Name() string {
	return "feed:" + s.url
}

func (s *FeedSource) Articles(ctx context.Context) ([]model.Article, error) {
	if s.url == "" {
		return nil, fmt.Errorf("feed URL is required")
	}

	parser := gofeed.NewParser()
	if s.opts.HTTPClient != nil {
		parser.Client = s.opts.HTTPClient
	}
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		parser.UserAgent = ua
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	feed, err := parser.ParseURLWithContext(s.url, fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	name := strings.TrimSpace(s.opts.Name)
	if name == "" {
		name = strings.TrimSpace(feed.Title)
	}
	if name == "" {
		name = s.url
	}

	count := min(len(feed.Items), s.opts.MaxItems)
	articles := make([]model.Article, 0, count)
	for _, item := range feed.Items[:count] {
		if item == nil {
			continue
		}
		articles = append(articles, s.articleFromItem(ctx, name, item))
	}

	s.logger.Info().Str("feed", s.url).Str("source", name).Int("items", len(articles)).Msg("feed read")
	return articles, nil
}

func (s *FeedSource) articleFromItem(ctx context.Context, name string, item *gofeed.Item) model.Article {
	link := strings.TrimSpace(item.Link)
	base, err := url.Parse(link)
	if err != nil {
		base = &url.URL{}
	}

	raw := item.Description
	if strings.TrimSpace(raw) == "" {
		raw = item.Content
	}
	summary := HTMLToText(raw, base)
	if summary == "" && s.opts.FetchMissingSummaries && link != "" {
		text, err := FetchText(ctx, link, FetchOptions{UserAgent: s.opts.UserAgent, HTTPClient: s.opts.HTTPClient})
		if err != nil {
			s.logger.Debug().Err(err).Str("url", link).Msg("page text fetch failed")
		} else {
			summary = text
		}
	}
	summary, _ = TruncateText(summary, maxSummaryChars)

	var published time.Time
	switch {
	case item.PublishedParsed != nil:
		published = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		published = item.UpdatedParsed.UTC()
	}

	return model.Article{
		Source:       name,
		SourceItemID: strings.TrimSpace(item.GUID),
		URL:          link,
		Title:        CleanText(item.Title),
		Summary:      summary,
		PublishedAt:  published,
		Country:      strings.TrimSpace(s.opts.Country),
		Tags:         model.NormalizeTags(item.Categories),
	}
}
