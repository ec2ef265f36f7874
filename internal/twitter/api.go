package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Account — пользователь X.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Tweet — пост X.
type Tweet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type pageMeta struct {
	ResultCount int    `json:"result_count"`
	NextToken   string `json:"next_token"`
	NewestID    string `json:"newest_id"`
}

type accountsPage struct {
	Data []Account `json:"data"`
	Meta pageMeta  `json:"meta"`
}

type tweetsPage struct {
	Data []Tweet  `json:"data"`
	Meta pageMeta `json:"meta"`
}

type singleAccount struct {
	Data *Account `json:"data"`
}

// LikingUsers возвращает ID аккаунтов, лайкнувших пост.
func (c *Client) LikingUsers(ctx context.Context, postID string) ([]string, error) {
	return c.engagers(ctx, "tweets/"+url.PathEscape(postID)+"/liking_users")
}

// RetweetedBy возвращает ID аккаунтов, сделавших репост.
func (c *Client) RetweetedBy(ctx context.Context, postID string) ([]string, error) {
	return c.engagers(ctx, "tweets/"+url.PathEscape(postID)+"/retweeted_by")
}

// engagers читает список аккаунтов с пагинацией по meta.next_token.
// Каждая страница — отдельный запрос со своей квотой и ключом кэша.
func (c *Client) engagers(ctx context.Context, endpoint string) ([]string, error) {
	var ids []string
	token := ""
	for page := 0; page < c.maxPages; page++ {
		params := url.Values{"max_results": {"100"}}
		if token != "" {
			params.Set("pagination_token", token)
		}
		raw, err := c.Get(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}
		var p accountsPage
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("ошибка разбора ответа %s: %w", endpoint, err)
		}
		for _, a := range p.Data {
			ids = append(ids, a.ID)
		}
		token = p.Meta.NextToken
		if token == "" {
			break
		}
	}
	return ids, nil
}

// UserTweets возвращает последние посты аккаунта (без ретвитов и ответов).
// sinceID — ID последнего известного поста, пустая строка — без ограничения.
func (c *Client) UserTweets(ctx context.Context, accountID, sinceID string, max int) ([]Tweet, error) {
	if max < 5 || max > 100 {
		max = 20
	}
	params := url.Values{
		"max_results":  {strconv.Itoa(max)},
		"tweet.fields": {"created_at"},
		"exclude":      {"retweets,replies"},
	}
	if sinceID != "" {
		params.Set("since_id", sinceID)
	}
	endpoint := "users/" + url.PathEscape(accountID) + "/tweets"
	raw, err := c.Get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	var p tweetsPage
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа %s: %w", endpoint, err)
	}
	return p.Data, nil
}

// UserByUsername находит аккаунт по @handle.
func (c *Client) UserByUsername(ctx context.Context, username string) (*Account, error) {
	endpoint := "users/by/username/" + url.PathEscape(username)
	raw, err := c.Get(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var s singleAccount
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа %s: %w", endpoint, err)
	}
	if s.Data == nil || s.Data.ID == "" {
		return nil, &APIError{Endpoint: endpoint, Status: 404, Body: "аккаунт не найден"}
	}
	return s.Data, nil
}

// Me возвращает аккаунт, от имени которого подписаны user-context запросы.
// Используется при старте для проверки OAuth1-ключей.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	raw, err := c.Get(ctx, EndpointMe, nil, WithUserContext())
	if err != nil {
		return nil, err
	}
	var s singleAccount
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа users/me: %w", err)
	}
	if s.Data == nil {
		return nil, fmt.Errorf("пустой ответ users/me")
	}
	return s.Data, nil
}
