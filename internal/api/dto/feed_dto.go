package dto

import "encoding/json"

type GetMessagesRequest struct {
	Position int `form:"position"`
}

type AppendMessagesRequest struct {
	Messages []json.RawMessage `json:"messages" binding:"required"`
}

type MessagesResponse struct {
	FeedID      string            `json:"feed_id"`
	SubfeedHash string            `json:"subfeed_hash"`
	Position    int               `json:"position"`
	Messages    []json.RawMessage `json:"messages"`
}

type AppendMessagesResponse struct {
	FeedID      string `json:"feed_id"`
	SubfeedHash string `json:"subfeed_hash"`
	Appended    int    `json:"appended"`
}
