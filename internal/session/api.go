package session

import (
	"context"
	"fmt"
	"net/url"

	"termchat/internal/chat"
	"termchat/internal/user"
)

func (c *Client) GetChats(ctx context.Context) ([]chat.ChatRecord, error) {
	return c.listChats(ctx, nil)
}

// SearchChats lists the caller's chats whose name matches name.
func (c *Client) SearchChats(ctx context.Context, name string) ([]chat.ChatRecord, error) {
	return c.listChats(ctx, url.Values{"name": {name}})
}

func (c *Client) listChats(ctx context.Context, query url.Values) ([]chat.ChatRecord, error) {
	resp, err := c.Get(ctx, Request{Path: "/chats", Query: query})
	if err != nil {
		return nil, err
	}
	var list chat.ListResponse
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	return list.Chats, nil
}

func (c *Client) GetChat(ctx context.Context, id int) (chat.ChatRecord, error) {
	resp, err := c.Get(ctx, Request{Path: fmt.Sprintf("/chats/%d", id)})
	if err != nil {
		return chat.ChatRecord{}, err
	}
	var record chat.ChatRecord
	if err := resp.Decode(&record); err != nil {
		return chat.ChatRecord{}, err
	}
	return record, nil
}

func (c *Client) CreateChat(ctx context.Context, newChat chat.NewChatRecord) (chat.ChatRecord, error) {
	resp, err := c.Post(ctx, Request{Path: "/chats", Body: newChat})
	if err != nil {
		return chat.ChatRecord{}, err
	}
	var record chat.ChatRecord
	if err := resp.Decode(&record); err != nil {
		return chat.ChatRecord{}, err
	}
	if record.ID == nil {
		return chat.ChatRecord{}, dataError("created chat has no id", nil)
	}
	return record, nil
}

func (c *Client) MarkChatAsRead(ctx context.Context, id int) error {
	_, err := c.Post(ctx, Request{Path: fmt.Sprintf("/chats/%d/read", id)})
	return err
}

func (c *Client) SearchUsers(ctx context.Context, username string) ([]user.User, error) {
	resp, err := c.Get(ctx, Request{Path: "/users", Query: url.Values{"username": {username}}})
	if err != nil {
		return nil, err
	}
	var list user.ListResponse
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	return list.Users, nil
}

// BatchQueryUsers resolves user ids in one call.
func (c *Client) BatchQueryUsers(ctx context.Context, ids []string) ([]user.User, error) {
	if len(ids) == 0 {
		return []user.User{}, nil
	}
	resp, err := c.Post(ctx, Request{Path: "/users/batch-query", Body: user.BatchQuery{IDs: ids}})
	if err != nil {
		return nil, err
	}
	var list user.ListResponse
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	return list.Users, nil
}
