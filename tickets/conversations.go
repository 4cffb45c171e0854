package tickets

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// conversationKeys are the parts of a conversation kept in the conversations column.
var conversationKeys = []string{"body_text", "id", "updated_at", "from_email"}

// FetchConversations returns the ticket's conversations reduced to
// conversationKeys, as a JSON array string.
func (c *Client) FetchConversations(ctx context.Context, ticketID int64) (string, error) {
	resp, err := c.Get(ctx, fmt.Sprintf("/api/v2/tickets/%d/conversations", ticketID), url.Values{})
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(resp.Body) {
		return "", &PayloadShapeError{Index: -1, Reason: fmt.Sprintf("conversations for ticket %d are not valid JSON", ticketID)}
	}
	conversations := gjson.ParseBytes(resp.Body)
	if !conversations.IsArray() {
		return "", &PayloadShapeError{Index: -1, Reason: fmt.Sprintf("conversations for ticket %d are not an array", ticketID)}
	}

	result := "[]"
	for i, conversation := range conversations.Array() {
		reduced := "{}"
		for _, key := range conversationKeys {
			value := conversation.Get(key)
			raw := "null"
			if value.Exists() {
				raw = value.Raw
			}
			reduced, err = sjson.SetRaw(reduced, key, raw)
			if err != nil {
				return "", fmt.Errorf("failed to reduce conversation %d of ticket %d %w", i, ticketID, err)
			}
		}
		// -1 appends to the array
		result, err = sjson.SetRaw(result, "-1", reduced)
		if err != nil {
			return "", fmt.Errorf("failed to append conversation %d of ticket %d %w", i, ticketID, err)
		}
	}
	return result, nil
}

// conversationsOrEmpty applies the recipe's policy: a rejected request leaves
// the ticket with no conversations, anything else stops the run.
func (p *Pipeline) conversationsOrEmpty(ctx context.Context, ticketID int64) (string, error) {
	conversations, err := p.client.FetchConversations(ctx, ticketID)
	if err == nil {
		return conversations, nil
	}
	var rejected *RequestRejectedError
	var shape *PayloadShapeError
	if errors.As(err, &rejected) || errors.As(err, &shape) {
		p.logger.Error("error retrieving conversations", "ticket", ticketID, "error", err)
		return "[]", nil
	}
	return "", err
}
