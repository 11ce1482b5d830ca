package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"shikkha-messages/internal/domain"
)

const conditionNewItem = "attribute_not_exists(PK) AND attribute_not_exists(SK)"

// messageFilter narrows a partition query. Attribute names go through
// ExpressionAttributeNames so that none of them collide with reserved words.
type messageFilter struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
}

func notDeleted() messageFilter {
	return messageFilter{
		expr:   "#deleted = :false",
		names:  map[string]string{"#deleted": "isDeleted"},
		values: map[string]types.AttributeValue{":false": &types.AttributeValueMemberBOOL{Value: false}},
	}
}

// FindMessagesInvolving returns every non-deleted message sent or received by
// userID, newest first.
func (c *Client) FindMessagesInvolving(ctx context.Context, userID string) ([]domain.Message, error) {
	msgs, err := c.queryMessages(ctx, userID, false, notDeleted())
	if err != nil {
		return nil, fmt.Errorf("repository: FindMessagesInvolving: %w", err)
	}
	return msgs, nil
}

// FindConversation returns the non-deleted messages exchanged between userID
// and counterpartyID in chronological order.
func (c *Client) FindConversation(ctx context.Context, userID, counterpartyID string) ([]domain.Message, error) {
	f := notDeleted()
	f.expr += " AND (#sender = :cp OR #receiver = :cp)"
	f.names["#sender"] = "senderId"
	f.names["#receiver"] = "receiverId"
	f.values[":cp"] = &types.AttributeValueMemberS{Value: counterpartyID}

	msgs, err := c.queryMessages(ctx, userID, true, f)
	if err != nil {
		return nil, fmt.Errorf("repository: FindConversation: %w", err)
	}
	return msgs, nil
}

// GetMessage returns the copy of messageID stored under ownerID's partition,
// or domain.ErrNotFound.
func (c *Client) GetMessage(ctx context.Context, ownerID, messageID string) (domain.Message, error) {
	msgs, err := c.queryMessages(ctx, ownerID, false, messageFilter{
		expr:   "#id = :id",
		names:  map[string]string{"#id": "id"},
		values: map[string]types.AttributeValue{":id": &types.AttributeValueMemberS{Value: messageID}},
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessage: %w", err)
	}
	if len(msgs) == 0 {
		return domain.Message{}, fmt.Errorf("repository: GetMessage %q: %w", messageID, domain.ErrNotFound)
	}
	return msgs[0], nil
}

// CreateMessage writes both participant copies of msg in one transaction.
func (c *Client) CreateMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.SenderID == "" || msg.ReceiverID == "" {
		return errors.New("repository: CreateMessage: id, sender and receiver are required")
	}
	if msg.CreatedAt.IsZero() {
		return errors.New("repository: CreateMessage: createdAt is required")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg.SenderID, msg),
					ConditionExpression: aws.String(conditionNewItem),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg.ReceiverID, msg),
					ConditionExpression: aws.String(conditionNewItem),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: CreateMessage: %w", err)
	}
	return nil
}

// BulkMarkRead marks every unread message from senderID to receiverID as read
// and returns how many changed. Each message flips under the condition
// isRead = false, so repeated or concurrent calls never count a message twice.
func (c *Client) BulkMarkRead(ctx context.Context, receiverID, senderID string, readAt time.Time) (int, error) {
	f := notDeleted()
	f.expr += " AND #read = :false AND #receiver = :me AND #sender = :cp"
	f.names["#read"] = "isRead"
	f.names["#receiver"] = "receiverId"
	f.names["#sender"] = "senderId"
	f.values[":me"] = &types.AttributeValueMemberS{Value: receiverID}
	f.values[":cp"] = &types.AttributeValueMemberS{Value: senderID}

	unread, err := c.queryMessages(ctx, receiverID, true, f)
	if err != nil {
		return 0, fmt.Errorf("repository: BulkMarkRead: %w", err)
	}

	updated := 0
	for _, m := range unread {
		ok, err := c.markRead(ctx, m, readAt)
		if err != nil {
			return updated, fmt.Errorf("repository: BulkMarkRead %q: %w", m.ID, err)
		}
		if ok {
			updated++
		}
	}
	return updated, nil
}

// MarkDeleted tombstones both copies of msg.
func (c *Client) MarkDeleted(ctx context.Context, msg domain.Message, deletedAt time.Time) error {
	sk := msgSK(msg.CreatedAt, msg.ID)
	values := map[string]types.AttributeValue{
		":true": &types.AttributeValueMemberBOOL{Value: true},
		":at":   &types.AttributeValueMemberS{Value: formatTime(deletedAt)},
	}
	update := func(owner string) types.TransactWriteItem {
		return types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 aws.String(c.tableName),
				Key:                       key(userPK(owner), sk),
				UpdateExpression:          aws.String("SET #deleted = :true, #deletedAt = :at"),
				ConditionExpression:       aws.String("attribute_exists(PK)"),
				ExpressionAttributeNames:  map[string]string{"#deleted": "isDeleted", "#deletedAt": "deletedAt"},
				ExpressionAttributeValues: values,
			},
		}
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{update(msg.SenderID), update(msg.ReceiverID)},
	})
	if err != nil {
		return fmt.Errorf("repository: MarkDeleted: %w", err)
	}
	return nil
}

// markRead flips one message on both copies. It reports false when the
// receiver's copy was already read.
func (c *Client) markRead(ctx context.Context, m domain.Message, readAt time.Time) (bool, error) {
	sk := msgSK(m.CreatedAt, m.ID)
	values := map[string]types.AttributeValue{
		":true":  &types.AttributeValueMemberBOOL{Value: true},
		":false": &types.AttributeValueMemberBOOL{Value: false},
		":at":    &types.AttributeValueMemberS{Value: formatTime(readAt)},
	}
	update := func(owner string) types.TransactWriteItem {
		return types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 aws.String(c.tableName),
				Key:                       key(userPK(owner), sk),
				UpdateExpression:          aws.String("SET #read = :true, #readAt = :at"),
				ConditionExpression:       aws.String("attribute_exists(PK) AND #read = :false"),
				ExpressionAttributeNames:  map[string]string{"#read": "isRead", "#readAt": "readAt"},
				ExpressionAttributeValues: values,
			},
		}
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{update(m.ReceiverID), update(m.SenderID)},
	})
	if err != nil {
		if conditionFailed(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// queryMessages reads every page of a user's message partition that matches
// f.
func (c *Client) queryMessages(ctx context.Context, userID string, ascending bool, f messageFilter) ([]domain.Message, error) {
	values := map[string]types.AttributeValue{
		":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
		":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
	}
	for k, v := range f.values {
		values[k] = v
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:          aws.String(f.expr),
		ExpressionAttributeNames:  f.names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(ascending),
	}

	var msgs []domain.Message
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return msgs, nil
}

// conditionFailed reports whether err is a transaction cancelled only by
// failed condition checks.
func conditionFailed(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		var ccf *types.ConditionalCheckFailedException
		return errors.As(err, &ccf)
	}
	failed := false
	for _, r := range tce.CancellationReasons {
		code := aws.ToString(r.Code)
		switch code {
		case "", "None":
		case "ConditionalCheckFailed":
			failed = true
		default:
			return false
		}
	}
	return failed
}

func messageItem(owner string, msg domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: userPK(owner)},
		"SK":         &types.AttributeValueMemberS{Value: msgSK(msg.CreatedAt, msg.ID)},
		"id":         &types.AttributeValueMemberS{Value: msg.ID},
		"senderId":   &types.AttributeValueMemberS{Value: msg.SenderID},
		"receiverId": &types.AttributeValueMemberS{Value: msg.ReceiverID},
		"content":    &types.AttributeValueMemberS{Value: msg.Content},
		"createdAt":  &types.AttributeValueMemberS{Value: formatTime(msg.CreatedAt)},
		"isRead":     &types.AttributeValueMemberBOOL{Value: msg.IsRead},
		"isDeleted":  &types.AttributeValueMemberBOOL{Value: msg.IsDeleted},
	}
	if msg.ReadAt != nil {
		item["readAt"] = &types.AttributeValueMemberS{Value: formatTime(*msg.ReadAt)}
	}
	return item
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	var (
		msg domain.Message
		err error
	)
	if msg.ID, err = strAttr(item, "id"); err != nil {
		return domain.Message{}, err
	}
	if msg.SenderID, err = strAttr(item, "senderId"); err != nil {
		return domain.Message{}, err
	}
	if msg.ReceiverID, err = strAttr(item, "receiverId"); err != nil {
		return domain.Message{}, err
	}
	if msg.Content, err = strAttr(item, "content"); err != nil {
		return domain.Message{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}
	if createdAt == nil {
		return domain.Message{}, errors.New(`repository: missing attribute "createdAt"`)
	}
	msg.CreatedAt = *createdAt
	if msg.IsRead, err = boolAttr(item, "isRead"); err != nil {
		return domain.Message{}, err
	}
	if msg.IsDeleted, err = boolAttr(item, "isDeleted"); err != nil {
		return domain.Message{}, err
	}
	if msg.ReadAt, err = timeAttr(item, "readAt"); err != nil {
		return domain.Message{}, err
	}
	if msg.DeletedAt, err = timeAttr(item, "deletedAt"); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}
