package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"shikkha-messages/internal/domain"
)

const (
	batchGetLimit       = 100 // DynamoDB BatchGetItem key limit
	maxBatchGetAttempts = 3
)

// ResolveProfiles looks up the directory entries for ids with as few
// BatchGetItem calls as the key limit allows. Ids without an entry are absent
// from the result; that is not an error.
func (c *Client) ResolveProfiles(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	profiles := make(map[string]domain.Profile, len(ids))
	unique := dedupe(ids)

	for start := 0; start < len(unique); start += batchGetLimit {
		end := min(start+batchGetLimit, len(unique))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range unique[start:end] {
			keys = append(keys, key(userPK(id), skProfile))
		}
		if err := c.batchGetProfiles(ctx, keys, profiles); err != nil {
			return nil, fmt.Errorf("repository: ResolveProfiles: %w", err)
		}
	}
	return profiles, nil
}

func (c *Client) batchGetProfiles(ctx context.Context, keys []map[string]types.AttributeValue, into map[string]domain.Profile) error {
	request := map[string]types.KeysAndAttributes{
		c.tableName: {Keys: keys},
	}
	for attempt := 1; ; attempt++ {
		out, err := c.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return fmt.Errorf("batch get: %w", err)
		}
		for _, item := range out.Responses[c.tableName] {
			p, err := itemToProfile(item)
			if err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			into[p.ID] = p
		}

		pending, ok := out.UnprocessedKeys[c.tableName]
		if !ok || len(pending.Keys) == 0 {
			return nil
		}
		if attempt == maxBatchGetAttempts {
			return fmt.Errorf("batch get: %d keys unprocessed after %d attempts", len(pending.Keys), attempt)
		}
		request = map[string]types.KeysAndAttributes{c.tableName: pending}
	}
}

func itemToProfile(item map[string]types.AttributeValue) (domain.Profile, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Profile{}, err
	}
	if len(pk) <= len(pkPrefixUser) || !strings.HasPrefix(pk, pkPrefixUser) {
		return domain.Profile{}, fmt.Errorf("repository: unexpected profile key %q", pk)
	}
	username, err := strAttr(item, "username")
	if err != nil {
		return domain.Profile{}, err
	}
	role, _ := strAttr(item, "role")        // allow empty
	avatar, _ := strAttr(item, "avatarUrl") // allow empty

	return domain.Profile{
		ID:        pk[len(pkPrefixUser):],
		Username:  username,
		Role:      role,
		AvatarURL: avatar,
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

