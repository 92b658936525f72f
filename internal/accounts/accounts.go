// Package accounts exposes the minimal account lookup the core needs:
// resolving a referral email to an existing user id. Account management
// itself lives elsewhere.
package accounts

import (
	"context"
	"fmt"
	"strings"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
)

// Directory resolves emails to user ids; FindByEmail returns "" when the
// email has no account.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (string, error)
}

type Store struct {
	client awsx.DynamoDBAPI
	table  string
}

func NewStore(client awsx.DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table}
}

func (s *Store) FindByEmail(ctx context.Context, email string) (string, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.table,
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: strings.ToLower(strings.TrimSpace(email))},
		},
	})
	if err != nil {
		return "", fmt.Errorf("get account: %w", err)
	}
	if len(out.Item) == 0 {
		return "", nil
	}
	id, ok := out.Item["user_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", nil
	}
	return id.Value, nil
}
