package commit

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrAlreadyCommitted is returned when a sentinel already exists for the
// fragment name.
var ErrAlreadyCommitted = errors.New("commit: fragment already committed")

// DDBClient is the subset of the DynamoDB API the store needs.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDB records commit sentinels as conditional puts. S3 listings are
// eventually consistent across prefixes; a conditional write gives readers a
// single consistent view of which fragments are visible.
//
// Table schema: partition key array_uri (S), sort key fragment (S).
type DynamoDB struct {
	client    DDBClient
	tableName string
	arrayURI  string
}

// NewDynamoDB creates a DynamoDB sentinel store for one array.
func NewDynamoDB(client DDBClient, tableName, arrayURI string) *DynamoDB {
	return &DynamoDB{client: client, tableName: tableName, arrayURI: arrayURI}
}

func (d *DynamoDB) key(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"array_uri": &types.AttributeValueMemberS{Value: d.arrayURI},
		"fragment":  &types.AttributeValueMemberS{Value: name},
	}
}

func (d *DynamoDB) Commit(ctx context.Context, name string, formatVersion uint32) error {
	item := d.key(name)
	item["format_version"] = &types.AttributeValueMemberN{
		Value: fmt.Sprintf("%d", formatVersion),
	}
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(fragment)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", ErrAlreadyCommitted, name)
		}
		return err
	}
	return nil
}

func (d *DynamoDB) IsCommitted(ctx context.Context, name string, _ uint32) (bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.key(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, err
	}
	return len(out.Item) > 0, nil
}

func (d *DynamoDB) Remove(ctx context.Context, name string, _ uint32) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(name),
	})
	return err
}

// ListCommitted returns all committed fragment names for the array.
func (d *DynamoDB) ListCommitted(ctx context.Context) ([]string, error) {
	var names []string
	var startKey map[string]types.AttributeValue
	for {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("array_uri = :uri"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uri": &types.AttributeValueMemberS{Value: d.arrayURI},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			if v, ok := item["fragment"].(*types.AttributeValueMemberS); ok {
				names = append(names, v.Value)
			}
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return names, nil
}
