package repo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/LeventeLantos/postcard-messaging/internal/model"
	"github.com/LeventeLantos/postcard-messaging/internal/phone"
)

// PhoneIndex is the GSI keyed on recipientPhone (hash) and dateCreated (range).
const PhoneIndex = "recipientPhone-dateCreated-index"

// Fixed width so dateCreated sorts lexicographically in the index.
const dynamoTimeLayout = "2006-01-02T15:04:05.000000000Z"

type DynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type postcardItem struct {
	ID                string  `dynamodbav:"id"`
	RecipientPhone    string  `dynamodbav:"recipientPhone"`
	RecipientName     string  `dynamodbav:"recipientName"`
	Message           string  `dynamodbav:"message"`
	ImageReference    string  `dynamodbav:"imageReference"`
	Address           *string `dynamodbav:"address,omitempty"`
	Status            string  `dynamodbav:"status"`
	DateCreated       string  `dynamodbav:"dateCreated"`
	UpdatedAt         string  `dynamodbav:"updatedAt"`
	AddressReceivedAt string  `dynamodbav:"addressReceivedAt,omitempty"`
	LastError         *string `dynamodbav:"lastError,omitempty"`
}

type DynamoPostcardRepo struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

var _ PostcardRepository = (*DynamoPostcardRepo)(nil)

func NewDynamoPostcardRepo(client DynamoAPI, tableName string) (*DynamoPostcardRepo, error) {
	if client == nil {
		return nil, errors.New("repo: dynamodb client cannot be nil")
	}
	if tableName == "" {
		return nil, errors.New("repo: dynamodb table name cannot be empty")
	}
	return &DynamoPostcardRepo{
		client:    client,
		tableName: tableName,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *DynamoPostcardRepo) Create(ctx context.Context, p model.Postcard) (model.Postcard, error) {
	p.ID = uuid.NewString()
	p.RecipientPhone = phone.Normalize(p.RecipientPhone)
	if p.Status == "" {
		p.Status = model.Pending
	}
	p.DateCreated = r.now()
	p.UpdatedAt = p.DateCreated

	item, err := attributevalue.MarshalMap(toItem(p))
	if err != nil {
		return model.Postcard{}, fmt.Errorf("repo: marshal postcard: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return model.Postcard{}, storageErr("create postcard", err)
	}
	return p, nil
}

func (r *DynamoPostcardRepo) Get(ctx context.Context, id string) (model.Postcard, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.Postcard{}, storageErr("get postcard", err)
	}
	if len(out.Item) == 0 {
		return model.Postcard{}, ErrNotFound
	}
	return decodeItem(out.Item)
}

func (r *DynamoPostcardRepo) UpdateStatus(ctx context.Context, id string, status model.Status, fields UpdateFields) error {
	from := predecessors(status)
	if len(from) == 0 {
		return checkTransition("", status)
	}

	names := []string{}
	values := map[string]types.AttributeValue{}
	for i, s := range from {
		key := fmt.Sprintf(":from%d", i)
		names = append(names, key)
		values[key] = &types.AttributeValueMemberS{Value: s}
	}
	cond := "attribute_exists(id) AND #status IN (" + strings.Join(names, ", ") + ")"

	err := r.update(ctx, id, status, fields, cond, values)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return ErrNotFound
		}
		current, derr := decodeItem(ccf.Item)
		if derr != nil {
			return derr
		}
		return checkTransition(current.Status, status)
	}
	return err
}

func (r *DynamoPostcardRepo) UpdateStatusIf(ctx context.Context, id string, expected, status model.Status, fields UpdateFields) error {
	if err := checkTransition(expected, status); err != nil {
		return err
	}

	values := map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
	}
	err := r.update(ctx, id, status, fields, "attribute_exists(id) AND #status = :expected", values)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return err
}

func (r *DynamoPostcardRepo) update(ctx context.Context, id string, status model.Status, fields UpdateFields, cond string, values map[string]types.AttributeValue) error {
	sets := []string{"#status = :status", "updatedAt = :updatedAt"}
	values[":status"] = &types.AttributeValueMemberS{Value: string(status)}
	values[":updatedAt"] = &types.AttributeValueMemberS{Value: r.now().Format(dynamoTimeLayout)}

	if fields.Address != nil {
		sets = append(sets, "address = :address")
		values[":address"] = &types.AttributeValueMemberS{Value: *fields.Address}
	}
	if fields.AddressReceivedAt != nil {
		sets = append(sets, "addressReceivedAt = :addressReceivedAt")
		values[":addressReceivedAt"] = &types.AttributeValueMemberS{Value: fields.AddressReceivedAt.UTC().Format(dynamoTimeLayout)}
	}
	if fields.LastError != nil {
		sets = append(sets, "lastError = :lastError")
		values[":lastError"] = &types.AttributeValueMemberS{Value: *fields.LastError}
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.tableName),
		Key:                                 idKey(id),
		UpdateExpression:                    aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            map[string]string{"#status": "status"},
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return err
	}
	return storageErr("update postcard status", err)
}

// FindActiveByPhone walks the phone index newest first. The status filter is
// applied after the page limit, so pages are followed until a match shows up.
func (r *DynamoPostcardRepo) FindActiveByPhone(ctx context.Context, phone string, status model.Status) (*model.Postcard, error) {
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(r.tableName),
			IndexName:                aws.String(PhoneIndex),
			KeyConditionExpression:   aws.String("recipientPhone = :phone"),
			FilterExpression:         aws.String("#status = :status"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":phone":  &types.AttributeValueMemberS{Value: phone},
				":status": &types.AttributeValueMemberS{Value: string(status)},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, storageErr("find postcard by phone", err)
		}
		if len(out.Items) > 0 {
			p, err := decodeItem(out.Items[0])
			if err != nil {
				return nil, err
			}
			return &p, nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (r *DynamoPostcardRepo) ListByStatus(ctx context.Context, status model.Status, createdBefore time.Time, limit int) ([]model.Postcard, error) {
	if limit <= 0 {
		limit = 50
	}

	all, err := r.scan(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(r.tableName),
		FilterExpression:         aws.String("#status = :status AND dateCreated < :before"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":before": &types.AttributeValueMemberS{Value: createdBefore.UTC().Format(dynamoTimeLayout)},
		},
	})
	if err != nil {
		return nil, err
	}

	sortByCreated(all, false)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListAll defers the scan until the sequence is ranged over and rescans on
// every range. It is not streaming: DynamoDB has no table-wide order, so each
// iteration reads and sorts the whole table before yielding the first item.
func (r *DynamoPostcardRepo) ListAll(ctx context.Context, newestFirst bool) iter.Seq2[model.Postcard, error] {
	return func(yield func(model.Postcard, error) bool) {
		all, err := r.scan(ctx, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
		if err != nil {
			yield(model.Postcard{}, err)
			return
		}
		sortByCreated(all, newestFirst)
		for _, p := range all {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (r *DynamoPostcardRepo) scan(ctx context.Context, in *dynamodb.ScanInput) ([]model.Postcard, error) {
	var out []model.Postcard
	for {
		page, err := r.client.Scan(ctx, in)
		if err != nil {
			return nil, storageErr("scan postcards", err)
		}
		for _, item := range page.Items {
			p, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func toItem(p model.Postcard) postcardItem {
	item := postcardItem{
		ID:             p.ID,
		RecipientPhone: p.RecipientPhone,
		RecipientName:  p.RecipientName,
		Message:        p.Message,
		ImageReference: p.ImageReference,
		Address:        p.Address,
		Status:         string(p.Status),
		DateCreated:    p.DateCreated.UTC().Format(dynamoTimeLayout),
		UpdatedAt:      p.UpdatedAt.UTC().Format(dynamoTimeLayout),
		LastError:      p.LastError,
	}
	if p.AddressRecvAt != nil {
		item.AddressReceivedAt = p.AddressRecvAt.UTC().Format(dynamoTimeLayout)
	}
	return item
}

func decodeItem(av map[string]types.AttributeValue) (model.Postcard, error) {
	var item postcardItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return model.Postcard{}, fmt.Errorf("repo: unmarshal postcard: %w", err)
	}

	p := model.Postcard{
		ID:             item.ID,
		RecipientPhone: item.RecipientPhone,
		RecipientName:  item.RecipientName,
		Message:        item.Message,
		ImageReference: item.ImageReference,
		Address:        item.Address,
		Status:         model.Status(item.Status),
		LastError:      item.LastError,
	}
	var err error
	if p.DateCreated, err = time.Parse(dynamoTimeLayout, item.DateCreated); err != nil {
		return model.Postcard{}, fmt.Errorf("repo: parse dateCreated: %w", err)
	}
	if item.UpdatedAt != "" {
		if p.UpdatedAt, err = time.Parse(dynamoTimeLayout, item.UpdatedAt); err != nil {
			return model.Postcard{}, fmt.Errorf("repo: parse updatedAt: %w", err)
		}
	}
	if item.AddressReceivedAt != "" {
		t, err := time.Parse(dynamoTimeLayout, item.AddressReceivedAt)
		if err != nil {
			return model.Postcard{}, fmt.Errorf("repo: parse addressReceivedAt: %w", err)
		}
		p.AddressRecvAt = &t
	}
	return p, nil
}

func sortByCreated(ps []model.Postcard, newestFirst bool) {
	slices.SortStableFunc(ps, func(a, b model.Postcard) int {
		if newestFirst {
			return b.DateCreated.Compare(a.DateCreated)
		}
		return a.DateCreated.Compare(b.DateCreated)
	})
}
