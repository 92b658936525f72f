package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type stubTransactor struct {
	DynamoDBAPI
	err error
}

func (s *stubTransactor) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func strp(s string) *string { return &s }

func TestExecTransactSuccess(t *testing.T) {
	err := ExecTransact(context.Background(), &stubTransactor{}, []TransactEntry{
		{Item: types.TransactWriteItem{}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecTransactMapsConditionFailure(t *testing.T) {
	gateClosed := errors.New("gate closed")
	stub := &stubTransactor{err: &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: strp("None")},
			{Code: strp("ConditionalCheckFailed")},
		},
	}}

	err := ExecTransact(context.Background(), stub, []TransactEntry{
		{Item: types.TransactWriteItem{}, ConditionFail: errors.New("wrong entry")},
		{Item: types.TransactWriteItem{}, ConditionFail: gateClosed},
	})
	if !errors.Is(err, gateClosed) {
		t.Fatalf("err = %v, want the second entry's ConditionFail", err)
	}
}

func TestExecTransactWrapsOtherErrors(t *testing.T) {
	stub := &stubTransactor{err: errors.New("throttled")}
	err := ExecTransact(context.Background(), stub, []TransactEntry{{}})
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
