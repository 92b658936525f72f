package stock

import (
	"context"
	"errors"
	"testing"

	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
	"github.com/mohamedayman517/mangastore-orderflow/internal/dynamomock"
)

type productRow struct {
	ProductID string `dynamodbav:"product_id"`
	Stock     int    `dynamodbav:"stock"`
}

func setup() (*Coordinator, *dynamomock.DB) {
	db := dynamomock.New()
	db.CreateTable("products", "product_id")
	db.MustSeed("products", productRow{ProductID: "p1", Stock: 5})
	db.MustSeed("products", productRow{ProductID: "p2", Stock: 1})
	return NewCoordinator("products"), db
}

func stockOf(t *testing.T, db *dynamomock.DB, id string) int {
	t.Helper()
	var row productRow
	if !db.Load("products", id, &row) {
		t.Fatalf("product %s missing", id)
	}
	return row.Stock
}

func TestDecrementAgainstLiveStock(t *testing.T) {
	coord, db := setup()
	ctx := context.Background()

	err := awsx.ExecTransact(ctx, db, coord.DecrementEntries([]Line{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	}))
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if got := stockOf(t, db, "p1"); got != 3 {
		t.Fatalf("p1 stock = %d, want 3", got)
	}
	if got := stockOf(t, db, "p2"); got != 0 {
		t.Fatalf("p2 stock = %d, want 0", got)
	}
}

func TestDecrementAbortsWholeBatch(t *testing.T) {
	coord, db := setup()
	ctx := context.Background()

	err := awsx.ExecTransact(ctx, db, coord.DecrementEntries([]Line{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 3}, // only 1 in stock
	}))
	var insufficient *InsufficientError
	if !errors.As(err, &insufficient) || insufficient.ProductID != "p2" {
		t.Fatalf("err = %v, want InsufficientError for p2", err)
	}
	// Nothing was written, including the line that would have succeeded.
	if got := stockOf(t, db, "p1"); got != 5 {
		t.Fatalf("p1 stock = %d, want 5", got)
	}
	if got := stockOf(t, db, "p2"); got != 1 {
		t.Fatalf("p2 stock = %d, want 1", got)
	}
}

func TestRestoreAddsBack(t *testing.T) {
	coord, db := setup()
	ctx := context.Background()

	if err := awsx.ExecTransact(ctx, db, coord.DecrementEntries([]Line{{ProductID: "p1", Quantity: 4}})); err != nil {
		t.Fatal(err)
	}
	if err := awsx.ExecTransact(ctx, db, coord.RestoreEntries([]Line{{ProductID: "p1", Quantity: 4}})); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := stockOf(t, db, "p1"); got != 5 {
		t.Fatalf("p1 stock = %d, want 5", got)
	}
}
