package memory_test

import (
	"context"
	"testing"

	"github.com/fancl20/e2ei/pkg/trust"
	"github.com/fancl20/e2ei/pkg/trust/impl/dbtest"
	"github.com/fancl20/e2ei/pkg/trust/impl/memory"
)

type testDB struct {
	trust.DB
}

func (db *testDB) Prepare(t *testing.T, ctx context.Context) {
	db.DB = memory.New()
}

func TestDB(t *testing.T) {
	dbtest.Run(t, &testDB{}, dbtest.Config{})
}
