//go:build integration

package mongo_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/taskrun/ledger"
	"github.com/xraph/taskrun/ledger/ledgertest"
	"github.com/xraph/taskrun/store/mongo"
)

func startMongo(t *testing.T) *mongod.Client {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client
}

func TestLedgerConformance(t *testing.T) {
	client := startMongo(t)
	n := 0
	ledgertest.Run(t, func(t *testing.T) ledger.Store {
		n++
		s := mongo.New(client.Database(fmt.Sprintf("taskrun_test_%d", n)))
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	})
}

func TestPingAndMigrateTwice(t *testing.T) {
	s := mongo.New(startMongo(t).Database("taskrun_test"))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate #%d: %v", i+1, err)
		}
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
