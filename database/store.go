package database

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/yashrajoria/webhook-service/config"
	awspkg "github.com/yashrajoria/webhook-service/pkg/aws"
	"github.com/yashrajoria/webhook-service/repository"
)

// OrderStore is the order repository selected by ORDER_STORE together with
// its schema setup and teardown.
type OrderStore struct {
	Repo repository.OrderRepository
	// Migrate prepares tables, indexes or buckets. Safe to repeat.
	Migrate func(ctx context.Context) error
	Close   func() error
}

// OpenOrderStore connects to the configured order store.
func OpenOrderStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*OrderStore, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.OrderStore {
	case config.StorePostgres:
		db, err := ConnectPostgres(ctx, cfg.PostgresDSN(), logger)
		if err != nil {
			return nil, err
		}
		repo := repository.NewGormOrderRepository(db)
		return &OrderStore{
			Repo:    repo,
			Migrate: repo.Migrate,
			Close:   func() error { return ClosePostgres(db) },
		}, nil

	case config.StoreMongo:
		client, db, err := ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB, logger)
		if err != nil {
			return nil, err
		}
		store, err := newMongoOrderStore(ctx, db, func() error { return DisconnectMongo(client) })
		if err != nil {
			_ = DisconnectMongo(client)
			return nil, err
		}
		return store, nil

	case config.StoreDynamoDB:
		awsCfg, err := awspkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		repo := repository.NewDynamoOrderRepository(dynamodb.NewFromConfig(awsCfg), cfg.DynamoOrderTable)
		// The table and its key schema are provisioned outside the service.
		return &OrderStore{Repo: repo, Migrate: noop, Close: func() error { return nil }}, nil

	case config.StoreBolt:
		repo, err := repository.NewBoltOrderRepository(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt store %s: %w", cfg.BoltPath, err)
		}
		return &OrderStore{Repo: repo, Migrate: noop, Close: repo.Close}, nil
	}
	return nil, fmt.Errorf("unknown order store %q", cfg.OrderStore)
}

// newMongoOrderStore creates the unique payment_reference index before
// returning. Without it concurrent deliveries could both insert.
func newMongoOrderStore(ctx context.Context, db *mongo.Database, closeFn func() error) (*OrderStore, error) {
	repo := repository.NewMongoOrderRepository(db)
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return &OrderStore{Repo: repo, Migrate: repo.EnsureIndexes, Close: closeFn}, nil
}
