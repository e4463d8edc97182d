package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yungbote/coursestore-backend/internal/platform/envutil"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

type Client struct {
	Mongo    *mongo.Client
	Database string
	log      *logger.Logger
}

// NewFromEnv connects using MONGO_URI / MONGO_DB. It returns nil, nil when MONGO_URI is
// unset.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("mongodb: logger required")
	}
	uri := envutil.String("MONGO_URI", "", nil)
	if uri == "" {
		return nil, nil
	}
	return Connect(context.Background(), log, uri, envutil.String("MONGO_DB", "coursestore", log))
}

func Connect(ctx context.Context, log *logger.Logger, uri, database string) (*Client, error) {
	opts := options.Client().ApplyURI(uri).
		SetMaxPoolSize(uint64(envutil.Int("MONGO_MAX_POOL_SIZE", 50, log))).
		SetMinPoolSize(uint64(envutil.Int("MONGO_MIN_POOL_SIZE", 5, log))).
		SetConnectTimeout(5 * time.Second).
		SetSocketTimeout(10 * time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}

	return &Client{
		Mongo:    client,
		Database: database,
		log:      log.With("client", "MongoDB"),
	}, nil
}

func (c *Client) DB() *mongo.Database { return c.Mongo.Database(c.Database) }

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Mongo == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Mongo.Disconnect(ctx)
	c.Mongo = nil
	return err
}
