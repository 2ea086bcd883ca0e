package cache

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type Options struct {
	Driver    string // memory, redis or dynamodb
	RedisURL  string
	KeyPrefix string
	Table     string
	Region    string
}

// Open builds the Store selected by opts.Driver. The returned close function
// is never nil.
func Open(ctx context.Context, opts Options) (Store, func() error, error) {
	noop := func() error { return nil }

	switch opts.Driver {
	case "", "memory":
		return NewMemoryStore(), noop, nil
	case "redis":
		client, err := DialRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		return NewRedisStore(client, opts.KeyPrefix), client.Close, nil
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
		if err != nil {
			return nil, noop, fmt.Errorf("cache: load aws config: %w", err)
		}
		store, err := NewDynamoStore(dynamodb.NewFromConfig(awsCfg), opts.Table)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	default:
		return nil, noop, fmt.Errorf("cache: unknown driver %q", opts.Driver)
	}
}
