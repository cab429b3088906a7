package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yashrajoria/webhook-service/config"
	awspkg "github.com/yashrajoria/webhook-service/pkg/aws"
	"github.com/yashrajoria/webhook-service/services"
)

// awsLoader loads the shared AWS config at most once per process.
type awsLoader func() (sdkaws.Config, error)

func newAWSLoader(ctx context.Context) awsLoader {
	return sync.OnceValues(func() (sdkaws.Config, error) {
		return awspkg.LoadAWSConfig(ctx)
	})
}

// logSink returns the CloudWatch Logs writer when log shipping is enabled.
// Failures are reported on stderr since the logger does not exist yet.
func logSink(ctx context.Context, cfg *config.Config, loadAWS awsLoader) io.Writer {
	if !cfg.CloudWatchEnabled || cfg.CloudWatchLogGroup == "" {
		return nil
	}
	awsCfg, err := loadAWS()
	if err != nil {
		fmt.Fprintln(os.Stderr, "CloudWatch logs disabled:", err)
		return nil
	}
	sink, err := awspkg.NewCloudWatchLogsClient(ctx, cloudwatchlogs.NewFromConfig(awsCfg), cfg.CloudWatchLogGroup, serviceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "CloudWatch logs disabled:", err)
		return nil
	}
	return sink
}

// metricsClient returns nil when CloudWatch metrics are disabled.
func metricsClient(cfg *config.Config, loadAWS awsLoader, logger *zap.Logger) *awspkg.MetricsClient {
	if !cfg.CloudWatchEnabled {
		return nil
	}
	awsCfg, err := loadAWS()
	if err != nil {
		logger.Warn("CloudWatch metrics client init failed (non-fatal)", zap.Error(err))
		return nil
	}
	return awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, true)
}

// buildNotifier assembles the configured invalidation channels. The returned
// closers release their connections at shutdown.
func buildNotifier(ctx context.Context, cfg *config.Config, loadAWS awsLoader, logger *zap.Logger) (services.Notifier, []func() error, error) {
	var (
		notifiers services.MultiNotifier
		closers   []func() error
	)

	for _, name := range cfg.Notifiers {
		switch name {
		case "log":
			notifiers = append(notifiers, services.NewLogNotifier(logger))

		case "redis":
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
			})
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if err := client.Ping(pingCtx).Err(); err != nil {
				logger.Warn("Redis unreachable at startup, invalidations will be retried per event", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			}
			cancel()
			notifiers = append(notifiers, services.NewRedisNotifier(client, cfg.CacheInvalidationChannel))
			closers = append(closers, client.Close)

		case "sns":
			awsCfg, err := loadAWS()
			if err != nil {
				return nil, closers, fmt.Errorf("sns notifier: %w", err)
			}
			notifiers = append(notifiers, services.NewSNSNotifier(awspkg.NewSNSClient(awsCfg), cfg.CacheInvalidationTopicARN))

		case "kafka":
			kn := services.NewKafkaNotifier(services.NewKafkaWriter(cfg.KafkaBrokers, cfg.CacheInvalidationKafkaTopic))
			notifiers = append(notifiers, kn)
			closers = append(closers, kn.Close)

		default:
			return nil, closers, fmt.Errorf("unknown notifier %q", name)
		}
	}

	switch len(notifiers) {
	case 0:
		return services.NewLogNotifier(logger), closers, nil
	case 1:
		return notifiers[0], closers, nil
	}
	return notifiers, closers, nil
}
