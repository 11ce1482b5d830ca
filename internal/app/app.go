// Package app wires configuration, AWS clients and the message service into
// a ready handler. Both entrypoints use it.
package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"shikkha-messages/handler"
	"shikkha-messages/internal/auth"
	"shikkha-messages/internal/config"
	"shikkha-messages/internal/integrations/paramstore"
	"shikkha-messages/internal/repository"
	"shikkha-messages/internal/usecase"
)

func NewHandler(ctx context.Context, cfg config.Config) (*handler.Handler, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}

	var dynamoOpts []func(*awsdynamodb.Options)
	if cfg.DynamoDBEndpoint != "" {
		dynamoOpts = append(dynamoOpts, func(o *awsdynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		})
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg, dynamoOpts...), cfg.TableName)
	if err != nil {
		return nil, fmt.Errorf("app: create message store: %w", err)
	}

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier, err = auth.NewVerifier(nil, cfg.ParamPrefix, auth.WithStaticSecret(cfg.JWTSecret))
	} else {
		var ssmClient *paramstore.Client
		ssmClient, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		verifier, err = auth.NewVerifier(ssmClient, cfg.ParamPrefix)
	}
	if err != nil {
		return nil, fmt.Errorf("app: create token verifier: %w", err)
	}

	svc, err := usecase.NewMessageService(store, store, cfg.MaxContentLength)
	if err != nil {
		return nil, fmt.Errorf("app: create message service: %w", err)
	}

	h, err := handler.NewHandler(svc, verifier, handler.WithPollIntervals(cfg.InboxPollInterval, cfg.ConversationPollInterval))
	if err != nil {
		return nil, fmt.Errorf("app: create handler: %w", err)
	}
	return h, nil
}
