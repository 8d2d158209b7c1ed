package firestore

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type FirestoreClient struct {
	client *firestore.Client
}

// NewFirestoreClient credentialsFile が存在すればそれを使い、なければデフォルト認証で接続する
func NewFirestoreClient(ctx context.Context, projectID, credentialsFile string, logger *zap.Logger) (*FirestoreClient, error) {
	if projectID == "" {
		return nil, fmt.Errorf("FIRESTORE_PROJECT_ID環境変数が設定されていません")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		client *firestore.Client
		err    error
	)
	if credentialsFile == "" {
		credentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}

	if credentialsFile == "" {
		logger.Info("☁️ using default credentials for Firestore")
		client, err = firestore.NewClient(ctx, projectID)
	} else if _, statErr := os.Stat(credentialsFile); statErr != nil {
		logger.Warn("⚠️ credentials file not found, trying default authentication", zap.String("file", credentialsFile))
		client, err = firestore.NewClient(ctx, projectID)
	} else {
		logger.Info("📄 using credentials file", zap.String("file", credentialsFile))
		client, err = firestore.NewClient(ctx, projectID, option.WithCredentialsFile(credentialsFile))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	logger.Info("✅ Firestore client initialized", zap.String("project", projectID))
	return &FirestoreClient{client: client}, nil
}

func (fc *FirestoreClient) Close() error {
	return fc.client.Close()
}

func (fc *FirestoreClient) GetClient() *firestore.Client {
	return fc.client
}
