package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

type S3 struct {
	s3svc  *s3.Client
	bucket string
}

type S3Config struct {
	Region          string `json:"region"`
	Type            string `json:"type"`
	Bucket          string `json:"bucket,omitempty"`
	AccessKeyID     string `json:"accessKeyID,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	CustomEndpoint  string `json:"customEndpoint,omitempty"`

	// RoleARN, when set, is assumed through STS on top of the base
	// credentials.
	RoleARN     string `json:"roleArn,omitempty"`
	ExternalID  string `json:"externalID,omitempty"`
	SessionName string `json:"sessionName,omitempty"`
}

func NewS3(cfg S3Config) (*S3, error) {
	var configOpts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		configOpts = append(configOpts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
		configOpts = append(configOpts, config.WithCredentialsProvider(staticCreds))
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.RoleARN != "" {
		sessionName := cfg.SessionName
		if sessionName == "" {
			sessionName = "canaryhits"
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsConfig), cfg.RoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = sessionName
				if cfg.ExternalID != "" {
					o.ExternalID = aws.String(cfg.ExternalID)
				}
			})
		awsConfig.Credentials = aws.NewCredentialsCache(provider)
	}

	var client *s3.Client
	if cfg.CustomEndpoint != "" {
		client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.CustomEndpoint)
		})
	} else {
		client = s3.NewFromConfig(awsConfig)
	}

	return &S3{
		s3svc:  client,
		bucket: cfg.Bucket,
	}, nil
}

func (s *S3) GetObject(ctx context.Context, in GetObjectInput) (io.ReadCloser, error) {
	return getObject(ctx, s.s3svc, s.bucket, in)
}

func (s *S3) PutObject(ctx context.Context, in PutObjectInput) error {
	return putObject(ctx, s.s3svc, s.bucket, in)
}

func (s *S3) StatObject(ctx context.Context, in StatObjectInput) (bool, error) {
	return statObject(ctx, s.s3svc, s.bucket, in)
}

func getObject(ctx context.Context, svc *s3.Client, bucket string, in GetObjectInput) (io.ReadCloser, error) {
	obj, err := svc.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(in.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, in.Key)
		}
		return nil, err
	}
	return obj.Body, nil
}

// putObject uploads in one request or as a multipart upload; neither makes a
// partial object visible.
func putObject(ctx context.Context, svc *s3.Client, bucket string, in PutObjectInput) error {
	uploader := manager.NewUploader(svc, func(u *manager.Uploader) {
		// PartSize (upload buffer size) is minimum 5MB
		u.Concurrency = 5
		u.LeavePartsOnError = false
	})

	put := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(in.Key),
		Body:        in.Data,
		ContentType: aws.String("text/csv"),
	}
	if in.NoReplace {
		// conditional write, rejected with 412 if the key exists
		put.IfNoneMatch = aws.String("*")
	}
	_, err := uploader.Upload(ctx, put)
	if err != nil && in.NoReplace && isPreconditionFailed(err) {
		return fmt.Errorf("%w: %s", ErrExist, in.Key)
	}
	return err
}

func statObject(ctx context.Context, svc *s3.Client, bucket string, in StatObjectInput) (bool, error) {
	_, err := svc.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(in.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	// HeadObject has no body, so a missing key only surfaces as a bare code.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
