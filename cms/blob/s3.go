package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/webkontor/sitecms/core/logger"
)

// S3Configuration contains the configuration for the AWS S3 blob store
type S3Configuration struct {
	AccessID      string
	AccessKey     string
	AWSRegion     string
	AWSBucketName string
	KeyPrefix     string
}

// S3 is the implementation of the blob Driver for AWS S3
type S3 struct {
	config      aws.Config
	bucket      string
	baseKeyName string
}

// NewS3 returns a new S3
func NewS3(blobConfig S3Configuration) (*S3, error) {
	if blobConfig.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	cfg, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(blobConfig.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(blobConfig.AccessID, blobConfig.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("S3 blob store enabled")
	return &S3{config: cfg, bucket: blobConfig.AWSBucketName, baseKeyName: blobConfig.KeyPrefix}, nil
}

// Store uploads data into a new key object
func (s *S3) Store(key string, data []byte) error {
	client := s3.NewFromConfig(s.config)

	_, err := client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file, %v", err)
	}
	return nil
}

// Open downloads the key object
func (s *S3) Open(key string) (io.ReadCloser, error) {
	client := s3.NewFromConfig(s.config)

	resp, err := client.GetObject(context.TODO(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Delete deletes the key object
func (s *S3) Delete(key string) error {
	logger.Default().Infoln("deleting", s.baseKeyName+key)
	client := s3.NewFromConfig(s.config)

	_, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	})
	if err != nil {
		logger.Default().Error("could not delete ", s.baseKeyName+key)
		return err
	}
	return nil
}
