package config

import (
	"os"
	"sync"
)

var (
	s3Once   sync.Once
	s3Config *S3Config
)

type S3Config struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Prefix     string
}

// GetS3Config 读取上传文件所用的 S3 配置
func GetS3Config() *S3Config {
	s3Once.Do(func() {
		loadEnv()

		s3Config = &S3Config{
			BucketName: os.Getenv("AWS_S3_BUCKET_NAME"),
			Region:     os.Getenv("AWS_REGION"),
			Endpoint:   os.Getenv("AWS_ENDPOINT"),
			AccessKey:  os.Getenv("AWS_ACCESS_KEY"),
			SecretKey:  os.Getenv("AWS_SECRET_KEY"),
			Prefix:     UploadPrefix,
		}
	})
	return s3Config
}
