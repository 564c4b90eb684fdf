package config

import (
	"os"
	"sync"
)

var (
	minioOnce   sync.Once
	minioConfig *MinioConfig
)

type MinioConfig struct {
	AccessKey  string
	SecretKey  string
	Endpoint   string
	UseSSL     bool
	Region     string
	BucketName string
	Prefix     string
}

// GetMinioConfig 读取上传文件所用的 MinIO 配置
func GetMinioConfig() *MinioConfig {
	minioOnce.Do(func() {
		loadEnv()

		minioConfig = &MinioConfig{
			AccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey:  os.Getenv("MINIO_SECRET_KEY"),
			Endpoint:   os.Getenv("MINIO_ENDPOINT"),
			Region:     os.Getenv("MINIO_REGION"),
			BucketName: os.Getenv("MINIO_BUCKET_NAME"),
			Prefix:     UploadPrefix,
		}
		envBool("MINIO_USE_SSL", &minioConfig.UseSSL)
	})
	return minioConfig
}
