package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv 根据运行环境加载 .env 文件
// env 为空时加载 .env，否则加载 .env.<env>（例如 .env.production）
func LoadEnv(env string) error {
	filename := ".env"
	if env != "" {
		filename = fmt.Sprintf(".env.%s", env)
	}
	if _, err := os.Stat(filename); err != nil {
		return err
	}
	return godotenv.Load(filename)
}

// GetEnv 获取环境变量字符串值
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetBoolEnv 获取布尔环境变量值（"1"、"true"、"yes" 等视为 true）
func GetBoolEnv(key string) bool {
	return cast.ToBool(os.Getenv(key))
}

// GetIntEnv 获取整数环境变量值，解析失败返回 0
func GetIntEnv(key string) int64 {
	return cast.ToInt64(os.Getenv(key))
}

// GetFloatEnv 获取浮点环境变量值，解析失败返回 0
func GetFloatEnv(key string) float64 {
	return cast.ToFloat64(os.Getenv(key))
}

const randTextChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandText 生成指定长度的随机字符串
func RandText(n int) string {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(randTextChars)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			buf[i] = randTextChars[0]
			continue
		}
		buf[i] = randTextChars[idx.Int64()]
	}
	return string(buf)
}

// ComputeSampleByteCount 计算每毫秒的PCM字节数
func ComputeSampleByteCount(sampleRate, bitDepth, channels int) int {
	return sampleRate * (bitDepth / 8) * channels / 1000
}
