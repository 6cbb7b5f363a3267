package synthesizer

import (
	"crypto/sha1"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Digest 计算文本摘要，用于缓存键
func Digest(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// AudioCache 合成音频的LRU缓存
type AudioCache struct {
	lru *lru.Cache[string, []byte]
}

// NewAudioCache 创建缓存，size 为最多保留的合成结果条数
func NewAudioCache(size int) (*AudioCache, error) {
	if size <= 0 {
		size = 64
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &AudioCache{lru: c}, nil
}

func (c *AudioCache) Get(key string) ([]byte, bool) {
	return c.lru.Get(key)
}

func (c *AudioCache) Store(key string, data []byte) {
	if key == "" || len(data) == 0 {
		return
	}
	c.lru.Add(key, data)
}

func (c *AudioCache) Len() int {
	return c.lru.Len()
}
