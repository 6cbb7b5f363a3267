package audio

import "math"

// maxSampleValue 16-bit PCM 样本的最大绝对值
const maxSampleValue = 32768.0

// RMS 计算 16-bit little-endian PCM 音频数据的 RMS (Root Mean Square)
// 返回值范围：0 到 32768
// 正常语音的RMS通常在 500-5000 之间，静音通常在 0-100 之间
func RMS(pcmData []byte) float64 {
	if len(pcmData) < 2 {
		return 0
	}

	var sumSquares float64
	sampleCount := len(pcmData) / 2

	for i := 0; i+1 < len(pcmData); i += 2 {
		sample := int16(pcmData[i]) | int16(pcmData[i+1])<<8
		absSample := math.Abs(float64(sample))
		sumSquares += absSample * absSample
	}

	return math.Sqrt(sumSquares / float64(sampleCount))
}

// NormalizedLevel 将 PCM 数据折算为 [0,1] 区间的音量级别
func NormalizedLevel(pcmData []byte) float64 {
	return ClampLevel(RMS(pcmData) / maxSampleValue)
}

// ClampLevel 将级别限制在 [0,1] 区间，NaN 视为 0
func ClampLevel(level float64) float64 {
	if math.IsNaN(level) || level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}
