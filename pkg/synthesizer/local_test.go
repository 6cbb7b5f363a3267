package synthesizer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wav "github.com/youpy/go-wav"
)

func TestDecodeWav(t *testing.T) {
	var buf bytes.Buffer
	writer := wav.NewWriter(&buf, 4, 1, 16000, 16)
	samples := []wav.Sample{
		{Values: [2]int{100, 0}},
		{Values: [2]int{-100, 0}},
		{Values: [2]int{32000, 0}},
		{Values: [2]int{0, 0}},
	}
	require.NoError(t, writer.WriteSamples(samples))

	pcm, rate, err := DecodeWav(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Len(t, pcm, 8) // 4 samples * 2 bytes
}

func TestDecodeWavRejectsGarbage(t *testing.T) {
	_, _, err := DecodeWav([]byte("definitely not a wav file"))
	assert.Error(t, err)
}

func TestParseEspeakVoices(t *testing.T) {
	out := `Pty Language Age/Gender VoiceName          File          Other Languages
 5  af             M  afrikaans            other/af
 5  en             M  default              default
 2  en-gb          M  english              en            (en 2)
 5  zh             M  Mandarin             other/zh
`
	voices := ParseEspeakVoices(out)
	require.Len(t, voices, 4)
	assert.Equal(t, Voice{Name: "afrikaans", Locale: "af"}, voices[0])
	assert.True(t, voices[1].Default)
	assert.Equal(t, "en-GB", voices[2].Locale)
	assert.Equal(t, "Mandarin", voices[3].Name)
}

func TestParseSayVoices(t *testing.T) {
	out := `Alex                en_US    # Most people recognize me by my voice.
Ting-Ting           zh_CN    # 您好，我叫Ting-Ting。
Good News           en_US    # Congratulations!
`
	voices := ParseSayVoices(out)
	require.Len(t, voices, 3)
	assert.Equal(t, Voice{Name: "Alex", Locale: "en-US"}, voices[0])
	assert.Equal(t, Voice{Name: "Ting-Ting", Locale: "zh-CN"}, voices[1])
	// 音色名可以包含空格
	assert.Equal(t, "Good News", voices[2].Name)
}

func TestNormalizeLocale(t *testing.T) {
	assert.Equal(t, "en-US", normalizeLocale("en_US"))
	assert.Equal(t, "en-GB", normalizeLocale("en-gb"))
	assert.Equal(t, "zh", normalizeLocale("ZH"))
}

func TestLocalCacheKeyDistinguishesVoices(t *testing.T) {
	svc := NewLocalService(NewLocalConfig("espeak"))
	a := svc.CacheKey("en", "hello")
	b := svc.CacheKey("en-us", "hello")
	c := svc.CacheKey("en", "goodbye")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAudioCache(t *testing.T) {
	cache, err := NewAudioCache(2)
	require.NoError(t, err)

	cache.Store("a", []byte{1})
	cache.Store("b", []byte{2})
	cache.Store("c", []byte{3}) // 淘汰最旧的 a

	_, ok := cache.Get("a")
	assert.False(t, ok)
	data, ok := cache.Get("c")
	assert.True(t, ok)
	assert.Equal(t, []byte{3}, data)

	// 空键和空数据不入缓存
	cache.Store("", []byte{9})
	cache.Store("d", nil)
	assert.Equal(t, 2, cache.Len())
}
