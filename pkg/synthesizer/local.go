package synthesizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	wav "github.com/youpy/go-wav"
)

// LocalConfig 本地命令行TTS配置
type LocalConfig struct {
	Command    string `json:"command" yaml:"command" default:"espeak"` // TTS 命令（say, espeak）
	SampleRate int    `json:"sample_rate" yaml:"sample_rate" default:"16000"`
	Channels   int    `json:"channels" yaml:"channels" default:"1"`
	BitDepth   int    `json:"bit_depth" yaml:"bit_depth" default:"16"`
	OutputDir  string `json:"output_dir" yaml:"output_dir" default:"/tmp"`
}

// NewLocalConfig 创建本地TTS配置，command 为空时自动探测可用命令
func NewLocalConfig(command string) LocalConfig {
	if command == "" {
		command = DetectLocalTTSCommand()
	}
	return LocalConfig{
		Command:    command,
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
		OutputDir:  os.TempDir(),
	}
}

// LocalService 基于系统TTS命令的合成服务
type LocalService struct {
	opt LocalConfig
	mu  sync.Mutex // 保护 opt 的并发访问
}

// NewLocalService 创建本地TTS服务
func NewLocalService(opt LocalConfig) *LocalService {
	if opt.SampleRate == 0 {
		opt.SampleRate = 16000
	}
	if opt.Channels == 0 {
		opt.Channels = 1
	}
	if opt.BitDepth == 0 {
		opt.BitDepth = 16
	}
	if opt.OutputDir == "" {
		opt.OutputDir = os.TempDir()
	}
	return &LocalService{opt: opt}
}

func (ls *LocalService) Provider() Provider {
	return ProviderLocal
}

func (ls *LocalService) SampleRate() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.opt.SampleRate
}

func (ls *LocalService) CacheKey(voice, text string) string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return fmt.Sprintf("local.tts-%s-%s-%d-%s", ls.opt.Command, voice, ls.opt.SampleRate, Digest(text))
}

// Voices 枚举命令支持的音色列表
func (ls *LocalService) Voices(ctx context.Context) ([]Voice, error) {
	ls.mu.Lock()
	opt := ls.opt
	ls.mu.Unlock()

	cmdPath, err := exec.LookPath(opt.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: command not found: %s", ErrUnavailable, opt.Command)
	}

	switch opt.Command {
	case "espeak", "espeak-ng":
		return listEspeakVoices(ctx, cmdPath)
	case "say":
		return listSayVoices(ctx, cmdPath)
	default:
		return nil, nil
	}
}

// Synthesize 合成文本并返回PCM数据
func (ls *LocalService) Synthesize(ctx context.Context, voice, text string) ([]byte, error) {
	ls.mu.Lock()
	opt := ls.opt
	ls.mu.Unlock()

	cmdPath, err := exec.LookPath(opt.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: command not found: %s", ErrUnavailable, opt.Command)
	}

	logrus.WithFields(logrus.Fields{
		"command": cmdPath,
		"voice":   voice,
		"text":    text,
	}).Debug("local tts: starting synthesis")

	var wavData []byte
	switch opt.Command {
	case "espeak", "espeak-ng":
		wavData, err = synthesizeWithEspeak(ctx, cmdPath, voice, text)
	case "say":
		wavData, err = synthesizeWithSay(ctx, cmdPath, voice, text, opt)
	default:
		wavData, err = synthesizeGeneric(ctx, cmdPath, text)
	}
	if err != nil {
		return nil, fmt.Errorf("local tts: %w", err)
	}

	pcm, _, err := DecodeWav(wavData)
	if err != nil {
		return nil, fmt.Errorf("local tts: decode wav: %w", err)
	}
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}

	logrus.WithFields(logrus.Fields{
		"provider":  "local",
		"voice":     voice,
		"audioSize": len(pcm),
	}).Info("local tts: synthesis completed")
	return pcm, nil
}

func (ls *LocalService) Close() error {
	return nil
}

// DecodeWav 解码WAV数据，返回原始PCM和采样率
func DecodeWav(data []byte) ([]byte, int, error) {
	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return nil, 0, err
	}
	pcm, err := io.ReadAll(reader)
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	return pcm, int(format.SampleRate), nil
}

// synthesizeWithEspeak espeak --stdout 直接输出WAV
func synthesizeWithEspeak(ctx context.Context, cmdPath, voice, text string) ([]byte, error) {
	args := []string{"--stdout"}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	args = append(args, text)
	cmd := exec.CommandContext(ctx, cmdPath, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("espeak execution failed: %w", err)
	}
	return stdout.Bytes(), nil
}

// synthesizeWithSay macOS say 写临时WAV文件再读回
func synthesizeWithSay(ctx context.Context, cmdPath, voice, text string, opt LocalConfig) ([]byte, error) {
	outFile := filepath.Join(opt.OutputDir, fmt.Sprintf("vivica-tts-%d.wav", os.Getpid()))
	defer os.Remove(outFile)

	args := []string{
		"-o", outFile,
		"--file-format=WAVE",
		fmt.Sprintf("--data-format=LEI%d@%d", opt.BitDepth, opt.SampleRate),
	}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	args = append(args, text)

	cmd := exec.CommandContext(ctx, cmdPath, args...)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("say execution failed: %w", err)
	}
	return os.ReadFile(outFile)
}

// synthesizeGeneric 其他命令：假定文本作为唯一参数并输出WAV到stdout
func synthesizeGeneric(ctx context.Context, cmdPath, text string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, cmdPath, text)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("command execution failed: %w", err)
	}
	return stdout.Bytes(), nil
}

// listEspeakVoices 解析 espeak --voices 输出
// 格式: Pty Language Age/Gender VoiceName File Other
func listEspeakVoices(ctx context.Context, cmdPath string) ([]Voice, error) {
	cmd := exec.CommandContext(ctx, cmdPath, "--voices")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("espeak --voices failed: %w", err)
	}
	return ParseEspeakVoices(string(out)), nil
}

// ParseEspeakVoices 解析 espeak 音色列表文本
func ParseEspeakVoices(out string) []Voice {
	var voices []Voice
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 { // 表头
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		voices = append(voices, Voice{
			Name:    fields[3],
			Locale:  normalizeLocale(fields[1]),
			Default: fields[3] == "default",
		})
	}
	return voices
}

// listSayVoices 解析 say -v ? 输出
// 格式: Name              locale    # comment
func listSayVoices(ctx context.Context, cmdPath string) ([]Voice, error) {
	cmd := exec.CommandContext(ctx, cmdPath, "-v", "?")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("say -v ? failed: %w", err)
	}
	return ParseSayVoices(string(out)), nil
}

// ParseSayVoices 解析 say 音色列表文本
func ParseSayVoices(out string) []Voice {
	var voices []Voice
	for _, line := range strings.Split(out, "\n") {
		before, _, _ := strings.Cut(line, "#")
		fields := strings.Fields(before)
		if len(fields) < 2 {
			continue
		}
		// 音色名可能包含空格，最后一个字段是locale
		locale := fields[len(fields)-1]
		name := strings.Join(fields[:len(fields)-1], " ")
		voices = append(voices, Voice{
			Name:   name,
			Locale: normalizeLocale(locale),
		})
	}
	return voices
}

// normalizeLocale 将 en_US / en-us 统一为 en-US 形式
func normalizeLocale(locale string) string {
	locale = strings.ReplaceAll(locale, "_", "-")
	parts := strings.SplitN(locale, "-", 2)
	if len(parts) == 2 {
		return strings.ToLower(parts[0]) + "-" + strings.ToUpper(parts[1])
	}
	return strings.ToLower(locale)
}

// CheckLocalTTSAvailable 检查本地安装了哪些 TTS 工具
func CheckLocalTTSAvailable() []string {
	var available []string
	for _, cmd := range []string{"say", "espeak", "espeak-ng"} {
		if _, err := exec.LookPath(cmd); err == nil {
			available = append(available, cmd)
		}
	}
	return available
}

// DetectLocalTTSCommand 自动检测可用的本地 TTS 命令
func DetectLocalTTSCommand() string {
	available := CheckLocalTTSAvailable()
	if len(available) > 0 {
		return available[0]
	}
	return ""
}
