package recognizer

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/vivica-app/Vivica/pkg/audio"
)

var (
	// ErrUnsupported 当前平台/配置不支持语音识别
	ErrUnsupported = errors.New("recognizer: speech recognition not supported")
	// ErrAlreadyStarted 识别器已在运行
	ErrAlreadyStarted = errors.New("recognizer: already started")
)

// Events 识别事件回调
// 回调由识别器内部goroutine调用，实现方不应在回调中阻塞
type Events struct {
	OnStart   func()
	OnInterim func(text string)
	OnFinal   func(text string, dialogID string)
	OnError   func(err error, recoverable bool)
	OnEnd     func()
}

// Recognizer 流式语音识别器
// Start 开启一轮连续识别，Stop 结束本轮；重复 Stop 是空操作
type Recognizer interface {
	Init(events Events)
	Vendor() string
	Start() error
	Stop() error
	Active() bool
	Close() error
}

// Capability 识别能力检测结果
type Capability int

const (
	CapabilityUnknown Capability = iota
	CapabilitySupported
	CapabilityUnsupported
)

func (c Capability) String() string {
	switch c {
	case CapabilitySupported:
		return "supported"
	case CapabilityUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

var (
	detectOnce   sync.Once
	detectResult Capability
)

// Detect 一次性能力检测，结果在进程生命周期内缓存
// 检查 ASR 服务地址是否可用以及本机是否有采集设备
func Detect(wsURL string) Capability {
	detectOnce.Do(func() {
		detectResult = detect(wsURL)
	})
	return detectResult
}

func detect(wsURL string) Capability {
	u, err := url.Parse(wsURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return CapabilityUnsupported
	}

	capture, err := audio.NewCapture(nil)
	if err != nil {
		return CapabilityUnsupported
	}
	capture.Close()
	return CapabilitySupported
}

// fatalKeywords 不可恢复错误的特征（额度、认证类错误重启也无法解决）
var fatalKeywords = []string{
	"quota exceeded",
	"quota exhausted",
	"insufficient quota",
	"quota limit",
	"unauthorized",
	"authentication failed",
	"invalid credentials",
	"api key invalid",
	"api key expired",
	"account suspended",
	"account disabled",
	"permission denied",
	"not-allowed",
}

// IsRecoverable 判断识别错误是否可通过重启恢复
// 网络抖动、连接断开视为可恢复，额度/认证/权限类错误不可恢复
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrUnsupported) || errors.Is(err, audio.ErrPermissionDenied) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, keyword := range fatalKeywords {
		if strings.Contains(msg, keyword) {
			return false
		}
	}
	return true
}
