package voice

// SessionState 语音会话状态
type SessionState int

const (
	// StateIdle 空闲，未在聆听
	StateIdle SessionState = iota
	// StateListening 正在聆听用户语音
	StateListening
	// StateProcessing 已拿到最终识别结果，等待回复
	StateProcessing
	// StateSpeaking 正在播放合成语音
	StateSpeaking
	// StateError 发生错误，等待重试或人工干预
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind 会话错误分类
type ErrorKind int

const (
	// ErrorKindUnsupported 平台不支持语音识别
	ErrorKindUnsupported ErrorKind = iota
	// ErrorKindPermissionDenied 麦克风权限被拒绝
	ErrorKindPermissionDenied
	// ErrorKindTransient 瞬时错误（网络抖动等），可自动恢复
	ErrorKindTransient
	// ErrorKindSynthesis 合成或播放失败
	ErrorKindSynthesis
	// ErrorKindFatal 额度、认证等重启无法解决的错误，需人工干预
	ErrorKindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindUnsupported:
		return "unsupported"
	case ErrorKindPermissionDenied:
		return "permission_denied"
	case ErrorKindTransient:
		return "transient"
	case ErrorKindSynthesis:
		return "synthesis"
	case ErrorKindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SessionError 带分类的会话错误
type SessionError struct {
	Kind ErrorKind
	Err  error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
