package events

import (
	"sync"
	"time"

	"github.com/vivica-app/Vivica/pkg/logger"
	"go.uber.org/zap"
)

// 语音会话事件类型
const (
	TypeStateChanged    = "session.state_changed"
	TypeInterimResult   = "session.interim_result"
	TypeFinalResult     = "session.final_result"
	TypeAudioLevel      = "session.audio_level"
	TypeSessionError    = "session.error"
	TypeWidgetRefreshed = "widget.refreshed"
)

// Event 系统事件
type Event struct {
	Type      string         `json:"type"`      // 事件类型，如 "session.state_changed"
	Timestamp time.Time      `json:"timestamp"` // 事件时间戳
	Data      map[string]any `json:"data"`      // 事件数据
	Source    string         `json:"source"`    // 事件来源
}

// EventHandler 事件处理器
type EventHandler func(event Event)

// Subscription 订阅句柄，用于取消单个订阅
type Subscription struct {
	eventType string
	id        uint64
}

// EventBus 事件总线
// 处理器按订阅顺序同步调用，保证订阅者观察到的事件顺序与发布顺序一致
type EventBus struct {
	handlers map[string][]subscriber
	nextID   uint64
	mu       sync.RWMutex
}

type subscriber struct {
	id      uint64
	handler EventHandler
}

// NewEventBus 创建事件总线
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[string][]subscriber),
	}
}

var globalEventBus *EventBus
var once sync.Once

// GetEventBus 获取全局事件总线实例
func GetEventBus() *EventBus {
	once.Do(func() {
		globalEventBus = NewEventBus()
	})
	return globalEventBus
}

// Subscribe 订阅事件，返回可用于取消订阅的句柄
func (bus *EventBus) Subscribe(eventType string, handler EventHandler) Subscription {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.nextID++
	sub := Subscription{eventType: eventType, id: bus.nextID}
	bus.handlers[eventType] = append(bus.handlers[eventType], subscriber{
		id:      sub.id,
		handler: handler,
	})
	logger.Debug("Event handler subscribed",
		zap.String("eventType", eventType),
		zap.Uint64("id", sub.id))
	return sub
}

// Unsubscribe 取消单个订阅，句柄无效时为空操作
func (bus *EventBus) Unsubscribe(sub Subscription) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	subs := bus.handlers[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			bus.handlers[sub.eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// HasSubscribers 检查某事件类型是否有订阅者
func (bus *EventBus) HasSubscribers(eventType string) bool {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.handlers[eventType]) > 0 || len(bus.handlers["*"]) > 0
}

// Publish 发布事件，在调用者的goroutine中按订阅顺序依次执行处理器
func (bus *EventBus) Publish(event Event) {
	// 如果没有设置时间戳，使用当前时间
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	bus.mu.RLock()
	subs := bus.handlers[event.Type]
	// 也处理通配符 "*"
	wildcard := bus.handlers["*"]
	all := make([]subscriber, 0, len(subs)+len(wildcard))
	all = append(all, subs...)
	all = append(all, wildcard...)
	bus.mu.RUnlock()

	if len(all) == 0 {
		return
	}

	for _, s := range all {
		s.handler(event)
	}
}

// PublishEvent 便捷方法：发布事件
func PublishEvent(eventType string, data map[string]any, source string) {
	GetEventBus().Publish(Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Source:    source,
	})
}
