package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vivica-app/Vivica/cmd/bootstrap"
	"github.com/vivica-app/Vivica/internal/models"
	"github.com/vivica-app/Vivica/pkg/audio"
	"github.com/vivica-app/Vivica/pkg/config"
	"github.com/vivica-app/Vivica/pkg/events"
	"github.com/vivica-app/Vivica/pkg/llm"
	"github.com/vivica-app/Vivica/pkg/logger"
	"github.com/vivica-app/Vivica/pkg/orb"
	"github.com/vivica-app/Vivica/pkg/recognizer"
	"github.com/vivica-app/Vivica/pkg/synthesizer"
	"github.com/vivica-app/Vivica/pkg/voice"
	"github.com/vivica-app/Vivica/pkg/widgets"
)

// 转写记录在终端里保留的行数
const transcriptTail = 6

// VivicaApp 终端语音助手：把识别结果交给LLM，回复落库并朗读
type VivicaApp struct {
	db       *gorm.DB
	bus      *events.EventBus
	persona  *models.Persona
	convID   string
	provider llm.Provider
	speaker  *synthesizer.Speaker
	ctrl     *voice.Controller
	widgets  *widgets.Service

	// 麦克风音量快照，供orb渲染循环读取
	level atomic.Uint64

	mu         sync.Mutex
	transcript []string
}

func main() {
	// 1. Print Banner
	bootstrap.PrintBanner()

	// 2. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	textMode := flag.Bool("text", false, "type instead of talking (no microphone needed)")
	personaName := flag.String("persona", "", "persona to talk to (default: the default persona)")
	flag.Parse()

	// 3. Set Environment Variables
	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	// 4. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}

	// 5. Load Log Configuration
	err := logger.Init(&config.GlobalConfig.Log, config.GlobalConfig.Mode)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 6. Print Configuration
	bootstrap.LogConfigInfo()

	// 7. Load Data Source
	db, err := bootstrap.SetupDatabase(os.Stdout, nil)
	if err != nil {
		logger.Error("database setup failed", zap.Error(err))
		return
	}

	// 8. Select Persona and open a conversation
	persona, err := loadPersona(db, *personaName)
	if err != nil {
		logger.Error("persona not available", zap.String("persona", *personaName), zap.Error(err))
		return
	}
	conv, err := models.CreateConversation(db, persona.ID, "Session "+time.Now().Format("2006-01-02 15:04"))
	if err != nil {
		logger.Error("create conversation failed", zap.Error(err))
		return
	}

	app := &VivicaApp{
		db:      db,
		bus:     events.GetEventBus(),
		persona: persona,
		convID:  conv.ConversationID,
	}

	// 9. Start ambient widgets (weather / news)
	app.widgets = buildWidgets(app.bus)
	if app.widgets != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := app.widgets.Refresh(ctx); err != nil {
				logger.Warn("initial widget refresh failed", zap.Error(err))
			}
		}()
		if err := app.widgets.StartSchedule(config.GlobalConfig.WidgetsSchedule); err != nil {
			logger.Warn("widget schedule rejected", zap.Error(err))
		}
		defer app.widgets.Stop()
	}

	// 10. Build the LLM provider
	provider, err := llm.NewOpenAIProvider(llm.Config{
		APIKeys:    config.GlobalConfig.LLMApiKeys,
		BaseURL:    config.GlobalConfig.LLMBaseURL,
		Model:      config.GlobalConfig.LLMModel,
		MaxHistory: 40,
	}, app.composeSystemPrompt())
	if err != nil {
		logger.Error("llm provider setup failed", zap.Error(err))
		return
	}
	app.provider = provider
	defer provider.Close()

	// 组件刷新后把最新环境信息同步进系统提示词
	app.bus.Subscribe(events.TypeWidgetRefreshed, func(events.Event) {
		provider.SetSystemPrompt(app.composeSystemPrompt())
	})

	// 11. Build the speaking side (TTS synthesis + playback)
	speaker, player, err := buildSpeaker()
	if err != nil {
		logger.Warn("speech synthesis unavailable, replies will be text only", zap.Error(err))
	} else {
		app.speaker = speaker
		defer speaker.Close()
		defer player.Close()
	}

	// 12. Detect voice capability and decide the interaction mode
	capability := recognizer.Detect(config.GlobalConfig.ASRWsURL)
	useVoice := !*textMode && capability == recognizer.CapabilitySupported
	if !*textMode && !useVoice {
		fmt.Println("voice input is not available on this machine, falling back to text mode")
		logger.Warn("voice capability unavailable", zap.String("capability", capability.String()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 13. Run
	if useVoice {
		err = app.runVoice(ctx, capability)
	} else {
		err = app.runText(ctx)
	}
	if err != nil {
		logger.Error("session ended with error", zap.Error(err))
	}
}

// loadPersona 按名称查找人格，名称为空时取默认人格
func loadPersona(db *gorm.DB, name string) (*models.Persona, error) {
	if name != "" {
		return models.GetPersonaByName(db, name)
	}
	return models.GetDefaultPersona(db)
}

// buildWidgets 按配置装配环境组件，全部禁用时返回nil
func buildWidgets(bus *events.EventBus) *widgets.Service {
	cfg := config.GlobalConfig

	var weather widgets.WeatherFetcher
	if cfg.WeatherEnabled {
		weather = widgets.NewWeatherClient(widgets.WeatherConfig{
			Latitude:  cfg.WeatherLat,
			Longitude: cfg.WeatherLon,
		})
	}
	var news widgets.NewsFetcher
	if cfg.NewsEnabled && len(cfg.NewsFeeds) > 0 {
		news = widgets.NewNewsClient(cfg.NewsFeeds)
	}
	if weather == nil && news == nil {
		return nil
	}
	return widgets.NewService(weather, news, bus)
}

// buildSpeaker 装配合成服务和播放设备
func buildSpeaker() (*synthesizer.Speaker, *audio.StreamPlayer, error) {
	cfg := config.GlobalConfig

	options := map[string]any{}
	if synthesizer.Provider(cfg.TTSProvider) == synthesizer.ProviderOpenAI {
		options["api_key"] = cfg.TTSApiKey
		options["base_url"] = cfg.TTSBaseURL
	} else {
		options["command"] = synthesizer.DetectLocalTTSCommand()
	}

	svc, err := synthesizer.NewService(cfg.TTSProvider, options)
	if err != nil {
		return nil, nil, err
	}

	player, err := audio.NewStreamPlayer(1, uint32(svc.SampleRate()), malgo.FormatS16)
	if err != nil {
		svc.Close()
		return nil, nil, err
	}
	if err := player.Play(); err != nil {
		player.Close()
		svc.Close()
		return nil, nil, err
	}

	speaker, err := synthesizer.NewSpeaker(svc, player, synthesizer.SpeakerConfig{
		Voice:     cfg.TTSVoice,
		Locale:    cfg.TTSLocale,
		CacheSize: cfg.TTSCacheMax,
	})
	if err != nil {
		player.Close()
		svc.Close()
		return nil, nil, err
	}
	return speaker, player, nil
}

// composeSystemPrompt 人格提示词 + 环境信息 + 已知用户记忆
func (app *VivicaApp) composeSystemPrompt() string {
	parts := []string{app.persona.SystemPrompt}

	if app.widgets != nil {
		if summary := app.widgets.Summary(); summary != "" {
			parts = append(parts, summary)
		}
	}

	memories, err := models.ListMemories(app.db, 20)
	if err == nil && len(memories) > 0 {
		var b strings.Builder
		b.WriteString("Known facts about the user:")
		for _, m := range memories {
			fmt.Fprintf(&b, "\n- %s: %s", m.Key, m.Value)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n")
}

// runVoice 语音模式：会话控制器 + orb渲染，Ctrl-C 退出
func (app *VivicaApp) runVoice(ctx context.Context, capability recognizer.Capability) error {
	cfg := config.GlobalConfig

	rec, err := recognizer.NewVoiceapiRecognizer(
		recognizer.NewVoiceapiOption(cfg.ASRWsURL, cfg.ASRLanguage))
	if err != nil {
		return err
	}
	defer rec.Close()

	if app.speaker == nil {
		return errors.New("voice mode requires a working synthesizer")
	}

	// 音量监视器失败时降级为无音量动画
	monitor, err := audio.NewMonitor(nil, 0, func(level float64) {
		app.level.Store(math.Float64bits(level))
		app.bus.Publish(events.Event{
			Type:   events.TypeAudioLevel,
			Data:   map[string]any{"level": level},
			Source: "vivica",
		})
	})
	if err != nil {
		logger.Warn("audio level monitor unavailable", zap.Error(err))
	} else {
		defer monitor.Close()
	}

	var deps = voice.Deps{
		Recognizer: rec,
		Speaker:    app.speaker,
		Bus:        app.bus,
		Capability: capability,
	}
	if monitor != nil {
		deps.Monitor = monitor
	}
	vcfg := voice.DefaultConfig()
	vcfg.SilenceTimeout = cfg.SilenceTimeout
	vcfg.MaxRestarts = cfg.MaxRestarts
	vcfg.ErrorRetryWait = cfg.ErrorRetryWait
	ctrl := voice.NewController(vcfg, deps)
	app.ctrl = ctrl
	defer ctrl.Close()

	// 事件回调在控制器的循环里同步派发，这里只转交给工作协程
	finals := make(chan string, 8)
	subFinal := app.bus.Subscribe(events.TypeFinalResult, func(ev events.Event) {
		text, _ := ev.Data["text"].(string)
		if text == "" {
			return
		}
		select {
		case finals <- text:
		default:
			logger.Warn("utterance dropped, previous turn still running")
		}
	})
	defer app.bus.Unsubscribe(subFinal)

	subErr := app.bus.Subscribe(events.TypeSessionError, func(ev events.Event) {
		app.appendLine(fmt.Sprintf("[error] %v: %v", ev.Data["kind"], ev.Data["error"]))
	})
	defer app.bus.Unsubscribe(subErr)

	go app.renderOrb(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-finals:
				app.handleUtterance(ctx, text)
			}
		}
	}()

	if err := ctrl.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	ctrl.Stop()
	return nil
}

// runText 文字模式：从标准输入逐行读取，exit/quit 退出
func (app *VivicaApp) runText(ctx context.Context) error {
	fmt.Printf("talking to %s, type your message (exit to quit)\n", app.persona.DisplayName)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-lines:
			if !ok || text == "exit" || text == "quit" {
				return nil
			}
			if text == "" {
				continue
			}
			app.handleUtterance(ctx, text)
		}
	}
}

// handleUtterance 一轮对话：落库 -> 查询LLM -> 落库 -> 朗读
func (app *VivicaApp) handleUtterance(ctx context.Context, text string) {
	app.appendLine("you: " + text)
	if _, err := models.AppendMessage(app.db, app.convID, models.RoleUser, text); err != nil {
		logger.Warn("persist user message failed", zap.Error(err))
	}

	reply, err := app.provider.Query(ctx, text)
	if err != nil {
		if errors.Is(err, llm.ErrInterrupted) {
			return
		}
		app.appendLine("[error] " + err.Error())
		logger.Error("llm query failed", zap.Error(err))
		return
	}

	if _, err := models.AppendMessage(app.db, app.convID, models.RoleAssistant, reply); err != nil {
		logger.Warn("persist assistant message failed", zap.Error(err))
	}
	app.appendLine(app.persona.DisplayName + ": " + reply)

	switch {
	case app.ctrl != nil:
		err = app.ctrl.Speak(ctx, reply)
	case app.speaker != nil:
		err = app.speaker.Speak(ctx, reply)
	default:
		fmt.Println(reply)
	}
	if err != nil && !errors.Is(err, voice.ErrCanceled) && !errors.Is(err, voice.ErrClosed) {
		logger.Warn("speak failed", zap.Error(err))
	}
}

// renderOrb 以约20fps重绘orb和最近的对话行
func (app *VivicaApp) renderOrb(ctx context.Context) {
	renderer := orb.NewRenderer(orb.DefaultOptions())
	painter := orb.NewPainter(48, 14)
	start := time.Now()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level := math.Float64frombits(app.level.Load())
			vs := renderer.Frame(app.ctrl.State(), level, time.Since(start))
			fmt.Print("\033[H\033[2J" + painter.Paint(vs) + "\n" + app.tailTranscript() + "\n")
		}
	}
}

func (app *VivicaApp) appendLine(line string) {
	app.mu.Lock()
	app.transcript = append(app.transcript, line)
	if len(app.transcript) > transcriptTail {
		app.transcript = app.transcript[len(app.transcript)-transcriptTail:]
	}
	app.mu.Unlock()
	if app.ctrl == nil {
		fmt.Println(line)
	}
}

func (app *VivicaApp) tailTranscript() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	return strings.Join(app.transcript, "\n")
}
