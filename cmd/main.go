package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"orbit-chat/internal/audio"
	"orbit-chat/internal/config"
	"orbit-chat/internal/model"
	"orbit-chat/internal/service"
	"orbit-chat/internal/storage"
	"orbit-chat/internal/transport"
	"orbit-chat/pkg/logger"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle    = lipgloss.NewStyle().Faint(true)
	threadStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).PaddingLeft(4)
	helpText       = "enter send · esc cancel · /new /list /open N /thread /main /audio /delete /quit"
)

type storeUpdatedMsg struct {
	conversationID string
}

type turnDoneMsg struct {
	result *service.TurnResult
	err    error
}

type threadDoneMsg struct {
	parentID string
	info     model.ThreadInfo
	err      error
}

type chatModel struct {
	coord *service.Coordinator
	store *service.Store
	cfg   *config.Config

	convID       string
	threadParent string
	audioOn      bool
	inflight     bool
	status       string

	input  textinput.Model
	vp     viewport.Model
	spin   spinner.Model
	width  int
	height int
	ready  bool
}

func newChatModel(coord *service.Coordinator, store *service.Store, cfg *config.Config, convID string) *chatModel {
	input := textinput.New()
	input.Placeholder = "Type a message"
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &chatModel{
		coord:   coord,
		store:   store,
		cfg:     cfg,
		convID:  convID,
		audioOn: cfg.Audio.Enabled,
		input:   input,
		spin:    spin,
		status:  helpText,
	}
}

func (m *chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - 4
		}
		m.refreshTranscript()
		return m, nil

	case spinner.TickMsg:
		if !m.inflight {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case storeUpdatedMsg:
		if msg.conversationID == m.convID {
			m.refreshTranscript()
		}
		return m, nil

	case turnDoneMsg:
		m.inflight = false
		switch {
		case msg.err != nil:
			m.status = errorStyle.Render(msg.err.Error())
		case msg.result.Cancelled:
			m.status = "cancelled"
		case msg.result.Failed:
			m.status = errorStyle.Render("turn failed, see transcript")
		default:
			m.status = helpText
		}
		m.refreshTranscript()
		return m, nil

	case threadDoneMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(msg.err.Error())
			return m, nil
		}
		m.threadParent = msg.parentID
		m.status = fmt.Sprintf("in thread %s (use /main to leave)", msg.info.ThreadID)
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.coord.Cancel(m.convID)
			return m, tea.Quit
		case tea.KeyEsc:
			if m.coord.Cancel(m.convID) {
				m.status = "cancelling..."
			}
			return m, nil
		case tea.KeyEnter:
			return m.handleSubmit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		return m.handleCommand(text)
	}
	if m.inflight {
		m.status = "a reply is still streaming, esc to cancel it"
		return m, nil
	}

	m.inflight = true
	m.status = "waiting for reply"
	return m, tea.Batch(m.spin.Tick, m.sendCmd(text))
}

func (m *chatModel) handleCommand(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}

	switch fields[0] {
	case "/quit":
		m.coord.Cancel(m.convID)
		return m, tea.Quit

	case "/new":
		conv, err := m.store.CreateConversation(arg, m.audioOn)
		if err != nil {
			m.status = errorStyle.Render(err.Error())
			return m, nil
		}
		m.convID = conv.ID
		m.threadParent = ""
		m.status = "new conversation: " + conv.Title
		m.refreshTranscript()
		return m, nil

	case "/list":
		convs, err := m.store.ListConversations()
		if err != nil {
			m.status = errorStyle.Render(err.Error())
			return m, nil
		}
		var b strings.Builder
		for i, c := range convs {
			marker := "  "
			if c.ID == m.convID {
				marker = "> "
			}
			fmt.Fprintf(&b, "%s%d. %s\n", marker, i+1, c.Title)
		}
		m.vp.SetContent(b.String())
		m.status = "/open N to switch"
		return m, nil

	case "/open":
		convs, err := m.store.ListConversations()
		if err != nil {
			m.status = errorStyle.Render(err.Error())
			return m, nil
		}
		idx := 0
		if _, err := fmt.Sscanf(arg, "%d", &idx); err != nil || idx < 1 || idx > len(convs) {
			m.status = "usage: /open N"
			return m, nil
		}
		m.convID = convs[idx-1].ID
		m.threadParent = ""
		m.status = "opened " + convs[idx-1].Title
		m.refreshTranscript()
		return m, nil

	case "/audio":
		m.audioOn = !m.audioOn
		m.coord.SetAudioEnabled(m.convID, m.audioOn)
		if m.audioOn {
			m.status = "audio playback on"
		} else {
			m.status = "audio playback off"
		}
		return m, nil

	case "/thread":
		parent := m.lastThreadableMessage()
		if parent == "" {
			m.status = "no assistant reply supports threading yet"
			return m, nil
		}
		coord, convID := m.coord, m.convID
		return m, func() tea.Msg {
			info, err := coord.CreateThread(context.Background(), convID, parent)
			return threadDoneMsg{parentID: parent, info: info, err: err}
		}

	case "/main":
		m.threadParent = ""
		m.status = helpText
		m.refreshTranscript()
		return m, nil

	case "/delete":
		coord, convID := m.coord, m.convID
		if err := coord.DeleteConversation(context.Background(), convID); err != nil {
			m.status = errorStyle.Render(err.Error())
			return m, nil
		}
		conv, err := m.store.CreateConversation("", m.audioOn)
		if err != nil {
			m.status = errorStyle.Render(err.Error())
			return m, nil
		}
		m.convID = conv.ID
		m.threadParent = ""
		m.status = "conversation deleted"
		m.refreshTranscript()
		return m, nil
	}

	m.status = "unknown command " + fields[0]
	return m, nil
}

func (m *chatModel) sendCmd(text string) tea.Cmd {
	coord := m.coord
	convID := m.convID
	parent := m.threadParent
	input := service.TurnInput{
		Text:                text,
		ReturnAudio:         m.audioOn,
		TTSVoice:            m.cfg.Audio.TTSVoice,
		RecognitionLanguage: m.cfg.Audio.RecognitionLanguage,
	}
	return func() tea.Msg {
		var (
			res *service.TurnResult
			err error
		)
		if parent != "" {
			res, err = coord.SendThreadMessage(context.Background(), convID, parent, input)
		} else {
			res, err = coord.Send(context.Background(), convID, input)
		}
		return turnDoneMsg{result: res, err: err}
	}
}

// lastThreadableMessage picks the newest assistant reply the backend
// advertised threading support for.
func (m *chatModel) lastThreadableMessage() string {
	msgs, err := m.store.TopLevelMessages(m.convID)
	if err != nil {
		return ""
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant && msgs[i].SupportsThreading {
			return msgs[i].ID
		}
	}
	return ""
}

func (m *chatModel) refreshTranscript() {
	if !m.ready {
		return
	}

	msgs, err := m.store.TopLevelMessages(m.convID)
	if err != nil {
		m.vp.SetContent(errorStyle.Render(err.Error()))
		return
	}

	var b strings.Builder
	for _, msg := range msgs {
		renderMessage(&b, msg, false)
		if m.threadParent != "" && msg.ID == m.threadParent {
			threaded, err := m.store.ThreadMessages(m.convID, msg.ID)
			if err == nil {
				for _, tm := range threaded {
					renderMessage(&b, tm, true)
				}
			}
		}
	}
	m.vp.SetContent(b.String())
	m.vp.GotoBottom()
}

func renderMessage(b *strings.Builder, msg model.Message, inThread bool) {
	label := "You"
	style := userStyle
	if msg.Role == model.RoleAssistant {
		label = "Assistant"
		style = assistantStyle
	}
	if msg.Error {
		style = errorStyle
	}

	content := msg.Content
	if msg.Streaming && content == "" {
		content = "..."
	}
	line := style.Render(label+": ") + content
	if inThread {
		line = threadStyle.Render(line)
	}
	b.WriteString(line + "\n\n")
}

func (m *chatModel) View() string {
	if !m.ready {
		return "loading..."
	}

	conv, err := m.store.GetConversation(m.convID)
	title := "orbit-chat"
	if err == nil {
		title = conv.Title
		if m.threadParent != "" {
			title += " · thread"
		}
		if m.audioOn {
			title += " · audio"
		}
	}

	status := m.status
	if m.inflight {
		status = m.spin.View() + " " + status
	}

	return fmt.Sprintf(
		"%s\n%s\n%s\n%s",
		titleStyle.Render(title),
		m.vp.View(),
		statusStyle.Render(status),
		m.input.View(),
	)
}

func buildStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "disk":
		return storage.NewDiskStorage(cfg.Storage.DataDir), nil
	case "redis":
		return storage.NewRedisStorage(cfg.Storage.RedisAddr, cfg.Storage.RedisDB, cfg.Storage.RedisTTL), nil
	case "", "memory":
		return storage.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// The terminal belongs to the TUI; logs go to a file next to the
	// conversation data.
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.Storage.DataDir, "orbit-chat.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	logger.SetOutput(logFile)

	store, err := buildStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to init storage: %v", err)
	}
	if err := store.Init(); err != nil {
		log.Fatalf("Failed to init storage: %v", err)
	}
	defer store.Close()

	convStore := service.NewStore(store, cfg.Stream.FlushInterval)
	client := transport.NewClient(cfg.Server.URL, cfg.Server.APIKey, cfg.Server.RequestTimeout)
	player := audio.NewExecPlayer(cfg.Audio.PlayerCommand)
	coord := service.NewCoordinator(convStore, client, player)

	// Resume the most recent conversation or start fresh.
	convID := ""
	if convs, err := convStore.ListConversations(); err == nil && len(convs) > 0 {
		convID = convs[0].ID
	}
	if convID == "" {
		conv, err := convStore.CreateConversation("", cfg.Audio.Enabled)
		if err != nil {
			log.Fatalf("Failed to create conversation: %v", err)
		}
		convID = conv.ID
	}

	m := newChatModel(coord, convStore, cfg, convID)
	p := tea.NewProgram(m, tea.WithAltScreen())
	convStore.OnUpdate(func(conversationID string) {
		p.Send(storeUpdatedMsg{conversationID: conversationID})
	})

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "orbit-chat fatal error: %v\n", err)
		os.Exit(1)
	}
}
